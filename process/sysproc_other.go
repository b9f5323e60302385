//go:build !windows && !linux

package process

import (
	"os/exec"
	"syscall"
)

// configureCmd places the child in its own process group so a signal
// reaches everything it spawned.
func configureCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
