package process

import (
	"os/exec"
	"syscall"
)

// configureCmd places the child in its own process group so a signal
// reaches everything it spawned, and has the kernel SIGKILL it if the
// server dies without sweeping.
func configureCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}
