//go:build windows

package process

import (
	stderrors "errors"
	"os"
	"os/exec"
	"syscall"
)

func configureCmd(cmd *exec.Cmd) {}

// signalTree terminates the child. Windows has no process groups for
// console children, so any signal becomes TerminateProcess.
func signalTree(p *os.Process, _ syscall.Signal) error {
	err := p.Kill()
	if stderrors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitStatus(state *os.ProcessState) (int, string) {
	if state == nil {
		return -1, ""
	}
	return state.ExitCode(), ""
}
