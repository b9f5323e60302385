//go:build !windows

package process

import (
	stderrors "errors"
	"os"
	"syscall"
)

// signalTree signals the child's process group, falling back to the
// child alone when the group is already gone.
func signalTree(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if err == nil {
		return nil
	}
	if err == syscall.ESRCH {
		err = p.Signal(sig)
		if err == nil || stderrors.Is(err, os.ErrProcessDone) {
			return nil
		}
	}
	return err
}

// exitStatus maps a reaped state to an exit code. Signal deaths report
// 128 plus the signal number.
func exitStatus(state *os.ProcessState) (int, string) {
	if state == nil {
		return -1, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), ws.Signal().String()
	}
	return state.ExitCode(), ""
}
