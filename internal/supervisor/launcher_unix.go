//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in a new process group so that
// signals reach the interpreter and everything it spawned.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup signals the group led by p. ESRCH means every member is gone.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func terminateProcess(p *execProcess) error { return signalGroup(p.cmd.Process, syscall.SIGTERM) }

func killProcess(p *execProcess) error { return signalGroup(p.cmd.Process, syscall.SIGKILL) }
