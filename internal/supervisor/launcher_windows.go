//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// terminateProcess calls TerminateProcess with exit code 1. Windows has no
// portable graceful signal for a console child in another process group.
// A reaped leader is skipped since its PID may already belong to someone else.
func terminateProcess(ep *execProcess) error {
	if ep.exited() {
		return nil
	}
	p := ep.cmd.Process
	ret, _, _ := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(uint32(p.Pid)))
	if ret == 0 {
		// already gone
		return nil
	}
	handle := syscall.Handle(ret)
	defer func() { _, _, _ = procCloseHandle.Call(uintptr(handle)) }()

	ok, _, err := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ok == 0 {
		return err
	}
	return nil
}

func killProcess(ep *execProcess) error {
	if ep.exited() {
		return nil
	}
	err := ep.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
