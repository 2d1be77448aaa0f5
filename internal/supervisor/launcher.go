package supervisor

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Command describes how to launch the recording process.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is the complete child environment. Nil inherits the parent's.
	Env []string
}

// Process is a running child as seen by the supervisor.
type Process interface {
	Pid() int
	// Output is the merged stdout and stderr stream. It reaches EOF once every
	// holder of the write end has exited.
	Output() io.ReadCloser
	// Terminate asks the process to exit.
	Terminate() error
	// Kill ends the process without giving it a chance to clean up.
	Kill() error
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 means killed by a signal.
	ExitCode() int
}

// Launcher starts processes.
type Launcher interface {
	Launch(c Command) (Process, error)
}

// ExecLauncher launches real operating system processes.
type ExecLauncher struct{}

func (ExecLauncher) Launch(c Command) (Process, error) {
	if c.Path == "" {
		return nil, errors.New("empty executable path")
	}
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// the child holds its own copy of the write end
	_ = pw.Close()

	p := &execProcess{cmd: cmd, out: pr, done: make(chan struct{}), exitCode: -1}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	out  *os.File
	done chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) wait() {
	_ = p.cmd.Wait()
	p.mu.Lock()
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Output() io.ReadCloser { return p.out }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *execProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Terminate and Kill address the whole process group, which can outlive the
// leader while a member still holds the output pipe.
func (p *execProcess) Terminate() error { return terminateProcess(p) }

func (p *execProcess) Kill() error { return killProcess(p) }
