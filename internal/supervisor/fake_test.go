package supervisor

import (
	"errors"
	"io"
	"sync"
)

type fakeProcess struct {
	pid  int
	r    *io.PipeReader
	w    *io.PipeWriter
	done chan struct{}

	exitOnTerminate bool
	// holdOutput keeps the stream open after exit, like a surviving group member
	holdOutput bool

	mu         sync.Mutex
	terminates int
	kills      int
	code       int
	once       sync.Once
}

func newFakeProcess(pid int, exitOnTerminate bool) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, r: r, w: w, done: make(chan struct{}), exitOnTerminate: exitOnTerminate}
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Output() io.ReadCloser { return p.r }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProcess) write(s string) {
	_, _ = p.w.Write([]byte(s))
}

// exit closes the output stream and marks the process dead.
func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		if !p.holdOutput {
			_ = p.w.Close()
		}
		close(p.done)
	})
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminates++
	p.mu.Unlock()
	if p.exitOnTerminate {
		p.exit(0)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.exit(-1)
	_ = p.w.Close()
	return nil
}

func (p *fakeProcess) counts() (terminates, kills int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminates, p.kills
}

type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	commands []Command
	next     func() *fakeProcess
	err      error
}

func (l *fakeLauncher) Launch(c Command) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, c)
	if l.err != nil {
		return nil, l.err
	}
	var p *fakeProcess
	if l.next != nil {
		p = l.next()
	} else {
		p = newFakeProcess(1000+len(l.procs), true)
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.commands)
}

var errNoSuchFile = errors.New("no such file or directory")
