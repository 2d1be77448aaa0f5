// Package loop implements the control context of recpanel: a single consumer
// that executes posted tasks one at a time, in the order they were posted.
//
// Every piece of supervisor and UI state is owned by whichever goroutine is
// draining the loop (normally the one inside Run). Other goroutines never
// touch that state directly; they hand work over with Post or Call.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrClosed is returned by Call when the loop has been closed.
var ErrClosed = errors.New("control loop closed")

type Loop struct {
	clock clockwork.Clock

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a loop. A nil clock means the real wall clock.
func New(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Clock returns the clock used for WaitFor timeouts.
func (l *Loop) Clock() clockwork.Clock { return l.clock }

// Post enqueues fn without blocking. It reports false if the loop is closed
// and fn will never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and blocks until it has returned. It must not be
// used from a task already running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// RunPending executes queued tasks until the queue is empty, including tasks
// posted while it runs. It returns the number of tasks executed.
//
// Tasks are popped one at a time so that a task which itself waits on the
// loop (see WaitFor) continues from the head of the queue and never lets a
// later task overtake an earlier one.
func (l *Loop) RunPending() int {
	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	if len(l.queue) == 0 {
		l.queue = nil
	}
	return fn, true
}

// Run drains the loop until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// WaitFor keeps executing queued tasks until ready is closed or timeout
// elapses. It reports whether ready was closed. When it returns true every
// task posted before ready was closed has been executed.
//
// This is the only way control code may wait: a blocking sleep would starve
// the tasks (relayed log lines, requests) that are queued behind it.
func (l *Loop) WaitFor(ready <-chan struct{}, timeout time.Duration) bool {
	expired := l.clock.After(timeout)
	for {
		l.RunPending()
		select {
		case <-ready:
			l.RunPending()
			return true
		case <-expired:
			return false
		case <-l.done:
			return false
		case <-l.wake:
		}
	}
}

// Close stops Run and rejects further posts. Queued tasks are dropped.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed once Close has been called.
func (l *Loop) Done() <-chan struct{} { return l.done }
