// Package status holds the recorder lifecycle state and fans out changes to
// subscribers (status label, status bar, tray, metrics).
package status

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Status is the lifecycle state of the supervised recorder.
type Status int32

const (
	Idle Status = iota
	Running
	Stopping
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Parse converts a status name back into a Status.
func Parse(name string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "idle":
		return Idle, nil
	case "running":
		return Running, nil
	case "stopping":
		return Stopping, nil
	}
	return Idle, fmt.Errorf("unknown status %q", name)
}

// Subscriber receives every published status.
type Subscriber func(Status)

// Publisher keeps the authoritative status. Publish is called by the
// supervisor on the control loop; subscribers run synchronously there, in
// registration order. Current may be read from any goroutine.
type Publisher struct {
	current atomic.Int32

	mu   sync.Mutex
	subs []Subscriber
}

func NewPublisher() *Publisher { return &Publisher{} }

// Subscribe registers fn. Registering the same callback twice notifies it twice.
func (p *Publisher) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	p.mu.Unlock()
}

// Publish stores s and notifies all subscribers. Consecutive duplicates are
// not suppressed.
func (p *Publisher) Publish(s Status) {
	p.current.Store(int32(s))
	p.mu.Lock()
	subs := make([]Subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Current returns the last published status.
func (p *Publisher) Current() Status { return Status(p.current.Load()) }
