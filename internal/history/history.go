package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of recorder lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"
	EventStop         EventType = "stop" // graceful stop requested by the user
	EventKill         EventType = "kill" // stop escalated to a forced kill
	EventExit         EventType = "exit" // recorder ended without a stop request
	EventSpawnFailure EventType = "spawn_failure"
)

// Record describes one recorder run as known at the time of the event.
type Record struct {
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Executable string    `json:"executable"`
	WorkDir    string    `json:"work_dir"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Default Recorder settings.
const (
	DefaultQueueSize   = 64
	DefaultSendTimeout = 5 * time.Second
)

// Recorder forwards events to a Sink from its own goroutine so that callers
// on the control loop never wait for a database. When the queue is full new
// events are dropped and logged.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sink:    sink,
		logger:  logger,
		timeout: DefaultSendTimeout,
		events:  make(chan Event, DefaultQueueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues e for delivery.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	select {
	case r.events <- e:
	default:
		r.logger.Warn("history queue full, dropping event", "type", e.Type, "pid", e.Record.PID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.logger.Warn("history send failed", "type", e.Type, "error", err)
		}
		cancel()
	}
}

// Close delivers the queued events, then closes the sink if it is an io.Closer.
// Record must not be called after Close.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.closeOnce.Do(func() {
		close(r.events)
		<-r.done
		if c, ok := r.sink.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
