package recpanel

import (
	"context"
	"net/http"

	"github.com/loykin/recpanel/internal/app"
	"github.com/loykin/recpanel/internal/config"
	"github.com/loykin/recpanel/internal/history"
	"github.com/loykin/recpanel/internal/metrics"
	"github.com/loykin/recpanel/internal/server"
	"github.com/loykin/recpanel/internal/status"
	"github.com/loykin/recpanel/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Options = app.Options

type Status = status.Status

type Snapshot = supervisor.Snapshot

type LogLine = supervisor.LogLine

type StopResult = supervisor.StopResult

type Launcher = supervisor.Launcher

type Command = supervisor.Command

type Process = supervisor.Process

type HistoryEvent = history.Event

type HistorySink = history.Sink

const (
	Idle     = status.Idle
	Running  = status.Running
	Stopping = status.Stopping
)

var (
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
	ErrStopInProgress = supervisor.ErrStopInProgress
	ErrSpawnFailure   = supervisor.ErrSpawnFailure
)

// Panel is a thin facade over internal/app.App.
// It provides a stable public API for embedding.
type Panel struct{ inner *app.App }

// LoadConfig reads a TOML config file; an empty path yields the defaults.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func New(cfg *Config, opts Options) (*Panel, error) {
	a, err := app.New(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Panel{inner: a}, nil
}

// Run blocks until the user quits or ctx is cancelled.
func (p *Panel) Run(ctx context.Context) error { return p.inner.Run(ctx) }

// Start, Stop, Snapshot and Logs execute on the panel's control loop, so they
// only complete while Run is active.
func (p *Panel) Start(ctx context.Context) (int, error) { return p.inner.Controller().Start(ctx) }
func (p *Panel) Stop(ctx context.Context) (StopResult, error) {
	return p.inner.Controller().Stop(ctx)
}
func (p *Panel) Snapshot(ctx context.Context) (Snapshot, error) {
	return p.inner.Controller().Snapshot(ctx)
}
func (p *Panel) Logs(ctx context.Context, n int) ([]LogLine, error) {
	return p.inner.Controller().Logs(ctx, n)
}

// Handler returns the control API (status, start, stop, logs) mounted at
// basePath, for embedding into an existing gin, echo or net/http server.
func (p *Panel) Handler(basePath string) http.Handler {
	r := server.NewRouter(p.inner.Controller(), basePath)
	if reg := p.inner.Registry(); reg != nil {
		r.WithMetrics(metrics.HandlerFor(reg))
	}
	return r.Handler()
}

// MetricsHandler serves the panel's metrics; nil when metrics are disabled.
func (p *Panel) MetricsHandler() http.Handler {
	reg := p.inner.Registry()
	if reg == nil {
		return nil
	}
	return metrics.HandlerFor(reg)
}

// Subscribe registers fn for status changes. It must be called before Run.
func (p *Panel) Subscribe(fn func(Status)) { p.inner.Publisher().Subscribe(fn) }

// Status returns the last published status. Safe from any goroutine.
func (p *Panel) Status() Status { return p.inner.Publisher().Current() }
