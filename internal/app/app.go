// Package app wires the recording control panel together: one control loop,
// the status publisher, the supervisor, the console view, the tray bridge and
// the optional history, metrics and HTTP surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/loykin/recpanel/internal/config"
	"github.com/loykin/recpanel/internal/console"
	"github.com/loykin/recpanel/internal/history"
	"github.com/loykin/recpanel/internal/history/factory"
	"github.com/loykin/recpanel/internal/loop"
	"github.com/loykin/recpanel/internal/metrics"
	"github.com/loykin/recpanel/internal/server"
	"github.com/loykin/recpanel/internal/status"
	"github.com/loykin/recpanel/internal/supervisor"
	"github.com/loykin/recpanel/internal/tray"
)

const shutdownTimeout = 5 * time.Second

// Options adjust how New builds the application. Zero values select the
// production implementations.
type Options struct {
	In     io.Reader
	Out    io.Writer
	Logger *slog.Logger
	Clock  clockwork.Clock
	// Launcher replaces the exec based launcher.
	Launcher supervisor.Launcher
	// TrayFactory creates the tray icon. Nil selects the headless icon
	// printing into the console.
	TrayFactory tray.Factory
	// Autostart starts a recording as soon as Run begins.
	Autostart bool
	// HandleSignals turns SIGINT and SIGTERM into close requests.
	HandleSignals bool
}

type App struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	loop       *loop.Loop
	publisher  *status.Publisher
	sup        *supervisor.Supervisor
	sink       supervisor.LogSink
	win        *console.Window
	panel      *console.Panel
	tray       *tray.Bridge
	history    *history.Recorder
	sampler    *metrics.Sampler
	registry   *prometheus.Registry
	transcript io.WriteCloser
	servers    []*http.Server

	// loop owned
	stopping    bool
	quitting    bool
	inputClosed bool
}

// New builds the application from cfg. Nothing is started until Run.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	a := &App{
		cfg:       cfg,
		opts:      opts,
		logger:    opts.Logger,
		loop:      loop.New(opts.Clock),
		publisher: status.NewPublisher(),
	}
	a.win = console.NewWindow(opts.Out, console.Options{
		Color:      config.ColorEnabled(cfg.Console.Color, opts.Out),
		Timestamps: cfg.Console.Timestamps,
		MaxLines:   cfg.Console.MaxLines,
	})
	a.panel = console.NewPanel(a.win)

	name := cfg.Recorder.Name
	if name == "" {
		name = supervisor.DefaultName
	}
	_, transcript, err := cfg.LoggerConfig(nil).Writers(name)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	a.transcript = transcript
	sinks := []supervisor.LogSink{a.win.AppendLine}
	if transcript != nil {
		sinks = append(sinks, func(l supervisor.LogLine) {
			_, _ = io.WriteString(transcript, l.String()+"\n")
		})
	}
	a.sink = supervisor.FanOut(sinks...)

	if cfg.History.Enabled {
		hs, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			// history is an export; the panel still works without it
			a.logger.Warn("History disabled", "error", err)
		} else {
			a.history = history.NewRecorder(hs, a.logger)
		}
	}

	a.sampler = metrics.NewSampler(name, cfg.Metrics.SampleInterval, a.logger)
	if cfg.Metrics.Enabled || cfg.HTTP.Enabled {
		if err := a.initRegistry(); err != nil {
			a.closeResources()
			return nil, err
		}
	}

	supOpts := []supervisor.Option{
		supervisor.WithLogger(a.logger),
		supervisor.WithName(name),
		supervisor.WithGracePeriod(cfg.Recorder.GracePeriod),
		supervisor.WithFlushTimeout(cfg.Recorder.FlushTimeout),
		supervisor.WithOutputEncoding(cfg.Recorder.OutputEncoding),
		supervisor.WithPIDFile(cfg.Recorder.PIDFile),
	}
	if a.history != nil {
		supOpts = append(supOpts, supervisor.WithHistory(a.history))
	}
	if opts.Launcher != nil {
		supOpts = append(supOpts, supervisor.WithLauncher(opts.Launcher))
	}
	a.sup = supervisor.New(a.loop, a.publisher, a.sink, supOpts...)

	a.publisher.Subscribe(a.win.SetStatus)
	a.publisher.Subscribe(a.onStatus)
	a.registerCommands()
	return a, nil
}

func (a *App) initRegistry() error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}
	if err := metrics.Register(reg); err != nil {
		return err
	}
	if err := a.sampler.RegisterMetrics(reg); err != nil {
		return err
	}
	a.registry = reg
	return nil
}

// Loop returns the control loop. Work touching application state must be
// posted to it.
func (a *App) Loop() *loop.Loop { return a.loop }

// Supervisor returns the recorder supervisor. Loop owned.
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Publisher returns the status publisher.
func (a *App) Publisher() *status.Publisher { return a.publisher }

// Window returns the console view. Loop owned.
func (a *App) Window() *console.Window { return a.win }

// Tray returns the tray bridge; nil when running without a tray.
func (a *App) Tray() *tray.Bridge { return a.tray }

// Registry returns the metrics registry; nil when metrics are off.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Run starts the tray, servers and input reader, then drains the control loop
// until the user quits or ctx is cancelled. The recording, if any, is stopped
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.cfg.Tray.Enabled {
		a.startTray(ctx)
	}
	a.publisher.Subscribe(a.tray.StatusNotifier())
	a.onStatus(a.publisher.Current())

	a.startServers()
	if a.cfg.Metrics.Enabled {
		a.sampler.Start(ctx)
	}
	if a.opts.HandleSignals {
		go a.watchSignals(ctx)
	}
	go a.panel.ReadInput(ctx, a.opts.In, a.loop, a.onInputClosed)

	a.win.Notice(fmt.Sprintf("%s ready, type help for commands", a.title()))
	a.checkPreviousRun()
	if a.opts.Autostart {
		a.loop.Post(func() { a.startCommand(nil) })
	}

	err := a.loop.Run(ctx)
	a.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) title() string {
	if a.cfg.Tray.Title != "" {
		return a.cfg.Tray.Title
	}
	return "recpanel"
}

func (a *App) startTray(ctx context.Context) {
	f := a.opts.TrayFactory
	if f == nil {
		f = tray.HeadlessFactory(a.win.Writer())
	}
	b, err := tray.Start(ctx, f, tray.Options{
		Title:  a.title(),
		Notify: a.cfg.Tray.Notify,
		OnShow: func() { a.loop.Post(a.win.Show) },
		OnHide: func() { a.loop.Post(a.win.Hide) },
		OnQuit: func() { a.loop.Post(a.RequestQuit) },
	}, a.logger)
	if err != nil {
		a.logger.Warn("Running without tray", "error", err)
		return
	}
	a.tray = b
}

func (a *App) startServers() {
	if a.cfg.HTTP.Enabled {
		r := server.NewRouter(controller{a}, a.cfg.HTTP.BasePath)
		if a.cfg.Metrics.Enabled && a.registry != nil {
			r.WithMetrics(metrics.HandlerFor(a.registry))
		}
		a.servers = append(a.servers, server.NewServer(a.cfg.HTTP.Listen, r.Handler()))
		a.logger.Info("HTTP API listening", "addr", a.cfg.HTTP.Listen, "base", a.cfg.HTTP.BasePath)
	}
	if a.cfg.Metrics.Enabled && a.registry != nil && !(a.cfg.HTTP.Enabled && a.cfg.Metrics.Listen == a.cfg.HTTP.Listen) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HandlerFor(a.registry))
		a.servers = append(a.servers, server.NewServer(a.cfg.Metrics.Listen, mux))
		a.logger.Info("Metrics listening", "addr", a.cfg.Metrics.Listen)
	}
}

// onStatus keeps the sampler and the status bar in line with the recorder.
func (a *App) onStatus(st status.Status) {
	snap := a.sup.Snapshot()
	switch st {
	case status.Running:
		a.sampler.SetPID(snap.PID)
	case status.Idle:
		a.sampler.SetPID(0)
	}
	a.refreshStatusBar(st, snap.PID)
}

func (a *App) refreshStatusBar(st status.Status, pid int) {
	bar := console.StatusBar{Status: st, PID: pid, Tray: a.tray.Running()}
	if s, ok := a.sampler.Latest(); ok && s.PID == pid {
		bar.MemoryMB = s.MemoryMB()
	}
	a.win.SetStatusBar(bar.String())
}

// emitError reports a failure in the log view the way the supervisor does.
func (a *App) emitError(text string) {
	a.sink(supervisor.LogLine{Time: a.loop.Clock().Now(), Text: text, Severity: supervisor.SeverityError})
}

// checkPreviousRun looks at the PID file left by an earlier session. A live
// recorder is reported; a stale file is removed.
func (a *App) checkPreviousRun() {
	path := a.cfg.Recorder.PIDFile
	pid, alive, err := supervisor.CheckPIDFile(path)
	switch {
	case err != nil:
		a.logger.Warn("Unreadable PID file", "path", path, "error", err)
	case alive:
		a.emitError(fmt.Sprintf("a recorder from a previous session is still running (PID: %d)", pid))
	case pid > 0:
		a.logger.Info("Removing stale PID file", "path", path, "pid", pid)
		supervisor.RemovePIDFile(path)
	}
}

func (a *App) onInputClosed() {
	a.inputClosed = true
	a.logger.Debug("Console input closed")
}

// shutdown releases everything Run started. It runs on the goroutine that
// drained the loop, so it may still drive the supervisor.
func (a *App) shutdown() {
	if a.sup.Running() {
		if _, err := a.sup.Stop(); err != nil {
			a.logger.Warn("Stopping recording on shutdown failed", "error", err)
		}
	}
	a.tray.Stop()
	a.sampler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range a.servers {
		if err := s.Shutdown(ctx); err != nil {
			a.logger.Warn("Server shutdown failed", "addr", s.Addr, "error", err)
		}
	}
	a.servers = nil
	a.loop.Close()
	a.closeResources()
}

func (a *App) closeResources() {
	if err := a.history.Close(); err != nil {
		a.logger.Warn("Closing history failed", "error", err)
	}
	a.history = nil
	if a.transcript != nil {
		_ = a.transcript.Close()
		a.transcript = nil
	}
}
