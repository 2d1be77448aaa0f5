package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/recpanel/internal/config"
	"github.com/loykin/recpanel/internal/history"
	"github.com/loykin/recpanel/internal/history/sqlite"
	"github.com/loykin/recpanel/internal/loop"
	"github.com/loykin/recpanel/internal/server"
	"github.com/loykin/recpanel/internal/status"
	"github.com/loykin/recpanel/internal/supervisor"
	"github.com/loykin/recpanel/internal/tray"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type stubProcess struct {
	pid  int
	r    *io.PipeReader
	w    *io.PipeWriter
	done chan struct{}
	once sync.Once

	mu         sync.Mutex
	terminated bool
}

func (p *stubProcess) Pid() int              { return p.pid }
func (p *stubProcess) Output() io.ReadCloser { return p.r }
func (p *stubProcess) Done() <-chan struct{} { return p.done }
func (p *stubProcess) ExitCode() int         { return 0 }

func (p *stubProcess) exit() {
	p.once.Do(func() {
		_ = p.w.Close()
		close(p.done)
	})
}

func (p *stubProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.exit()
	return nil
}

func (p *stubProcess) Kill() error {
	p.exit()
	return nil
}

func (p *stubProcess) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type stubLauncher struct {
	mu    sync.Mutex
	procs []*stubProcess
	cmds  []supervisor.Command
}

func (l *stubLauncher) Launch(c supervisor.Command) (supervisor.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, w := io.Pipe()
	p := &stubProcess{pid: 4000 + len(l.procs), r: r, w: w, done: make(chan struct{})}
	l.procs = append(l.procs, p)
	l.cmds = append(l.cmds, c)
	return p, nil
}

func (l *stubLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cmds)
}

func (l *stubLauncher) last() *stubProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.procs) == 0 {
		return nil
	}
	return l.procs[len(l.procs)-1]
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Recorder.Name = "rec"
	cfg.Recorder.Script = "/opt/rec/record"
	cfg.Recorder.Args = []string{"--out", "take1"}
	cfg.Recorder.WorkDir = t.TempDir()
	cfg.Recorder.Env = []string{"TAKE=1"}
	cfg.Console.Color = "never"
	cfg.Tray.Title = "recpanel"
	cfg.Tray.Notify = true
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, in io.Reader) (*App, *stubLauncher, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	l := &stubLauncher{}
	if in == nil {
		in = strings.NewReader("")
	}
	a, err := New(cfg, Options{In: in, Out: out, Launcher: l})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.closeResources)
	return a, l, out
}

// drain runs loop tasks on the test goroutine until cond holds.
func drain(t *testing.T, a *App, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		if a.loop.RunPending() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestStartStopCommands(t *testing.T) {
	a, l, out := newTestApp(t, testConfig(t), nil)

	a.panel.HandleLine("start")
	if st := a.publisher.Current(); st != status.Running {
		t.Fatalf("expected running, got %v", st)
	}
	if !strings.Contains(a.win.StatusBar(), "status: running (PID: 4000)") {
		t.Fatalf("status bar: %q", a.win.StatusBar())
	}
	cmd := l.cmds[0]
	if cmd.Path != "/opt/rec/record" || len(cmd.Args) != 2 || cmd.Args[1] != "take1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	found := false
	for _, kv := range cmd.Env {
		if kv == "TAKE=1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("env not passed: %v", cmd.Env)
	}

	a.panel.HandleLine("start")
	if !strings.Contains(out.String(), "recording is already running") {
		t.Fatalf("expected already running notice, got:\n%s", out.String())
	}

	a.panel.HandleLine("stop")
	if st := a.publisher.Current(); st != status.Idle {
		t.Fatalf("expected idle, got %v", st)
	}
	if !l.last().wasTerminated() {
		t.Fatal("process was not terminated")
	}
	text := out.String()
	for _, want := range []string{"recording started at", "recording stopped gracefully", "● status: not running"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in output:\n%s", want, text)
		}
	}
	if a.win.StatusBar() != "status: not running | tray: not started" {
		t.Fatalf("status bar: %q", a.win.StatusBar())
	}

	a.panel.HandleLine("stop")
	if !strings.Contains(out.String(), "no recording is running") {
		t.Fatal("expected not running notice")
	}
}

func TestRelayedLinesReachWindow(t *testing.T) {
	a, l, _ := newTestApp(t, testConfig(t), nil)
	if _, err := a.StartRecording(); err != nil {
		t.Fatalf("start: %v", err)
	}
	p := l.last()
	go func() { _, _ = p.w.Write([]byte("\x1b[32mframe 1\x1b[0m\n")) }()
	drain(t, a, func() bool { return len(a.win.Lines(0)) >= 2 })
	lines := a.win.Lines(0)
	if lines[1].Text != "frame 1" {
		t.Fatalf("unexpected relayed line: %+v", lines[1])
	}
	if _, err := a.StopRecording(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartFailureIsReportedInView(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recorder.Interpreter = "no-such-interpreter-for-recpanel"
	cfg.Metrics.Enabled = true
	dsn := filepath.Join(t.TempDir(), "history.db")
	cfg.History.Enabled = true
	cfg.History.DSN = dsn
	a, l, _ := newTestApp(t, cfg, nil)

	_, err := a.StartRecording()
	if !errors.Is(err, supervisor.ErrInterpreterNotFound) {
		t.Fatalf("expected ErrInterpreterNotFound, got %v", err)
	}
	if !errors.Is(err, supervisor.ErrSpawnFailure) {
		t.Fatalf("an unresolved interpreter is a spawn failure, got %v", err)
	}
	if l.launches() != 0 {
		t.Fatal("nothing should be launched")
	}
	lines := a.win.Lines(0)
	if len(lines) != 1 || lines[0].Severity != supervisor.SeverityError {
		t.Fatalf("expected one error line, got %+v", lines)
	}
	if a.publisher.Current() != status.Idle {
		t.Fatal("status must stay idle")
	}

	mfs, err := a.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var failures float64
	for _, mf := range mfs {
		if mf.GetName() != "recpanel_recorder_spawn_failures_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			failures += m.GetCounter().GetValue()
		}
	}
	if failures < 1 {
		t.Fatal("spawn failure not counted")
	}

	a.closeResources()
	sink, err := sqlite.New(dsn)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if n, err := sink.Count(context.Background(), history.EventSpawnFailure); err != nil || n != 1 {
		t.Fatalf("spawn failure events: %d, %v", n, err)
	}
}

func TestQuitAsksWhileRecording(t *testing.T) {
	a, l, out := newTestApp(t, testConfig(t), nil)
	a.panel.HandleLine("start")

	a.panel.HandleLine("quit")
	if !a.panel.Asking() {
		t.Fatal("expected a confirmation question")
	}
	if !strings.Contains(out.String(), quitQuestion) {
		t.Fatalf("question not shown:\n%s", out.String())
	}
	a.panel.HandleLine("n")
	if a.quitting || !a.sup.Running() {
		t.Fatal("declining must keep recording")
	}

	a.panel.HandleLine("quit")
	a.panel.HandleLine("y")
	if !l.last().wasTerminated() {
		t.Fatal("quit must stop the recording")
	}
	select {
	case <-a.loop.Done():
	default:
		t.Fatal("loop should be closed after quit")
	}
}

func TestCloseIntentWithoutTrayQuits(t *testing.T) {
	a, _, _ := newTestApp(t, testConfig(t), nil)
	a.CloseIntent()
	select {
	case <-a.loop.Done():
	default:
		t.Fatal("close without tray and without recording should quit")
	}
}

func TestCloseIntentTwiceQuits(t *testing.T) {
	a, l, _ := newTestApp(t, testConfig(t), nil)
	a.panel.HandleLine("start")
	a.CloseIntent()
	if !a.panel.Asking() {
		t.Fatal("expected quit confirmation")
	}
	a.CloseIntent()
	if !l.last().wasTerminated() {
		t.Fatal("second close must stop the recording")
	}
	select {
	case <-a.loop.Done():
	default:
		t.Fatal("loop should be closed")
	}
}

func TestCloseIntentMinimizesToTray(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tray.Enabled = true
	a, _, out := newTestApp(t, cfg, nil)
	icon := tray.NewHeadless(out)
	a.opts.TrayFactory = func(string) (tray.Icon, error) { return icon, nil }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.startTray(ctx)
	defer a.tray.Stop()
	if !a.tray.Running() {
		t.Fatal("tray should be running")
	}

	a.CloseIntent()
	if !strings.Contains(out.String(), closeQuestion) {
		t.Fatalf("question not shown:\n%s", out.String())
	}
	a.panel.HandleLine("m")
	drain(t, a, func() bool {
		return a.win.Hidden() && strings.Contains(out.String(), tray.MinimizedMessage)
	})

	icon.Trigger(tray.MenuShow)
	drain(t, a, func() bool { return !a.win.Hidden() })

	icon.Trigger(tray.MenuQuit)
	drain(t, a, func() bool {
		select {
		case <-a.loop.Done():
			return true
		default:
			return false
		}
	})
}

func TestTranscriptReceivesLines(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "take.transcript.log")
	cfg.Transcript.Path = path
	a, _, _ := newTestApp(t, cfg, nil)

	a.panel.HandleLine("start")
	a.panel.HandleLine("stop")
	a.closeResources()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "recording started at") || !strings.Contains(text, "recording stopped gracefully") {
		t.Fatalf("unexpected transcript:\n%s", text)
	}
}

func TestMetricsRegistryCountsStarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	a, _, _ := newTestApp(t, cfg, nil)
	if a.Registry() == nil {
		t.Fatal("registry expected when metrics are enabled")
	}
	a.panel.HandleLine("start")
	a.panel.HandleLine("stop")

	mfs, err := a.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"recpanel_recorder_starts_total", "recpanel_recorder_stops_total", "go_goroutines"} {
		if !names[want] {
			t.Fatalf("metric %s missing", want)
		}
	}
}

func TestRunServesControllerAndQuits(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	a, l, out := newTestApp(t, testConfig(t), pr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	ctl := controller{a}
	pid, err := ctl.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := ctl.Start(ctx); !errors.Is(err, supervisor.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	h := server.NewRouter(ctl, "/api").Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"running"`) {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}

	snap, err := ctl.Snapshot(ctx)
	if err != nil || snap.PID != pid {
		t.Fatalf("snapshot: %+v %v", snap, err)
	}
	res, err := ctl.Stop(ctx)
	if err != nil || res.Forced {
		t.Fatalf("stop: %+v %v", res, err)
	}
	logs, err := ctl.Logs(ctx, 10)
	if err != nil || len(logs) != 3 || logs[1].Text != "stopping recording..." {
		t.Fatalf("logs: %+v %v", logs, err)
	}

	if _, err := pw.Write([]byte("start\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for l.launches() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("typed start was not executed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := pw.Write([]byte("quit\ny\n")); err != nil {
		t.Fatalf("write input: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("run did not return after quit")
	}
	if !l.last().wasTerminated() {
		t.Fatal("recording must be stopped on quit")
	}
	if !strings.Contains(out.String(), "ready, type help") {
		t.Fatalf("banner missing:\n%s", out.String())
	}
	if _, err := ctl.Snapshot(context.Background()); !errors.Is(err, loop.ErrClosed) {
		t.Fatalf("expected ErrClosed after quit, got %v", err)
	}
}

func TestPreviousRunDetection(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recorder.PIDFile = filepath.Join(t.TempDir(), "rec.pid")
	if err := supervisor.WritePIDFile(cfg.Recorder.PIDFile, os.Getpid()); err != nil {
		t.Fatal(err)
	}
	a, _, _ := newTestApp(t, cfg, nil)
	a.checkPreviousRun()
	lines := a.win.Lines(0)
	if len(lines) != 1 || !strings.Contains(lines[0].Text, "previous session is still running") {
		t.Fatalf("expected previous run warning, got %+v", lines)
	}

	if err := os.WriteFile(cfg.Recorder.PIDFile, []byte("999999999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	a.checkPreviousRun()
	if _, err := os.Stat(cfg.Recorder.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("stale pid file should be removed, stat err=%v", err)
	}
}

func TestHistoryIsRecordedToSQLite(t *testing.T) {
	cfg := testConfig(t)
	dsn := filepath.Join(t.TempDir(), "history.db")
	cfg.History.Enabled = true
	cfg.History.DSN = dsn
	a, _, _ := newTestApp(t, cfg, nil)

	a.panel.HandleLine("start")
	a.panel.HandleLine("stop")
	a.closeResources()

	sink, err := sqlite.New(dsn)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer func() { _ = sink.Close() }()
	for _, et := range []history.EventType{history.EventStart, history.EventStop} {
		n, err := sink.Count(context.Background(), et)
		if err != nil || n != 1 {
			t.Fatalf("%s events: %d, %v", et, n, err)
		}
	}
}

func TestRunContinuesWhenTrayIsUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tray.Enabled = true
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()
	a, l, out := newTestApp(t, cfg, pr)
	factoryCalls := 0
	a.opts.TrayFactory = func(string) (tray.Icon, error) {
		factoryCalls++
		return nil, errors.New("no status notifier host")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	ctl := controller{a}
	if _, err := ctl.Start(ctx); err != nil {
		t.Fatalf("start without tray: %v", err)
	}
	if res, err := ctl.Stop(ctx); err != nil || res.Forced {
		t.Fatalf("stop without tray: %+v %v", res, err)
	}
	if factoryCalls != 1 {
		t.Fatalf("tray factory called %d times", factoryCalls)
	}

	var trayRunning bool
	if err := a.loop.Call(ctx, func() { trayRunning = a.tray.Running() }); err != nil {
		t.Fatalf("call: %v", err)
	}
	if trayRunning {
		t.Fatal("tray must not run after a failed factory")
	}

	// without a tray a close request quits directly
	a.loop.Post(a.CloseIntent)
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("run did not return after close")
	}
	if !l.last().wasTerminated() {
		t.Fatal("recording should have been stopped")
	}
	if strings.Contains(out.String(), closeQuestion) {
		t.Fatalf("close question needs a tray:\n%s", out.String())
	}
}
