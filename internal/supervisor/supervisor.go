// Package supervisor starts, watches and stops the recording process and
// relays its output to the log view.
//
// A Supervisor is owned by a control loop. Start, Stop and Snapshot must be
// called from a task running on that loop; the output relay goroutine only
// talks to the supervisor by posting tasks.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/loykin/recpanel/internal/history"
	"github.com/loykin/recpanel/internal/loop"
	"github.com/loykin/recpanel/internal/metrics"
	"github.com/loykin/recpanel/internal/status"
)

const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultFlushTimeout = 2 * time.Second
	DefaultName         = "recorder"
)

// HistoryRecorder receives lifecycle events. *history.Recorder satisfies it.
type HistoryRecorder interface {
	Record(e history.Event)
}

// StopResult describes how a requested stop ended.
type StopResult struct {
	Forced   bool
	ExitCode int
	Duration time.Duration
}

// Snapshot is a copy of the supervisor state for display.
type Snapshot struct {
	Status     status.Status `json:"status"`
	PID        int           `json:"pid,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitempty"`
	Executable string        `json:"executable,omitempty"`
	Args       []string      `json:"args,omitempty"`
	WorkDir    string        `json:"work_dir,omitempty"`
}

type supervisedProcess struct {
	proc      Process
	pid       int
	startedAt time.Time
	cmd       Command
	relayDone chan struct{}
	stopping  bool
}

type Supervisor struct {
	loop      *loop.Loop
	clock     clockwork.Clock
	publisher *status.Publisher
	sink      LogSink

	launcher     Launcher
	logger       *slog.Logger
	history      HistoryRecorder
	name         string
	grace        time.Duration
	flushTimeout time.Duration
	encoding     string
	env          []string
	pidFile      string

	current *supervisedProcess
}

type Option func(*Supervisor)

func WithLauncher(l Launcher) Option { return func(s *Supervisor) { s.launcher = l } }

func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

func WithHistory(h HistoryRecorder) Option { return func(s *Supervisor) { s.history = h } }

// WithName sets the recorder name used for metrics and history.
func WithName(name string) Option { return func(s *Supervisor) { s.name = name } }

// WithGracePeriod sets how long Stop waits after the graceful signal.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithFlushTimeout bounds how long Stop waits for the process to be reaped
// after a kill and for buffered output to be relayed.
func WithFlushTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.flushTimeout = d
		}
	}
}

// WithOutputEncoding sets the encoding of the child's output stream.
func WithOutputEncoding(name string) Option { return func(s *Supervisor) { s.encoding = name } }

// WithEnv sets the complete child environment.
func WithEnv(env []string) Option { return func(s *Supervisor) { s.env = env } }

// WithPIDFile writes the child's PID to path while it runs.
func WithPIDFile(path string) Option { return func(s *Supervisor) { s.pidFile = path } }

// New creates a supervisor bound to l. Every line, relayed or lifecycle, is
// handed to sink on the loop.
func New(l *loop.Loop, pub *status.Publisher, sink LogSink, opts ...Option) *Supervisor {
	s := &Supervisor{
		loop:         l,
		clock:        l.Clock(),
		publisher:    pub,
		sink:         sink,
		launcher:     ExecLauncher{},
		logger:       slog.Default(),
		name:         DefaultName,
		grace:        DefaultGracePeriod,
		flushTimeout: DefaultFlushTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("recorder", s.name)
	return s
}

// GracePeriod returns the configured grace period.
func (s *Supervisor) GracePeriod() time.Duration { return s.grace }

// Running reports whether a recording process is active (running or stopping).
func (s *Supervisor) Running() bool { return s.current != nil }

func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{Status: s.publisher.Current()}
	if sp := s.current; sp != nil {
		snap.PID = sp.pid
		snap.StartedAt = sp.startedAt
		snap.Executable = sp.cmd.Path
		snap.Args = append([]string(nil), sp.cmd.Args...)
		snap.WorkDir = sp.cmd.Dir
	}
	return snap
}

// Start launches executable with args in workDir and returns its PID.
func (s *Supervisor) Start(executable string, args []string, workDir string) (int, error) {
	return s.StartCommand(Command{Path: executable, Args: args, Dir: workDir, Env: s.env})
}

// StartCommand is Start with a fully built command. A nil cmd.Env means the
// environment set with WithEnv.
func (s *Supervisor) StartCommand(cmd Command) (int, error) {
	if s.current != nil {
		return 0, ErrAlreadyRunning
	}
	cmd.Args = append([]string(nil), cmd.Args...)
	if cmd.Env == nil {
		cmd.Env = s.env
	}
	executable, workDir := cmd.Path, cmd.Dir

	proc, err := s.launcher.Launch(cmd)
	if err != nil {
		return 0, s.SpawnFailed(cmd, err)
	}

	sp := &supervisedProcess{
		proc:      proc,
		pid:       proc.Pid(),
		startedAt: s.clock.Now(),
		cmd:       cmd,
		relayDone: make(chan struct{}),
	}
	s.current = sp
	if err := WritePIDFile(s.pidFile, sp.pid); err != nil {
		s.logger.Warn("Failed to write PID file", "path", s.pidFile, "error", err)
	}
	s.setStatus(status.Running)
	s.emit(SeverityNormal, fmt.Sprintf("recording started at %s (PID: %d): %s [work dir: %s]",
		sp.startedAt.Format(TimestampLayout), sp.pid, commandLine(cmd), displayDir(workDir)))
	s.logger.Info("Recording process started", "pid", sp.pid, "executable", executable, "dir", workDir)
	metrics.IncStart(s.name)
	s.record(history.EventStart, s.historyRecord(sp))

	go s.relay(sp)
	return sp.pid, nil
}

// SpawnFailed reports a recording that could not be launched, including a
// command that could not be resolved, and returns cause wrapped in
// ErrSpawnFailure.
func (s *Supervisor) SpawnFailed(cmd Command, cause error) error {
	err := cause
	if !errors.Is(err, ErrSpawnFailure) {
		err = fmt.Errorf("%w: %w", ErrSpawnFailure, cause)
	}
	s.logger.Error("Failed to start recording process", "executable", cmd.Path, "error", err)
	s.emit(SeverityError, fmt.Sprintf("failed to start recording: %v", err))
	metrics.IncSpawnFailure(s.name)
	s.record(history.EventSpawnFailure, history.Record{
		Executable: cmd.Path, WorkDir: cmd.Dir, ExitCode: -1, Error: err.Error(),
	})
	return err
}

// Stop terminates the active process: graceful signal, cooperative wait of up
// to the grace period, then a single forced kill. The kill is also sent when
// the output stream stays open after the process exited. Status is Idle when
// Stop returns without error.
func (s *Supervisor) Stop() (StopResult, error) {
	sp := s.current
	if sp == nil {
		return StopResult{}, ErrNotRunning
	}
	if sp.stopping {
		return StopResult{}, ErrStopInProgress
	}
	sp.stopping = true
	begin := s.clock.Now()
	s.setStatus(status.Stopping)
	s.emit(SeverityNormal, "stopping recording...")
	s.logger.Info("Stopping recording process", "pid", sp.pid, "grace", s.grace)

	if err := sp.proc.Terminate(); err != nil {
		s.logger.Warn("Graceful termination failed", "pid", sp.pid, "error", err)
	}

	forced := false
	if !s.loop.WaitFor(sp.proc.Done(), s.grace) {
		forced = true
		s.logger.Warn("Recording process did not exit in time, killing", "pid", sp.pid, "grace", s.grace)
		if err := sp.proc.Kill(); err != nil {
			s.logger.Warn("Kill failed", "pid", sp.pid, "error", err)
		}
		if !s.loop.WaitFor(sp.proc.Done(), s.flushTimeout) {
			s.logger.Error("Recording process still alive after kill", "pid", sp.pid)
		}
	}
	if !s.loop.WaitFor(sp.relayDone, s.flushTimeout) {
		// the leader is gone but a group member still holds the output pipe
		if !forced {
			forced = true
			s.logger.Warn("Recording output still open after exit, killing process group", "pid", sp.pid)
			if err := sp.proc.Kill(); err != nil {
				s.logger.Warn("Kill failed", "pid", sp.pid, "error", err)
			}
		}
		if !s.loop.WaitFor(sp.relayDone, s.flushTimeout) {
			s.logger.Error("Output relay did not drain in time, closing pipe", "pid", sp.pid)
			_ = sp.proc.Output().Close()
		}
	}

	s.current = nil
	RemovePIDFile(s.pidFile)
	s.setStatus(status.Idle)

	res := StopResult{Forced: forced, ExitCode: exitCodeOf(sp.proc), Duration: s.clock.Since(begin)}
	rec := s.historyRecord(sp)
	rec.StoppedAt = s.clock.Now()
	rec.ExitCode = res.ExitCode
	if forced {
		s.emit(SeverityNormal, fmt.Sprintf("recording forcibly terminated after %s timeout", s.grace))
		s.record(history.EventKill, rec)
	} else {
		s.emit(SeverityNormal, "recording stopped gracefully")
		s.record(history.EventStop, rec)
	}
	s.logger.Info("Recording process stopped", "pid", sp.pid, "forced", forced, "duration", res.Duration)
	metrics.IncStop(s.name, forced)
	metrics.ObserveStopDuration(s.name, res.Duration.Seconds())
	return res, nil
}

// handleStreamEnd runs on the loop once the relay has seen end of stream and
// the process has been reaped.
func (s *Supervisor) handleStreamEnd(sp *supervisedProcess) {
	if s.current != sp || sp.stopping {
		// stale notification, or Stop owns the teardown
		return
	}
	s.current = nil
	RemovePIDFile(s.pidFile)
	code := exitCodeOf(sp.proc)
	s.setStatus(status.Idle)

	sev := SeverityNormal
	if code != 0 {
		sev = SeverityError
	}
	s.emit(sev, fmt.Sprintf("recording process ended (exit code %d)", code))
	s.logger.Warn("Recording process ended without a stop request", "pid", sp.pid, "exitCode", code)
	metrics.IncUnexpectedExit(s.name)

	rec := s.historyRecord(sp)
	rec.StoppedAt = s.clock.Now()
	rec.ExitCode = code
	s.record(history.EventExit, rec)
}

func (s *Supervisor) setStatus(to status.Status) {
	from := s.publisher.Current()
	metrics.RecordStateTransition(s.name, from.String(), to.String())
	metrics.SetCurrentState(s.name, to.String(), status.Idle.String(), status.Running.String(), status.Stopping.String())
	s.publisher.Publish(to)
}

func (s *Supervisor) emit(sev Severity, text string) {
	if s.sink == nil {
		return
	}
	s.sink(LogLine{Time: s.clock.Now(), Text: text, Severity: sev})
}

func (s *Supervisor) record(t history.EventType, rec history.Record) {
	if s.history == nil {
		return
	}
	rec.Name = s.name
	s.history.Record(history.Event{Type: t, OccurredAt: s.clock.Now(), Record: rec})
}

func (s *Supervisor) historyRecord(sp *supervisedProcess) history.Record {
	return history.Record{
		Name:       s.name,
		PID:        sp.pid,
		Executable: sp.cmd.Path,
		WorkDir:    sp.cmd.Dir,
		StartedAt:  sp.startedAt,
	}
}

func exitCodeOf(p Process) int {
	select {
	case <-p.Done():
		return p.ExitCode()
	default:
		return -1
	}
}

func commandLine(c Command) string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Path}, c.Args...) {
		if strings.ContainsAny(p, " \t\"") {
			p = fmt.Sprintf("%q", p)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

func displayDir(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}
