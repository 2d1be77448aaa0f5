package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/recpanel/internal/loop"
	"github.com/loykin/recpanel/internal/supervisor"
)

// Controller is the part of the application the HTTP API drives. Every call
// is executed on the control loop by the implementation.
type Controller interface {
	Snapshot(ctx context.Context) (supervisor.Snapshot, error)
	Start(ctx context.Context) (int, error)
	Stop(ctx context.Context) (supervisor.StopResult, error)
	Logs(ctx context.Context, n int) ([]supervisor.LogLine, error)
}

const (
	defaultLogLines = 100
	maxLogLines     = 5000
)

// Router provides embeddable HTTP handlers for the recorder.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/start
//	POST {basePath}/stop
//	GET  {basePath}/logs?n=100
//	GET  {basePath}/metrics      (when a metrics handler is set)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
	metrics  http.Handler
	timeout  time.Duration
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(ctl Controller, basePath string) *Router {
	return &Router{ctl: ctl, basePath: sanitizeBase(basePath), timeout: 30 * time.Second}
}

// WithMetrics mounts h at {basePath}/metrics.
func (r *Router) WithMetrics(h http.Handler) *Router {
	r.metrics = h
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/logs", r.handleLogs)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr serving h.
func NewServer(addr string, h http.Handler) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type startResp struct {
	OK  bool `json:"ok"`
	PID int  `json:"pid"`
}

type stopResp struct {
	OK       bool   `json:"ok"`
	Forced   bool   `json:"forced"`
	ExitCode int    `json:"exit_code"`
	Duration string `json:"duration"`
}

type logLineResp struct {
	Time     time.Time `json:"time"`
	Text     string    `json:"text"`
	Severity string    `json:"severity"`
}

func (r *Router) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), r.timeout)
}

func (r *Router) handleStatus(c *gin.Context) {
	ctx, cancel := r.ctx(c)
	defer cancel()
	snap, err := r.ctl.Snapshot(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleStart(c *gin.Context) {
	ctx, cancel := r.ctx(c)
	defer cancel()
	pid, err := r.ctl.Start(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, startResp{OK: true, PID: pid})
}

func (r *Router) handleStop(c *gin.Context) {
	ctx, cancel := r.ctx(c)
	defer cancel()
	res, err := r.ctl.Stop(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, stopResp{OK: true, Forced: res.Forced, ExitCode: res.ExitCode, Duration: res.Duration.String()})
}

func (r *Router) handleLogs(c *gin.Context) {
	n := parseLimit(c.Query("n"), defaultLogLines, maxLogLines)
	ctx, cancel := r.ctx(c)
	defer cancel()
	lines, err := r.ctl.Logs(ctx, n)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]logLineResp, 0, len(lines))
	for _, l := range lines {
		out = append(out, logLineResp{Time: l.Time, Text: l.Text, Severity: l.Severity.String()})
	}
	writeJSON(c, http.StatusOK, out)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning),
		errors.Is(err, supervisor.ErrNotRunning),
		errors.Is(err, supervisor.ErrStopInProgress):
		return http.StatusConflict
	case errors.Is(err, loop.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusCode(err), errorResp{Error: err.Error()})
}
