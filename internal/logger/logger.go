package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig configures the structured application logger.
type SlogConfig struct {
	Level      Level
	Format     Format
	Color      bool
	TimeStamps bool
	Source     bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// FileConfig describes the rotating files written by recpanel.
// If AppLogPath/TranscriptPath are empty and Dir is set, files will be
// Dir/<name>.log and Dir/<name>.transcript.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir            string
	AppLogPath     string // structured application log
	TranscriptPath string // every line shown in the log view
	MaxSizeMB      int
	MaxBackups     int
	MaxAgeDays     int
	Compress       bool
}

type Config struct {
	Slog SlogConfig
	File FileConfig
}

// ParseLevel maps a level name to a slog.Level; unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AutoColor reports whether w is a terminal that can render ANSI colors.
func AutoColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewSlogger builds the application logger. Records go to Slog.Output and,
// without color, to every extra writer (typically the rotating app log).
func (c Config) NewSlogger(extra ...io.Writer) *slog.Logger {
	out := c.Slog.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(string(c.Slog.Level)),
		AddSource: c.Slog.Source,
	}

	handlers := []slog.Handler{c.handler(out, opts, c.Slog.Color)}
	for _, w := range extra {
		if w != nil {
			handlers = append(handlers, c.handler(w, opts, false))
		}
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(&fanoutHandler{handlers: handlers})
}

func (c Config) handler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	if c.Slog.Format == FormatJSON {
		return slog.NewJSONHandler(w, withTime(opts, c.Slog.TimeStamps))
	}
	if color {
		return NewColorTextHandler(w, opts, c.Slog.TimeStamps)
	}
	return slog.NewTextHandler(w, withTime(opts, c.Slog.TimeStamps))
}

// Writers returns rotating writers for the application log and the
// transcript. A nil writer means that destination is not configured.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	appPath := c.File.AppLogPath
	transcriptPath := c.File.TranscriptPath
	if appPath == "" && c.File.Dir != "" {
		appPath = filepath.Join(c.File.Dir, fmt.Sprintf("%s.log", name))
	}
	if transcriptPath == "" && c.File.Dir != "" {
		transcriptPath = filepath.Join(c.File.Dir, fmt.Sprintf("%s.transcript.log", name))
	}
	var appW, transcriptW io.WriteCloser
	if appPath != "" {
		appW = c.File.rotating(appPath)
	}
	if transcriptPath != "" {
		transcriptW = c.File.rotating(transcriptPath)
	}
	return appW, transcriptW, nil
}

func (f FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func withTime(opts *slog.HandlerOptions, showTime bool) *slog.HandlerOptions {
	if showTime {
		return opts
	}
	o := *opts
	o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		return a
	}
	return &o
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, x := range h.handlers {
		if x.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, x := range h.handlers {
		if x.Enabled(ctx, r.Level) {
			if err := x.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, x := range h.handlers {
		hs[i] = x.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: hs}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, x := range h.handlers {
		hs[i] = x.WithGroup(name)
	}
	return &fanoutHandler{handlers: hs}
}
