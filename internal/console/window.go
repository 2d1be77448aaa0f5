// Package console renders the control panel in a terminal: a scrolling log
// view, a status label, a status bar and a command prompt.
//
// Window and Panel methods are called on the control loop. Writes to the
// terminal are serialized so other goroutines (tray notifications) may share
// the writer through Window.Writer.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/loykin/recpanel/internal/status"
	"github.com/loykin/recpanel/internal/supervisor"
)

const DefaultMaxLines = 1000

type Options struct {
	Color      bool
	Timestamps bool
	// MaxLines bounds the lines kept for redisplay and the HTTP API.
	MaxLines int
}

type Window struct {
	opts Options

	wmu sync.Mutex
	out io.Writer

	lines       []supervisor.LogLine
	hidden      bool
	missed      int
	statusLabel string
	statusBar   string

	errColor    *color.Color
	tsColor     *color.Color
	runColor    *color.Color
	stoppingCol *color.Color
	idleColor   *color.Color
	noticeColor *color.Color
	promptColor *color.Color
}

func NewWindow(out io.Writer, opts Options) *Window {
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxLines
	}
	w := &Window{
		opts:        opts,
		out:         out,
		statusLabel: "not running",
		errColor:    color.New(color.FgRed),
		tsColor:     color.New(color.FgHiBlack),
		runColor:    color.New(color.FgGreen, color.Bold),
		stoppingCol: color.New(color.FgYellow, color.Bold),
		idleColor:   color.New(color.FgWhite),
		noticeColor: color.New(color.FgCyan),
		promptColor: color.New(color.FgMagenta, color.Bold),
	}
	for _, c := range []*color.Color{w.errColor, w.tsColor, w.runColor, w.stoppingCol, w.idleColor, w.noticeColor, w.promptColor} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return w
}

func (w *Window) write(s string) {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_, _ = io.WriteString(w.out, s)
}

// Writer returns a writer that shares the window's output lock. Lines
// written through it are shown as notices.
func (w *Window) Writer() io.Writer { return noticeWriter{w} }

type noticeWriter struct{ w *Window }

func (n noticeWriter) Write(p []byte) (int, error) {
	n.w.write(n.w.noticeColor.Sprint(string(p)))
	return len(p), nil
}

func (w *Window) format(l supervisor.LogLine) string {
	var b strings.Builder
	if w.opts.Timestamps {
		b.WriteString(w.tsColor.Sprintf("[%s] ", l.Time.Format(supervisor.TimestampLayout)))
	}
	if l.Severity == supervisor.SeverityError {
		b.WriteString(w.errColor.Sprint("[ERROR] " + l.Text))
	} else {
		b.WriteString(l.Text)
	}
	b.WriteByte('\n')
	return b.String()
}

// AppendLine is the log sink of the panel.
func (w *Window) AppendLine(l supervisor.LogLine) {
	w.lines = append(w.lines, l)
	if over := len(w.lines) - w.opts.MaxLines; over > 0 {
		w.lines = append(w.lines[:0:0], w.lines[over:]...)
	}
	if w.hidden {
		w.missed++
		return
	}
	w.write(w.format(l))
}

// Lines returns up to the last n retained lines; n <= 0 returns all.
func (w *Window) Lines(n int) []supervisor.LogLine {
	if n <= 0 || n > len(w.lines) {
		n = len(w.lines)
	}
	return append([]supervisor.LogLine(nil), w.lines[len(w.lines)-n:]...)
}

// Clear empties the log view.
func (w *Window) Clear() {
	w.lines = nil
	w.missed = 0
	if w.opts.Color {
		w.write("\033[H\033[2J")
	}
}

// Hide stops rendering lines; they are still retained.
func (w *Window) Hide() {
	if w.hidden {
		return
	}
	w.hidden = true
	w.missed = 0
}

// Show resumes rendering and replays the lines that arrived while hidden.
func (w *Window) Show() {
	if !w.hidden {
		return
	}
	w.hidden = false
	replay := w.missed
	w.missed = 0
	if replay > len(w.lines) {
		replay = len(w.lines)
	}
	if replay > 0 {
		w.Notice(fmt.Sprintf("%d line(s) while hidden:", replay))
		for _, l := range w.lines[len(w.lines)-replay:] {
			w.write(w.format(l))
		}
	}
	w.PrintStatusBar()
}

func (w *Window) Hidden() bool { return w.hidden }

// SetStatus updates the status label. It is registered as a status subscriber.
func (w *Window) SetStatus(st status.Status) {
	var c *color.Color
	switch st {
	case status.Running:
		w.statusLabel = "running"
		c = w.runColor
	case status.Stopping:
		w.statusLabel = "stopping"
		c = w.stoppingCol
	default:
		w.statusLabel = "not running"
		c = w.idleColor
	}
	if !w.hidden {
		w.write(c.Sprintf("● status: %s\n", w.statusLabel))
	}
}

func (w *Window) StatusLabel() string { return w.statusLabel }

// SetStatusBar replaces the status bar text without printing it.
func (w *Window) SetStatusBar(text string) { w.statusBar = text }

func (w *Window) StatusBar() string { return w.statusBar }

func (w *Window) PrintStatusBar() {
	if w.statusBar != "" {
		w.write(w.tsColor.Sprint(w.statusBar) + "\n")
	}
}

// Notice prints an informational panel message.
func (w *Window) Notice(msg string) {
	if w.hidden {
		return
	}
	w.write(w.noticeColor.Sprint(msg) + "\n")
}

// Ask prints a question; it is shown even while hidden.
func (w *Window) Ask(question string) {
	w.write(w.promptColor.Sprint(question) + " ")
}
