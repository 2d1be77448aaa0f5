// Package tray keeps a tray presence for the control panel. The Bridge runs
// its own goroutine for the lifetime of the application and has no authority
// over the recorder: exit requests are delegated to the OnQuit callback.
package tray

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loykin/recpanel/internal/status"
)

// ErrUnavailable wraps icon acquisition failures. Callers continue without a tray.
var ErrUnavailable = errors.New("tray icon unavailable")

// MinimizedMessage is shown when the window is hidden to the tray.
const MinimizedMessage = "Minimized to tray. Use show to restore the window."

type Options struct {
	Title string
	// Notify enables status change notifications.
	Notify bool
	// OnShow restores the window. Called from the tray goroutine.
	OnShow func()
	// OnHide hides the window. Called from the tray goroutine.
	OnHide func()
	// OnQuit handles the exit menu entry. Called from the tray goroutine.
	OnQuit func()
}

// Bridge serializes every icon call on one goroutine. A nil *Bridge is a
// valid "no tray" value: all methods are no-ops.
type Bridge struct {
	icon   Icon
	opts   Options
	logger *slog.Logger

	cmds   chan func()
	events chan MenuItem
	stop   chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	hidden   atomic.Bool
}

// Start acquires the icon and starts the tray goroutine.
func Start(ctx context.Context, factory Factory, opts Options, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: no tray implementation", ErrUnavailable)
	}
	if opts.Title == "" {
		opts.Title = "recpanel"
	}
	icon, err := factory(opts.Title)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	b := &Bridge{
		icon:   icon,
		opts:   opts,
		logger: logger,
		cmds:   make(chan func(), 32),
		events: make(chan MenuItem, 8),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	icon.SetTooltip(opts.Title + ": not running")
	go b.run(ctx)
	return b, nil
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	iconCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	iconDone := make(chan struct{})
	go func() {
		defer close(iconDone)
		if err := b.icon.Run(iconCtx, b.events); err != nil {
			b.logger.Warn("Tray icon loop failed", "error", err)
		}
	}()

	for {
		select {
		case fn := <-b.cmds:
			fn()
		case it := <-b.events:
			b.dispatch(it)
		case <-b.stop:
			b.shutdown(cancel, iconDone)
			return
		case <-ctx.Done():
			b.shutdown(cancel, iconDone)
			return
		}
	}
}

func (b *Bridge) shutdown(cancel context.CancelFunc, iconDone <-chan struct{}) {
	cancel()
	if err := b.icon.Close(); err != nil {
		b.logger.Debug("Tray icon close failed", "error", err)
	}
	<-iconDone
}

func (b *Bridge) dispatch(it MenuItem) {
	b.logger.Debug("Tray menu selected", "item", it.String())
	switch it {
	case MenuShow:
		b.show()
	case MenuMinimize:
		b.minimize()
	case MenuQuit:
		if b.opts.OnQuit != nil {
			b.opts.OnQuit()
		}
	}
}

// enqueue runs fn on the tray goroutine. It reports false once stopped.
func (b *Bridge) enqueue(fn func()) bool {
	if b == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.cmds <- fn:
		return true
	case <-b.done:
		return false
	}
}

func (b *Bridge) show() {
	b.hidden.Store(false)
	if b.opts.OnShow != nil {
		b.opts.OnShow()
	}
}

func (b *Bridge) minimize() {
	b.hidden.Store(true)
	if b.opts.OnHide != nil {
		b.opts.OnHide()
	}
	b.notify(b.opts.Title, MinimizedMessage)
}

func (b *Bridge) notify(title, message string) {
	if err := b.icon.Notify(title, message); err != nil {
		b.logger.Debug("Tray notification failed", "error", err)
	}
}

// Show restores the window.
func (b *Bridge) Show() { b.enqueue(b.show) }

// Minimize hides the window and posts a notification.
func (b *Bridge) Minimize() { b.enqueue(b.minimize) }

// Notify shows a tray notification. An empty title uses the tray title.
func (b *Bridge) Notify(message, title string) {
	if b == nil {
		return
	}
	if title == "" {
		title = b.opts.Title
	}
	b.enqueue(func() { b.notify(title, message) })
}

// Stop shuts the tray down and waits for its goroutine. Safe to call twice.
func (b *Bridge) Stop() {
	if b == nil {
		return
	}
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}

// Running reports whether the tray is active.
func (b *Bridge) Running() bool {
	if b == nil {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

// Hidden reports whether the window is currently minimized to the tray.
func (b *Bridge) Hidden() bool { return b != nil && b.hidden.Load() }

// StatusNotifier returns a subscriber that keeps the tooltip current and,
// when enabled, announces recording start, stop and unexpected end.
// The returned function must be registered on a single publisher.
func (b *Bridge) StatusNotifier() status.Subscriber {
	prev := status.Idle
	return func(st status.Status) {
		from := prev
		prev = st
		if b == nil {
			return
		}
		title := b.opts.Title
		tip := title + ": " + label(st)
		b.enqueue(func() { b.icon.SetTooltip(tip) })
		if !b.opts.Notify {
			return
		}
		var msg string
		switch {
		case st == status.Running:
			msg = "Recording started"
		case st == status.Idle && from == status.Stopping:
			msg = "Recording stopped"
		case st == status.Idle && from == status.Running:
			msg = "Recording process ended"
		}
		if msg != "" {
			b.enqueue(func() { b.notify(title, msg) })
		}
	}
}

func label(st status.Status) string {
	switch st {
	case status.Running:
		return "recording"
	case status.Stopping:
		return "stopping"
	default:
		return "not running"
	}
}
