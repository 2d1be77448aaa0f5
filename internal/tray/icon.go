package tray

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type MenuItem int

const (
	MenuShow MenuItem = iota
	MenuMinimize
	MenuQuit
)

func (m MenuItem) String() string {
	switch m {
	case MenuShow:
		return "show"
	case MenuMinimize:
		return "minimize"
	case MenuQuit:
		return "quit"
	default:
		return fmt.Sprintf("menu(%d)", int(m))
	}
}

// Icon is the platform tray surface.
type Icon interface {
	// Run blocks in the icon event loop, forwarding menu clicks to events,
	// until ctx is done or Close is called.
	Run(ctx context.Context, events chan<- MenuItem) error
	Notify(title, message string) error
	SetTooltip(text string)
	Close() error
}

// Factory acquires the tray icon at startup.
type Factory func(title string) (Icon, error)

type Notification struct {
	Time    time.Time
	Title   string
	Message string
}

// Headless is an Icon without a graphical tray: notifications are written as
// text lines and menu clicks can be injected with Trigger.
type Headless struct {
	out io.Writer

	mu      sync.Mutex
	notes   []Notification
	tooltip string

	menu      chan MenuItem
	closed    chan struct{}
	closeOnce sync.Once
}

func NewHeadless(out io.Writer) *Headless {
	return &Headless{
		out:    out,
		menu:   make(chan MenuItem, 8),
		closed: make(chan struct{}),
	}
}

// HeadlessFactory returns a Factory yielding a Headless icon writing to out.
func HeadlessFactory(out io.Writer) Factory {
	return func(string) (Icon, error) { return NewHeadless(out), nil }
}

func (h *Headless) Run(ctx context.Context, events chan<- MenuItem) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.closed:
			return nil
		case it := <-h.menu:
			select {
			case events <- it:
			case <-ctx.Done():
				return nil
			case <-h.closed:
				return nil
			}
		}
	}
}

func (h *Headless) Notify(title, message string) error {
	h.mu.Lock()
	h.notes = append(h.notes, Notification{Time: time.Now(), Title: title, Message: message})
	h.mu.Unlock()
	if h.out == nil {
		return nil
	}
	_, err := fmt.Fprintf(h.out, "[%s] %s\n", title, message)
	return err
}

func (h *Headless) SetTooltip(text string) {
	h.mu.Lock()
	h.tooltip = text
	h.mu.Unlock()
}

func (h *Headless) Tooltip() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tooltip
}

func (h *Headless) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

// Trigger simulates a click on a tray menu entry.
func (h *Headless) Trigger(item MenuItem) {
	select {
	case h.menu <- item:
	case <-h.closed:
	}
}

// Notifications returns a copy of every notification shown so far.
func (h *Headless) Notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notification(nil), h.notes...)
}
