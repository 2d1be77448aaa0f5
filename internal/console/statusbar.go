package console

import (
	"fmt"
	"strings"

	"github.com/loykin/recpanel/internal/status"
)

// StatusBar holds the facts rendered in the bottom status line.
type StatusBar struct {
	Status   status.Status
	PID      int
	MemoryMB float64 // zero when unknown
	Tray     bool
}

func (s StatusBar) String() string {
	parts := make([]string, 0, 3)
	switch s.Status {
	case status.Running, status.Stopping:
		label := "running"
		if s.Status == status.Stopping {
			label = "stopping"
		}
		if s.PID > 0 {
			parts = append(parts, fmt.Sprintf("status: %s (PID: %d)", label, s.PID))
		} else {
			parts = append(parts, "status: "+label)
		}
		if s.MemoryMB > 0 {
			parts = append(parts, fmt.Sprintf("mem: %.1f MB", s.MemoryMB))
		}
	default:
		parts = append(parts, "status: not running")
	}
	if s.Tray {
		parts = append(parts, "tray: enabled")
	} else {
		parts = append(parts, "tray: not started")
	}
	return strings.Join(parts, " | ")
}
