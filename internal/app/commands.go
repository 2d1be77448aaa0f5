package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/loykin/recpanel/internal/console"
	"github.com/loykin/recpanel/internal/supervisor"
)

const (
	quitQuestion  = "A recording is in progress. Stop it and quit?"
	closeQuestion = "Minimize to tray or quit?"
)

func (a *App) registerCommands() {
	a.panel.Register(console.Command{Name: "start", Usage: "start recording", Run: a.startCommand}, "s")
	a.panel.Register(console.Command{Name: "stop", Usage: "stop recording", Run: a.stopCommand}, "x")
	a.panel.Register(console.Command{Name: "status", Usage: "show recorder status", Run: a.statusCommand}, "st")
	a.panel.Register(console.Command{Name: "tail", Usage: "reprint the last n lines (default 20)", Run: a.tailCommand})
	a.panel.Register(console.Command{Name: "clear", Usage: "clear the log view", Run: func([]string) { a.win.Clear() }})
	a.panel.Register(console.Command{Name: "hide", Usage: "minimize to tray", Run: func([]string) { a.Minimize() }}, "minimize")
	a.panel.Register(console.Command{Name: "show", Usage: "restore the log view", Run: func([]string) { a.Show() }})
	a.panel.Register(console.Command{Name: "quit", Usage: "stop recording and exit", Run: func([]string) { a.RequestQuit() }}, "exit", "q")
}

// StartRecording resolves the configured command and starts it. Loop owned.
func (a *App) StartRecording() (int, error) {
	cmd, err := a.cfg.Command()
	if err != nil {
		path := a.cfg.Recorder.Interpreter
		if path == "" {
			path = a.cfg.Recorder.Script
		}
		return 0, a.sup.SpawnFailed(supervisor.Command{Path: path, Dir: a.cfg.Recorder.WorkDir}, err)
	}
	return a.sup.StartCommand(cmd)
}

// StopRecording stops the active recording. Loop owned.
func (a *App) StopRecording() (supervisor.StopResult, error) {
	a.stopping = true
	res, err := a.sup.Stop()
	a.stopping = false
	if a.quitting {
		a.loop.Close()
	}
	return res, err
}

func (a *App) startCommand([]string) {
	if _, err := a.StartRecording(); errors.Is(err, supervisor.ErrAlreadyRunning) {
		a.win.Notice("recording is already running")
	}
}

func (a *App) stopCommand([]string) {
	switch _, err := a.StopRecording(); {
	case errors.Is(err, supervisor.ErrNotRunning):
		a.win.Notice("no recording is running")
	case errors.Is(err, supervisor.ErrStopInProgress):
		a.win.Notice("stop already in progress")
	}
}

func (a *App) statusCommand([]string) {
	snap := a.sup.Snapshot()
	a.sampler.Collect()
	a.refreshStatusBar(snap.Status, snap.PID)
	a.win.PrintStatusBar()
	if snap.PID > 0 {
		a.win.Notice(fmt.Sprintf("started %s in %s", snap.StartedAt.Format(supervisor.TimestampLayout), snap.WorkDir))
	}
}

func (a *App) tailCommand(args []string) {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			a.win.Notice(fmt.Sprintf("invalid line count %q", args[0]))
			return
		}
		n = v
	}
	for _, l := range a.win.Lines(n) {
		a.win.Notice(l.String())
	}
}

// Minimize hides the log view, through the tray when there is one. Loop owned.
func (a *App) Minimize() {
	if a.tray.Running() {
		a.tray.Minimize()
		return
	}
	a.win.Hide()
}

// Show restores the log view. Loop owned.
func (a *App) Show() {
	if a.tray.Running() {
		a.tray.Show()
		return
	}
	a.win.Show()
}

// CloseIntent handles a request to close the panel window. With a tray the
// user picks between minimizing and quitting; a second request while the
// question is open quits. Loop owned.
func (a *App) CloseIntent() {
	if a.quitting {
		return
	}
	if a.panel.Asking() || a.inputClosed {
		a.panel.CancelQuestion()
		a.quit()
		return
	}
	if !a.tray.Running() {
		a.RequestQuit()
		return
	}
	a.panel.Ask(closeQuestion, []string{"minimize", "quit", "cancel"}, func(choice string) {
		switch choice {
		case "minimize":
			a.Minimize()
		case "quit":
			a.RequestQuit()
		}
	})
}

// RequestQuit exits the application, asking first when a recording is active.
// Loop owned.
func (a *App) RequestQuit() {
	if a.quitting {
		return
	}
	if a.sup.Running() && !a.inputClosed {
		a.panel.Ask(quitQuestion, []string{"yes", "no"}, func(choice string) {
			if choice == "yes" {
				a.quit()
			}
		})
		return
	}
	a.quit()
}

// quit stops the recording, if any, and closes the loop so Run returns.
func (a *App) quit() {
	if a.quitting {
		return
	}
	a.quitting = true
	if a.stopping {
		// the running StopRecording closes the loop when it returns
		return
	}
	if a.sup.Running() {
		if _, err := a.StopRecording(); err != nil {
			a.logger.Warn("Stopping recording on quit failed", "error", err)
		}
	}
	a.tray.Stop()
	a.loop.Close()
}

func (a *App) watchSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			a.loop.Post(a.CloseIntent)
		}
	}
}
