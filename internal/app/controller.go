package app

import (
	"context"

	"github.com/loykin/recpanel/internal/server"
	"github.com/loykin/recpanel/internal/supervisor"
)

// Controller returns the loop-safe control surface used by the HTTP API.
func (a *App) Controller() server.Controller { return controller{a} }

// controller exposes the application to the HTTP API. Every call is executed
// on the control loop.
type controller struct{ a *App }

func (c controller) Snapshot(ctx context.Context) (supervisor.Snapshot, error) {
	var snap supervisor.Snapshot
	if err := c.a.loop.Call(ctx, func() { snap = c.a.sup.Snapshot() }); err != nil {
		return supervisor.Snapshot{}, err
	}
	return snap, nil
}

func (c controller) Start(ctx context.Context) (int, error) {
	var (
		pid int
		err error
	)
	if cerr := c.a.loop.Call(ctx, func() { pid, err = c.a.StartRecording() }); cerr != nil {
		return 0, cerr
	}
	return pid, err
}

func (c controller) Stop(ctx context.Context) (supervisor.StopResult, error) {
	var (
		res supervisor.StopResult
		err error
	)
	if cerr := c.a.loop.Call(ctx, func() { res, err = c.a.StopRecording() }); cerr != nil {
		return supervisor.StopResult{}, cerr
	}
	return res, err
}

func (c controller) Logs(ctx context.Context, n int) ([]supervisor.LogLine, error) {
	var lines []supervisor.LogLine
	if err := c.a.loop.Call(ctx, func() { lines = c.a.win.Lines(n) }); err != nil {
		return nil, err
	}
	return lines, nil
}
