package supervisor

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a recording process is
	// active, including while a stop of that process is still in progress.
	ErrAlreadyRunning = errors.New("recording process already running")
	// ErrNotRunning is returned by Stop when no recording process is active.
	ErrNotRunning = errors.New("recording process not running")
	// ErrStopInProgress is returned by Stop when a previous Stop has not
	// finished yet. No additional signal is sent.
	ErrStopInProgress = errors.New("stop already in progress")
	// ErrSpawnFailure wraps the launcher error when the child could not be started.
	ErrSpawnFailure = errors.New("failed to spawn recording process")
	// ErrInterpreterNotFound is returned by ResolveInterpreter.
	ErrInterpreterNotFound = errors.New("interpreter not found")
)
