package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned when a start request arrives for a
	// search that is already live (pending, running or stopping).
	ErrAlreadyRunning = errors.New("search already running")
	// ErrCapacityExceeded is returned when the admission cap is reached.
	// The request is rejected, not queued; callers may retry later.
	ErrCapacityExceeded = errors.New("maximum concurrent searches reached")
	// ErrSearchNotFound is returned when no search with the given id exists.
	ErrSearchNotFound = errors.New("search not found")
	// ErrProjectNotFound is returned when the search's owning project no
	// longer exists.
	ErrProjectNotFound = errors.New("project not found")
	// ErrShuttingDown is returned for starts arriving during drain.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// SpawnError wraps the OS-level error that prevented worker creation. The
// start attempt is fatal for that request; no retry happens automatically.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("failed to spawn worker: %v", e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// PersistenceError wraps a result-path failure, a sink rejection or an
// unreadable output stream, that degraded a search to failed instead of
// silently losing records.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("result recording failed: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }
