package orchestrator

import (
	"context"

	"github.com/certpatrol/patrolmgr/internal/metrics"
	"github.com/certpatrol/patrolmgr/internal/search"
	"github.com/certpatrol/patrolmgr/internal/worker"
)

// supervise owns the monitoring path for one worker run: it drives the
// output reader, reaps the process exit, classifies it and releases the
// admission slot. Exactly one supervisor exists per run; its completion is
// observable through the entry's supDone channel.
func (o *Orchestrator) supervise(e *entry, proc *worker.Process, reader *worker.Reader) {
	defer o.wg.Done()

	go reader.Run(context.Background())

	// A degraded reader fails the search rather than looping or losing data
	// silently: tear the worker down as soon as it reports a sink rejection
	// or an unreadable stream.
	go func() {
		select {
		case <-reader.Degraded():
			o.opts.Logger.Error("stopping worker after degraded result path",
				"search_id", e.id, "error", reader.Err())
			_ = proc.Stop(o.opts.StopWait)
		case <-reader.Done():
		}
	}()

	// All pipe reads must finish before the exit is reaped; EOF on the
	// stream is a separate signal from process exit.
	<-reader.Done()
	exitErr := proc.Wait()

	if derr := reader.Err(); derr != nil {
		e.mu.Lock()
		e.persist = &PersistenceError{Err: derr}
		e.mu.Unlock()
	}

	final := classifyExit(proc, exitErr, reader.Err() != nil)
	o.transition(e, final, 0)
	o.slots.Release(e.id)
	metrics.SetRunning(o.slots.Held())
	metrics.IncExit(e.id, final.String())

	o.opts.Logger.Info("worker exited",
		"search_id", e.id,
		"status", final,
		"results", reader.Count(),
		"exit_error", exitErr)

	e.mu.Lock()
	if e.supDone != nil {
		close(e.supDone)
	}
	e.mu.Unlock()
}

// classifyExit maps a reaped process onto its terminal status. A requested
// stop wins over the exit code; an uninitiated clean exit means the worker
// finished its bounded input; anything else is a crash.
func classifyExit(proc *worker.Process, exitErr error, degraded bool) search.Status {
	switch {
	case degraded:
		return search.StatusFailed
	case proc.StopRequested():
		return search.StatusStopped
	case exitErr == nil:
		return search.StatusCompleted
	default:
		return search.StatusCrashed
	}
}
