package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/certpatrol/patrolmgr/internal/history"
	"github.com/certpatrol/patrolmgr/internal/logger"
	"github.com/certpatrol/patrolmgr/internal/metrics"
	"github.com/certpatrol/patrolmgr/internal/search"
	"github.com/certpatrol/patrolmgr/internal/store"
	"github.com/certpatrol/patrolmgr/internal/worker"
)

// Source provides read-only search configuration and the project existence
// check. Configuration is immutable once a search exists.
type Source interface {
	GetSearch(ctx context.Context, id int64) (search.Search, error)
	ProjectExists(ctx context.Context, id int64) (bool, error)
}

// StatusRecorder persists status transitions so last-known status survives
// orchestrator restarts.
type StatusRecorder interface {
	UpdateSearchStatus(ctx context.Context, id int64, status search.Status, pid int) error
}

// Options configures an Orchestrator.
type Options struct {
	// MaxConcurrent bounds live searches; zero means DefaultMaxConcurrent.
	MaxConcurrent int
	// WorkerCommand is the certpatrol binary to spawn.
	WorkerCommand string
	// StopWait is the default grace period before SIGKILL escalation.
	StopWait time.Duration
	// SkipPrefixes marks worker stdout lines as diagnostics, not data.
	SkipPrefixes []string
	// Log configures per-search worker stderr capture.
	Log logger.Config
	// Logger receives engine logs; defaults to slog.Default.
	Logger *slog.Logger
}

const (
	DefaultMaxConcurrent = 20
	DefaultWorkerCommand = "certpatrol"
	DefaultStopWait      = 10 * time.Second
)

// Orchestrator is the single process-wide authority for the status and
// process handle of every search. It owns the admission slots, spawns one
// supervisor goroutine per running search and serializes transitions per
// search. Create one at process startup and Shutdown it on exit.
type Orchestrator struct {
	opts  Options
	src   Source
	sink  worker.Sink
	rec   StatusRecorder
	slots *slots

	mu      sync.RWMutex
	entries map[int64]*entry
	closed  bool

	histMu sync.Mutex
	hist   []history.Sink

	wg sync.WaitGroup
}

// entry is the registry record for one search. It is created on the first
// start request and retained after terminal transitions so last-known status
// stays queryable until the next start.
type entry struct {
	id int64

	mu      sync.Mutex
	status  search.Status
	proc    *worker.Process
	stopReq bool
	supDone chan struct{} // closed when the supervisor finishes one run
	persist error         // sink failure that degraded the run
}

// New constructs an Orchestrator. src supplies configuration and project
// checks, sink receives discovered domains, rec (optional) persists status
// transitions.
func New(opts Options, src Source, sink worker.Sink, rec StatusRecorder) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.WorkerCommand == "" {
		opts.WorkerCommand = DefaultWorkerCommand
	}
	if opts.StopWait <= 0 {
		opts.StopWait = DefaultStopWait
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		opts:    opts,
		src:     src,
		sink:    sink,
		rec:     rec,
		slots:   newSlots(opts.MaxConcurrent),
		entries: make(map[int64]*entry),
	}
}

// NewWithStore wires a store as all three collaborators and instruments the
// result path with metrics and history fanout.
func NewWithStore(opts Options, st store.Store) *Orchestrator {
	o := New(opts, st, nil, st)
	o.sink = &recordingSink{o: o, st: st}
	return o
}

// SetHistorySinks configures external analytics sinks. Passing none clears
// the list.
func (o *Orchestrator) SetHistorySinks(sinks ...history.Sink) {
	o.histMu.Lock()
	o.hist = append([]history.Sink(nil), sinks...)
	o.histMu.Unlock()
}

// Start authorizes, spawns and begins supervising the search's worker.
// Errors: ErrAlreadyRunning, ErrCapacityExceeded, ErrSearchNotFound,
// ErrProjectNotFound, or a *SpawnError (which also leaves the search failed).
func (o *Orchestrator) Start(ctx context.Context, searchID int64) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	e := o.entries[searchID]
	if e == nil {
		e = &entry{id: searchID, status: search.StatusIdle}
		o.entries[searchID] = e
	}
	o.mu.Unlock()

	// Admission and the pending transition are atomic per search; a second
	// concurrent start observes the live status and is rejected.
	e.mu.Lock()
	if e.status.Live() {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := o.slots.Acquire(searchID); err != nil {
		e.mu.Unlock()
		metrics.IncAdmissionReject()
		return err
	}
	prev := e.status
	e.status = search.StatusPending
	e.stopReq = false
	e.proc = nil
	e.persist = nil
	e.supDone = make(chan struct{})
	e.mu.Unlock()
	metrics.SetRunning(o.slots.Held())
	metrics.IncTransition(searchID, prev.String(), search.StatusPending.String())

	sr, err := o.src.GetSearch(ctx, searchID)
	if err != nil {
		o.abortStart(e, prev)
		if errors.Is(err, store.ErrNotFound) {
			return ErrSearchNotFound
		}
		return err
	}
	if ok, err := o.src.ProjectExists(ctx, sr.ProjectID); err != nil {
		o.abortStart(e, prev)
		return err
	} else if !ok {
		o.abortStart(e, prev)
		return ErrProjectNotFound
	}
	if err := sr.Config.Validate(); err != nil {
		o.abortStart(e, prev)
		return err
	}

	stderr, err := o.opts.Log.WorkerStderr(searchID)
	if err != nil {
		o.opts.Logger.Warn("worker stderr capture unavailable", "search_id", searchID, "error", err)
		stderr = nil
	}
	proc, err := worker.Start(worker.Command{
		Path:   o.opts.WorkerCommand,
		Args:   sr.Config.Args(searchID),
		Stderr: stderr,
	})
	if err != nil {
		metrics.IncSpawnFailure(searchID)
		o.transition(e, search.StatusFailed, 0)
		o.slots.Release(searchID)
		metrics.SetRunning(o.slots.Held())
		e.mu.Lock()
		close(e.supDone)
		e.mu.Unlock()
		o.opts.Logger.Error("failed to spawn worker", "search_id", searchID, "error", err)
		return &SpawnError{Err: err}
	}

	// A stop may have arrived while the spawn was in flight; honor it so no
	// orphaned process survives the race.
	e.mu.Lock()
	e.proc = proc
	stopped := e.stopReq
	if stopped {
		proc.RequestStop()
	}
	e.mu.Unlock()

	o.transition(e, search.StatusRunning, proc.PID())
	metrics.IncStart(searchID)
	o.opts.Logger.Info("worker started",
		"search_id", searchID, "pid", proc.PID(), "pattern", sr.Config.Pattern)

	reader := worker.NewReader(searchID, proc.Stdout(), o.sink, o.opts.SkipPrefixes, o.opts.Logger)
	o.wg.Add(1)
	go o.supervise(e, proc, reader)

	if stopped {
		go func() { _ = proc.Stop(o.opts.StopWait) }()
	}
	return nil
}

// abortStart rolls back the pending transition after a pre-spawn failure.
func (o *Orchestrator) abortStart(e *entry, prev search.Status) {
	e.mu.Lock()
	e.status = prev
	close(e.supDone)
	e.supDone = nil
	e.mu.Unlock()
	o.slots.Release(e.id)
	metrics.SetRunning(o.slots.Held())
}

// Stop gracefully terminates the search's worker, escalating to a forced
// kill after wait. Stopping a stopped or unknown search is a no-op. wait <= 0
// uses the configured default.
func (o *Orchestrator) Stop(ctx context.Context, searchID int64, wait time.Duration) error {
	if wait <= 0 {
		wait = o.opts.StopWait
	}
	o.mu.RLock()
	e := o.entries[searchID]
	o.mu.RUnlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	if !e.status.Live() {
		e.mu.Unlock()
		return nil
	}
	e.stopReq = true
	proc := e.proc
	done := e.supDone
	e.mu.Unlock()

	if proc == nil {
		// Start is still in flight; the flag above prevents the pending
		// spawn from surviving. Nothing to signal yet.
		return nil
	}

	o.transition(e, search.StatusStopping, -1)
	if err := proc.Stop(wait); err != nil {
		return err
	}
	// Wait for the supervisor to classify the exit so a following status
	// call observes a terminal state.
	if done != nil {
		select {
		case <-done:
		case <-time.After(wait + 5*time.Second):
			o.opts.Logger.Warn("supervisor did not settle after stop", "search_id", searchID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status returns the search's current status without touching subprocess
// I/O. Unknown searches report idle.
func (o *Orchestrator) Status(searchID int64) search.Status {
	o.mu.RLock()
	e := o.entries[searchID]
	o.mu.RUnlock()
	if e == nil {
		return search.StatusIdle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastError returns the persistence failure that degraded the search's most
// recent run, if any.
func (o *Orchestrator) LastError(searchID int64) error {
	o.mu.RLock()
	e := o.entries[searchID]
	o.mu.RUnlock()
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persist
}

// StatusAll returns the status of every search the registry has seen.
func (o *Orchestrator) StatusAll() map[int64]search.Status {
	o.mu.RLock()
	entries := make([]*entry, 0, len(o.entries))
	for _, e := range o.entries {
		entries = append(entries, e)
	}
	o.mu.RUnlock()
	out := make(map[int64]search.Status, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out[e.id] = e.status
		e.mu.Unlock()
	}
	return out
}

// Running returns the number of live searches.
func (o *Orchestrator) Running() int { return o.slots.Held() }

// Shutdown drains the orchestrator: all running workers are stopped
// gracefully and every supervisor is joined. Further starts are rejected.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	ids := make([]int64, 0, len(o.entries))
	for id := range o.entries {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		_ = o.Stop(ctx, id, o.opts.StopWait)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transition moves the search to the given status. Terminal states are only
// left via an explicit new start, never by a late concurrent transition.
// pid semantics follow StatusRecorder: -1 keeps the stored pid, 0 clears it.
func (o *Orchestrator) transition(e *entry, to search.Status, pid int) {
	e.mu.Lock()
	from := e.status
	if from == to || (from.Terminal() && to != search.StatusPending) {
		e.mu.Unlock()
		return
	}
	// A stop racing a start must not regress stopping back to running.
	if from == search.StatusStopping && to == search.StatusRunning {
		e.mu.Unlock()
		return
	}
	e.status = to
	e.mu.Unlock()

	metrics.IncTransition(e.id, from.String(), to.String())
	if o.rec != nil {
		if err := o.rec.UpdateSearchStatus(context.Background(), e.id, to, pid); err != nil {
			o.opts.Logger.Warn("failed to persist status transition",
				"search_id", e.id, "status", to, "error", err)
		}
	}
	o.sendHistory(history.Event{
		Type:       history.EventTransition,
		OccurredAt: time.Now().UTC(),
		SearchID:   e.id,
		Status:     to,
		PID:        max(pid, 0),
	})
}

func (o *Orchestrator) sendHistory(evt history.Event) {
	o.histMu.Lock()
	sinks := append([]history.Sink(nil), o.hist...)
	o.histMu.Unlock()
	for _, s := range sinks {
		if err := s.Send(context.Background(), evt); err != nil {
			o.opts.Logger.Debug("history sink send failed", "error", err)
		}
	}
}

// recordingSink persists discovered domains and fans out discovery events.
type recordingSink struct {
	o  *Orchestrator
	st store.Store
}

func (rs *recordingSink) Record(ctx context.Context, searchID int64, domain string, discoveredAt time.Time) error {
	if err := rs.st.AddResult(ctx, searchID, domain, discoveredAt); err != nil {
		return err
	}
	metrics.IncResult(searchID)
	rs.o.sendHistory(history.Event{
		Type:       history.EventDiscovery,
		OccurredAt: discoveredAt,
		SearchID:   searchID,
		Domain:     domain,
	})
	return nil
}
