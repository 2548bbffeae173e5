// Package patrolmgr orchestrates long-running certpatrol worker processes:
// it spawns one worker per started search, captures and persists the domains
// the worker discovers, enforces a global concurrency cap and tracks every
// search's lifecycle status.
package patrolmgr

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/certpatrol/patrolmgr/internal/config"
	"github.com/certpatrol/patrolmgr/internal/history"
	chsink "github.com/certpatrol/patrolmgr/internal/history/clickhouse"
	"github.com/certpatrol/patrolmgr/internal/metrics"
	"github.com/certpatrol/patrolmgr/internal/orchestrator"
	"github.com/certpatrol/patrolmgr/internal/search"
	"github.com/certpatrol/patrolmgr/internal/server"
	"github.com/certpatrol/patrolmgr/internal/store"
	storefactory "github.com/certpatrol/patrolmgr/internal/store/factory"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Config = cfg.Config

type Status = search.Status

type Search = search.Search

type Project = search.Project

type Result = search.Result

type SearchConfig = search.Config

type HistorySink = history.Sink

// Error values surfaced by Engine operations.
var (
	ErrAlreadyRunning   = orchestrator.ErrAlreadyRunning
	ErrCapacityExceeded = orchestrator.ErrCapacityExceeded
	ErrSearchNotFound   = orchestrator.ErrSearchNotFound
	ErrProjectNotFound  = orchestrator.ErrProjectNotFound
)

// DefaultConfig returns the daemon defaults.
func DefaultConfig() Config { return cfg.Default() }

// LoadConfig reads a TOML config file with environment overrides applied.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// Engine bundles the store, the orchestrator and any history sinks into one
// embeddable unit. Create it once at startup and Close it on exit.
type Engine struct {
	cfg   Config
	st    store.Store
	orch  *orchestrator.Orchestrator
	sinks []history.Sink
}

// Open builds the engine from configuration: store (schema ensured),
// orchestrator, metrics registration and the optional history sink.
func Open(c Config) (*Engine, error) {
	st, err := storefactory.NewFromDSN(c.StoreDSN())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	_ = metrics.Register(prometheus.DefaultRegisterer)

	lg := c.Log.NewLogger()
	orch := orchestrator.NewWithStore(orchestrator.Options{
		MaxConcurrent: c.MaxConcurrent,
		WorkerCommand: c.WorkerCommand,
		StopWait:      c.StopWait,
		SkipPrefixes:  c.SkipPrefixes,
		Log:           c.Log,
		Logger:        lg,
	}, st)

	e := &Engine{cfg: c, st: st, orch: orch}
	if c.History.Type == "clickhouse" {
		sink, err := chsink.New(c.History.Addr, c.History.Database,
			c.History.Username, c.History.Password, c.History.Table)
		if err != nil {
			lg.Warn("history sink disabled", "error", err)
		} else {
			if err := sink.EnsureSchema(context.Background()); err != nil {
				lg.Warn("history schema setup failed", "error", err)
			}
			e.sinks = append(e.sinks, sink)
			orch.SetHistorySinks(e.sinks...)
		}
	}
	return e, nil
}

// SetHistorySinks replaces the configured history sinks.
func (e *Engine) SetHistorySinks(sinks ...HistorySink) {
	e.sinks = append([]history.Sink(nil), sinks...)
	e.orch.SetHistorySinks(e.sinks...)
}

// Store exposes the persistence layer for API/CLI collaborators.
func (e *Engine) Store() store.Store { return e.st }

func (e *Engine) StartSearch(ctx context.Context, id int64) error {
	return e.orch.Start(ctx, id)
}

// StopSearch is idempotent; wait <= 0 uses the configured grace period.
func (e *Engine) StopSearch(ctx context.Context, id int64, wait time.Duration) error {
	return e.orch.Stop(ctx, id, wait)
}

func (e *Engine) GetStatus(id int64) Status { return e.orch.Status(id) }

func (e *Engine) GetAllStatuses() map[int64]Status { return e.orch.StatusAll() }

// Handler returns the HTTP API handler, mountable in any mux.
func (e *Engine) Handler(basePath string) http.Handler {
	return server.NewRouter(e.st, e.orch, basePath).Handler()
}

// Serve starts the standalone HTTP server for this engine.
func (e *Engine) Serve(addr, basePath string) *http.Server {
	return server.NewServer(addr, basePath, e.st, e.orch)
}

// Close drains the orchestrator (graceful stop of all running workers),
// then closes the history sinks and the store.
func (e *Engine) Close(ctx context.Context) error {
	err := e.orch.Shutdown(ctx)
	for _, s := range e.sinks {
		_ = s.Close()
	}
	if cerr := e.st.Close(); err == nil {
		err = cerr
	}
	return err
}
