package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/certpatrol/patrolmgr/internal/search"
	"github.com/certpatrol/patrolmgr/internal/store"
)

// startPostgresContainer starts a PostgreSQL container for tests and returns
// a DSN for the pgx stdlib driver. Skips when Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}
	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	p, err := db.CreateProject(ctx, "pgproj", "pg test")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	cfg := search.DefaultConfig()
	cfg.Pattern = `.*\.example\.com`
	cfg.CTLogs = []string{"https://ct.example.org/a"}
	s, err := db.CreateSearch(ctx, p.ID, "pgsearch", cfg)
	if err != nil {
		t.Fatalf("create search: %v", err)
	}
	if s.Status != search.StatusIdle {
		t.Fatalf("new search status = %s, want idle", s.Status)
	}

	if err := db.UpdateSearchStatus(ctx, s.ID, search.StatusRunning, 777); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := db.GetSearch(ctx, s.ID)
	if err != nil {
		t.Fatalf("get search: %v", err)
	}
	if got.Status != search.StatusRunning || got.PID != 777 {
		t.Fatalf("unexpected search: %+v", got)
	}
	if len(got.Config.CTLogs) != 1 || got.Config.CTLogs[0] != "https://ct.example.org/a" {
		t.Fatalf("ct_logs not round-tripped: %v", got.Config.CTLogs)
	}

	now := time.Now().UTC()
	if err := db.AddResult(ctx, s.ID, "found.example.com", now); err != nil {
		t.Fatalf("add result: %v", err)
	}
	results, err := db.ListResults(ctx, s.ID, 10, 0)
	if err != nil || len(results) != 1 || results[0].Domain != "found.example.com" {
		t.Fatalf("list results: %v, %+v", err, results)
	}
	n, err := db.CountResults(ctx, s.ID)
	if err != nil || n != 1 {
		t.Fatalf("count results: %d, %v", n, err)
	}

	if err := db.DeleteSearch(ctx, s.ID); err != nil {
		t.Fatalf("delete search: %v", err)
	}
	if _, err := db.GetSearch(ctx, s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get deleted = %v, want ErrNotFound", err)
	}
	if err := db.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
}
