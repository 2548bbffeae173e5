package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/certpatrol/patrolmgr/internal/history"
	"github.com/certpatrol/patrolmgr/internal/search"
)

// setupClickHouseContainer starts a ClickHouse container for testing. Skips
// when Docker is unavailable.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return container, host + ":" + port.Port()
}

func TestClickHouseSinkIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(addr, "default", "default", "", "search_events_test")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()
	if err := sink.EnsureSchema(ctx); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	transition := history.Event{
		Type:       history.EventTransition,
		OccurredAt: time.Now().UTC(),
		SearchID:   42,
		Status:     search.StatusRunning,
		PID:        1234,
	}
	if err := sink.Send(ctx, transition); err != nil {
		t.Fatalf("Failed to send transition event: %v", err)
	}

	discovery := history.Event{
		Type:       history.EventDiscovery,
		OccurredAt: time.Now().UTC(),
		SearchID:   42,
		Domain:     "found.example.com",
	}
	if err := sink.Send(ctx, discovery); err != nil {
		t.Fatalf("Failed to send discovery event: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	row := sink.conn.QueryRow(ctx,
		"SELECT COUNT(*) FROM search_events_test WHERE search_id = ?", int64(42))
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSinkConnectionError(t *testing.T) {
	if _, err := New("invalid-host:9000", "default", "default", "", "t"); err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
