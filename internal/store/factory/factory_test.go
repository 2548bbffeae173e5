package factory

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewFromDSNEmptyFails(t *testing.T) {
	if _, err := NewFromDSN("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestNewFromDSNBarePathIsSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bare.db")
	st, err := NewFromDSN(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
}

func TestNewFromDSNSQLiteScheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheme.db")
	st, err := NewFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
}
