package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestWorkerStderrDisabledWithoutDir(t *testing.T) {
	w, err := Config{}.WorkerStderr(1)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil writer when no dir configured")
	}
}

func TestWorkerStderrWritesRotatedFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := Config{Dir: dir}

	w, err := cfg.WorkerStderr(7)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if _, err := w.Write([]byte("worker says hi\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "search_7.stderr.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(b) != "worker says hi\n" {
		t.Fatalf("log content = %q", string(b))
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	lg := Config{Level: "error"}.NewLogger()
	ctx := context.Background()
	if lg.Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("info should be disabled at error level")
	}
	if !lg.Enabled(ctx, slog.LevelError) {
		t.Fatalf("error should be enabled")
	}
}

func TestValOr(t *testing.T) {
	if valOr(0, 5) != 5 || valOr(-1, 5) != 5 || valOr(3, 5) != 3 {
		t.Fatalf("valOr defaults wrong")
	}
}
