package worker

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestStartCapturesStdout(t *testing.T) {
	requireUnix(t)
	p, err := Start(Command{Path: "/bin/sh", Args: []string{"-c", "echo one; echo two"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sc := bufio.NewScanner(p.Stdout())
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected output: %v", lines)
	}
	if p.ExitErr() != nil {
		t.Fatalf("clean exit should record nil, got %v", p.ExitErr())
	}
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	if _, err := Start(Command{}); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestStartFailsForMissingBinary(t *testing.T) {
	if _, err := Start(Command{Path: "/nonexistent/certpatrol-missing"}); err == nil {
		t.Fatalf("expected spawn error")
	}
}

func TestStopTerminatesGracefully(t *testing.T) {
	requireUnix(t)
	p, err := Start(Command{Path: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	go func() { _ = p.Wait() }()

	if err := p.Stop(3 * time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-p.WaitDone():
	case <-time.After(5 * time.Second):
		t.Fatalf("process not reaped after stop")
	}
	if !p.StopRequested() {
		t.Fatalf("stop request flag not set")
	}
	if p.Alive() {
		t.Fatalf("process still alive after stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	requireUnix(t)
	p, err := Start(Command{Path: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	go func() { _ = p.Wait() }()

	if err := p.Stop(3 * time.Second); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := p.Stop(3 * time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestKillEscalationAfterGrace(t *testing.T) {
	requireUnix(t)
	// The shell ignores SIGTERM and respawns its sleep child, so only the
	// SIGKILL escalation can end it.
	p, err := Start(Command{Path: "/bin/sh", Args: []string{"-c", "trap '' TERM; while true; do sleep 0.1; done"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	go func() { _ = p.Wait() }()

	start := time.Now()
	if err := p.Stop(500 * time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-p.WaitDone():
	case <-time.After(5 * time.Second):
		t.Fatalf("SIGKILL escalation did not reap process")
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Fatalf("stop returned before grace period elapsed")
	}
}

func TestCrashRecordsExitError(t *testing.T) {
	requireUnix(t)
	p, err := Start(Command{Path: "/bin/sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Wait(); err == nil {
		t.Fatalf("expected non-nil exit error")
	}
	if p.ExitErr() == nil {
		t.Fatalf("exit error not recorded")
	}
	if p.StoppedAt().IsZero() {
		t.Fatalf("stop time not recorded")
	}
}

func TestStderrRedirectedToFile(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "stderr.log")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	p, err := Start(Command{
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo oops 1>&2"},
		Stderr: f,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = p.Wait()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "oops\n" {
		t.Fatalf("stderr capture = %q, want %q", string(b), "oops\n")
	}
}

func TestProcessGroupConfigured(t *testing.T) {
	requireUnix(t)
	p, err := Start(Command{Path: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		_ = p.Stop(time.Second)
	}()
	go func() { _ = p.Wait() }()
	if p.PID() <= 0 {
		t.Fatalf("pid not available")
	}
}
