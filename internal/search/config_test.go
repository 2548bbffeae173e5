package search

import (
	"reflect"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pattern = ".*example.*"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"empty pattern", func(c *Config) { c.Pattern = "" }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"negative poll sleep", func(c *Config) { c.PollSleep = -1 }},
		{"min above max", func(c *Config) { c.MinPollSleep = 120; c.MaxPollSleep = 60 }},
		{"zero memory", func(c *Config) { c.MaxMemoryMB = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Pattern = "x"
			tc.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNormalizeFillsZeroFields(t *testing.T) {
	cfg := Config{Pattern: "x"}.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("normalized config invalid: %v", err)
	}
	d := DefaultConfig()
	if cfg.BatchSize != d.BatchSize || cfg.PollSleep != d.PollSleep ||
		cfg.MaxMemoryMB != d.MaxMemoryMB {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestArgsFixedOrder(t *testing.T) {
	cfg := Config{
		Pattern:      `.*\.example\.com`,
		BatchSize:    256,
		PollSleep:    3,
		MinPollSleep: 1,
		MaxPollSleep: 60,
		MaxMemoryMB:  100,
	}
	want := []string{
		"-p", `.*\.example\.com`,
		"-b", "256",
		"-s", "3",
		"-mn", "1",
		"-mx", "60",
		"-m", "100",
		"-c", "search_7",
	}
	got := cfg.Args(7)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("argv mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestArgsBooleanFlagsAndLogs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pattern = "acme"
	cfg.ETLD1 = true
	cfg.Verbose = true
	cfg.QuietParseErrors = true
	cfg.DebugAll = true
	cfg.CTLogs = []string{"https://ct.example.org/log1", "https://ct.example.org/log2"}

	got := cfg.Args(3)
	tail := got[len(got)-8:]
	want := []string{"-e", "-v", "-q", "-x", "-d", "-l",
		"https://ct.example.org/log1", "https://ct.example.org/log2"}
	if !reflect.DeepEqual(tail, want) {
		t.Fatalf("flag tail mismatch:\n got %v\nwant %v", tail, want)
	}
}

func TestArgsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pattern = "acme"
	a := cfg.Args(42)
	b := cfg.Args(42)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same config produced different argv: %v vs %v", a, b)
	}
}

func TestArgsFractionalSeconds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pattern = "x"
	cfg.PollSleep = 0.5
	args := cfg.Args(1)
	for i, a := range args {
		if a == "-s" {
			if args[i+1] != "0.5" {
				t.Fatalf("poll sleep formatted as %q, want 0.5", args[i+1])
			}
			return
		}
	}
	t.Fatalf("-s flag missing from %v", args)
}

func TestCheckpointDerivedFromSearchID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pattern = "x"
	if got := cfg.Checkpoint(12); got != "search_12" {
		t.Fatalf("checkpoint = %q, want search_12", got)
	}
	cfg.CheckpointPrefix = "custom"
	if got := cfg.Checkpoint(12); got != "custom" {
		t.Fatalf("checkpoint = %q, want custom", got)
	}
	// Distinct searches never share a derived checkpoint namespace.
	cfg.CheckpointPrefix = ""
	if cfg.Checkpoint(1) == cfg.Checkpoint(2) {
		t.Fatalf("checkpoints collide across searches")
	}
}

func TestStatusClassification(t *testing.T) {
	for _, st := range []Status{StatusStopped, StatusCrashed, StatusCompleted, StatusFailed} {
		if !st.Terminal() || st.Live() {
			t.Fatalf("%s should be terminal and not live", st)
		}
	}
	for _, st := range []Status{StatusPending, StatusRunning, StatusStopping} {
		if st.Terminal() || !st.Live() {
			t.Fatalf("%s should be live and not terminal", st)
		}
	}
	if StatusIdle.Terminal() || StatusIdle.Live() {
		t.Fatalf("idle is neither terminal nor live")
	}
}
