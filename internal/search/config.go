package search

import (
	"errors"
	"fmt"
	"strconv"
)

// Config holds the worker invocation parameters for a search. It is validated
// at creation time and never mutated afterwards; every field maps onto a fixed
// certpatrol flag in Args.
type Config struct {
	Pattern          string   `json:"pattern" mapstructure:"pattern"`
	CTLogs           []string `json:"ct_logs,omitempty" mapstructure:"ct_logs"`
	BatchSize        int      `json:"batch_size" mapstructure:"batch_size"`
	PollSleep        float64  `json:"poll_sleep" mapstructure:"poll_sleep"`
	MinPollSleep     float64  `json:"min_poll_sleep" mapstructure:"min_poll_sleep"`
	MaxPollSleep     float64  `json:"max_poll_sleep" mapstructure:"max_poll_sleep"`
	MaxMemoryMB      int      `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	ETLD1            bool     `json:"etld1" mapstructure:"etld1"`
	Verbose          bool     `json:"verbose" mapstructure:"verbose"`
	QuietWarnings    bool     `json:"quiet_warnings" mapstructure:"quiet_warnings"`
	QuietParseErrors bool     `json:"quiet_parse_errors" mapstructure:"quiet_parse_errors"`
	DebugAll         bool     `json:"debug_all" mapstructure:"debug_all"`
	CheckpointPrefix string   `json:"checkpoint_prefix,omitempty" mapstructure:"checkpoint_prefix"`
}

// DefaultConfig mirrors the worker's own defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     256,
		PollSleep:     3.0,
		MinPollSleep:  1.0,
		MaxPollSleep:  60.0,
		MaxMemoryMB:   100,
		QuietWarnings: true,
	}
}

// Normalize fills zero-valued numeric fields with defaults so that stored
// configs created from sparse API payloads stay well-formed.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PollSleep <= 0 {
		c.PollSleep = d.PollSleep
	}
	if c.MinPollSleep <= 0 {
		c.MinPollSleep = d.MinPollSleep
	}
	if c.MaxPollSleep <= 0 {
		c.MaxPollSleep = d.MaxPollSleep
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = d.MaxMemoryMB
	}
	return c
}

func (c Config) Validate() error {
	if c.Pattern == "" {
		return errors.New("pattern is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.PollSleep <= 0 || c.MinPollSleep <= 0 || c.MaxPollSleep <= 0 {
		return errors.New("poll sleep values must be positive")
	}
	if c.MinPollSleep > c.MaxPollSleep {
		return fmt.Errorf("min_poll_sleep %v exceeds max_poll_sleep %v", c.MinPollSleep, c.MaxPollSleep)
	}
	if c.MaxMemoryMB <= 0 {
		return fmt.Errorf("max_memory_mb must be positive, got %d", c.MaxMemoryMB)
	}
	return nil
}

// Checkpoint returns the checkpoint namespace passed to the worker. It is
// unique per search so repeated runs resume from the same position.
func (c Config) Checkpoint(searchID int64) string {
	if c.CheckpointPrefix != "" {
		return c.CheckpointPrefix
	}
	return fmt.Sprintf("search_%d", searchID)
}

// Args maps the config onto the worker's argument list. The mapping is pure
// and total: a valid config always yields the same argv, flags appear in a
// fixed order, and the checkpoint identifier ties the run to its search.
func (c Config) Args(searchID int64) []string {
	args := []string{
		"-p", c.Pattern,
		"-b", strconv.Itoa(c.BatchSize),
		"-s", formatSeconds(c.PollSleep),
		"-mn", formatSeconds(c.MinPollSleep),
		"-mx", formatSeconds(c.MaxPollSleep),
		"-m", strconv.Itoa(c.MaxMemoryMB),
		"-c", c.Checkpoint(searchID),
	}
	if c.ETLD1 {
		args = append(args, "-e")
	}
	if c.Verbose {
		args = append(args, "-v")
	}
	if c.QuietWarnings {
		args = append(args, "-q")
	}
	if c.QuietParseErrors {
		args = append(args, "-x")
	}
	if c.DebugAll {
		args = append(args, "-d")
	}
	if len(c.CTLogs) > 0 {
		args = append(args, "-l")
		args = append(args, c.CTLogs...)
	}
	return args
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
