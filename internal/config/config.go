package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/certpatrol/patrolmgr/internal/logger"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite" (default) or "postgres"
	Path string `toml:"path" mapstructure:"path"` // sqlite file path
	DSN  string `toml:"dsn" mapstructure:"dsn"`   // postgres DSN
}

// HistoryConfig configures the optional ClickHouse event sink.
type HistoryConfig struct {
	Type     string `toml:"type" mapstructure:"type"` // "clickhouse" or empty (disabled)
	Addr     string `toml:"addr" mapstructure:"addr"`
	Database string `toml:"database" mapstructure:"database"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	Table    string `toml:"table" mapstructure:"table"`
}

// Config is the daemon's top-level TOML structure.
type Config struct {
	Listen        string        `toml:"listen" mapstructure:"listen"`
	BasePath      string        `toml:"base_path" mapstructure:"base_path"`
	WorkerCommand string        `toml:"worker_command" mapstructure:"worker_command"`
	MaxConcurrent int           `toml:"max_concurrent" mapstructure:"max_concurrent"`
	StopWait      time.Duration `toml:"stop_wait" mapstructure:"stop_wait"`
	SkipPrefixes  []string      `toml:"skip_prefixes" mapstructure:"skip_prefixes"`
	Store         StoreConfig   `toml:"store" mapstructure:"store"`
	History       HistoryConfig `toml:"history" mapstructure:"history"`
	Log           logger.Config `toml:"log" mapstructure:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:        "127.0.0.1:8080",
		BasePath:      "/api",
		WorkerCommand: "certpatrol",
		MaxConcurrent: 20,
		StopWait:      10 * time.Second,
		SkipPrefixes:  []string{"#", "["},
		Store:         StoreConfig{Type: "sqlite", Path: "patrolmgr.db"},
	}
}

// Load reads a TOML config file and applies environment overrides. An empty
// path yields the defaults (still subject to env overrides).
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv honors the same environment variables the original manager used.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MANAGER_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("MAX_CONCURRENT_SEARCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}
	}
	if v := os.Getenv("CERTPATROL_CMD"); v != "" {
		cfg.WorkerCommand = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Store = StoreConfig{Type: "sqlite", Path: v}
	}
}

func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.WorkerCommand == "" {
		return fmt.Errorf("worker_command must not be empty")
	}
	switch c.Store.Type {
	case "", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgres", "postgresql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported store type %q", c.Store.Type)
	}
	switch c.History.Type {
	case "", "clickhouse":
	default:
		return fmt.Errorf("unsupported history type %q", c.History.Type)
	}
	return nil
}

// StoreDSN returns the DSN understood by the store factory.
func (c Config) StoreDSN() string {
	switch c.Store.Type {
	case "postgres", "postgresql":
		return c.Store.DSN
	default:
		return c.Store.Path
	}
}
