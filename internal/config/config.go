package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.tgbridge/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Sync           Sync   `toml:"sync"`
}

// Sync tunes the synchronization bridge.
type Sync struct {
	// PageSize is the history page size requested during backfill.
	PageSize int `toml:"page_size"`
	// BackfillConcurrency bounds the number of chats backfilled at once.
	BackfillConcurrency int `toml:"backfill_concurrency"`
	// MaxPageAttempts bounds retries of a single failed page fetch before
	// the chat's backfill returns to idle.
	MaxPageAttempts int `toml:"max_page_attempts"`
	// QueueSize is the live-ingest queue capacity between the subscription
	// and the reconciler. The producer blocks when it is full.
	QueueSize int `toml:"queue_size"`
	// TransportTimeoutMS bounds every single transport call.
	TransportTimeoutMS int `toml:"transport_timeout_ms"`
	// ScanIntervalMS is how often the backfill coordinator rescans for
	// chats with uncovered history or stale newest cursors.
	ScanIntervalMS int `toml:"scan_interval_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Sync: Sync{
			PageSize:            100,
			BackfillConcurrency: 4,
			MaxPageAttempts:     5,
			QueueSize:           256,
			TransportTimeoutMS:  30_000,
			ScanIntervalMS:      15_000,
		},
	}
}

// TransportTimeout returns the per-call transport timeout as a duration.
func (s Sync) TransportTimeout() time.Duration {
	return time.Duration(s.TransportTimeoutMS) * time.Millisecond
}

// ScanInterval returns the backfill rescan interval as a duration.
func (s Sync) ScanInterval() time.Duration {
	return time.Duration(s.ScanIntervalMS) * time.Millisecond
}

// Load reads config from the given path, filling unset fields with defaults.
// A missing file returns the defaults without error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.DefaultSession == "" {
		c.DefaultSession = d.DefaultSession
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = d.Sync.PageSize
	}
	if c.Sync.BackfillConcurrency <= 0 {
		c.Sync.BackfillConcurrency = d.Sync.BackfillConcurrency
	}
	if c.Sync.MaxPageAttempts <= 0 {
		c.Sync.MaxPageAttempts = d.Sync.MaxPageAttempts
	}
	if c.Sync.QueueSize <= 0 {
		c.Sync.QueueSize = d.Sync.QueueSize
	}
	if c.Sync.TransportTimeoutMS <= 0 {
		c.Sync.TransportTimeoutMS = d.Sync.TransportTimeoutMS
	}
	if c.Sync.ScanIntervalMS <= 0 {
		c.Sync.ScanIntervalMS = d.Sync.ScanIntervalMS
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
