// Package config provides configuration types for modeldock.
package config

import (
	"time"

	"github.com/flynn-ai/modeldock/internal/catalog"
)

// Config represents the main modeldock configuration.
type Config struct {
	Engine  EngineConfig         `toml:"engine"`
	Backoff BackoffConfig        `toml:"backoff"`
	Paths   PathsConfig          `toml:"paths"`
	Log     LogConfig            `toml:"log"`
	Models  []catalog.Descriptor `toml:"models"`
}

// EngineConfig configures the inference server connection.
type EngineConfig struct {
	BaseURL      string   `toml:"base_url"`
	Timeout      Duration `toml:"timeout"`
	DefaultModel string   `toml:"default_model"`
}

// BackoffConfig configures the delays around load retries.
type BackoffConfig struct {
	PreAttemptUnit Duration `toml:"pre_attempt_unit"` // n * unit before retry n
	RetryUnit      Duration `toml:"retry_unit"`       // (n+1) * unit after failure n
	Tick           Duration `toml:"tick"`
}

// PathsConfig contains file path settings.
type PathsConfig struct {
	DataDir   string `toml:"data_dir"`
	LogsDir   string `toml:"logs_dir"`
	CacheDB   string `toml:"cache_db"`
	HistoryDB string `toml:"history_db"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
	File  string `toml:"file"`  // empty: <logs_dir>/modeldock.log
}

// Duration is a time.Duration written as "3s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
