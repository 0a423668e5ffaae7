// Package config handles modeldock configuration loading and management.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/flynn-ai/modeldock/internal/catalog"
	apperrors "github.com/flynn-ai/modeldock/internal/errors"
)

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".modeldock")

	return &Config{
		Engine: EngineConfig{
			BaseURL:      "http://127.0.0.1:11435",
			Timeout:      Duration{10 * time.Minute},
			DefaultModel: catalog.Defaults()[0].ID,
		},
		Backoff: BackoffConfig{
			PreAttemptUnit: Duration{2 * time.Second},
			RetryUnit:      Duration{3 * time.Second},
			Tick:           Duration{time.Second},
		},
		Paths: PathsConfig{
			DataDir:   dataDir,
			LogsDir:   filepath.Join(dataDir, "logs"),
			CacheDB:   filepath.Join(dataDir, "cache.db"),
			HistoryDB: filepath.Join(dataDir, "history.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
		Models: catalog.Defaults(),
	}
}

// DefaultPath returns ~/.modeldock/config.toml.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".modeldock", "config.toml")
}

// Load loads the configuration from the given path.
// If the file doesn't exist, returns defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// A [[models]] table in the file replaces the built-in catalog.
	cfg.Models = nil
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "parse "+configPath)
	}
	if len(cfg.Models) == 0 {
		cfg.Models = catalog.Defaults()
	}
	if !md.IsDefined("engine", "default_model") {
		cfg.Engine.DefaultModel = cfg.Models[0].ID
	}

	cfg = expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to the given path.
func (c *Config) Save(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	return encoder.Encode(c)
}

// Validate checks settings that would otherwise fail later and less
// clearly.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Engine.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperrors.New(apperrors.CodeConfigInvalid,
			fmt.Sprintf("engine.base_url %q is not an absolute URL", c.Engine.BaseURL),
			apperrors.KindUnknown)
	}
	if c.Backoff.PreAttemptUnit.Duration < 0 || c.Backoff.RetryUnit.Duration < 0 || c.Backoff.Tick.Duration <= 0 {
		return apperrors.New(apperrors.CodeConfigInvalid,
			"backoff units must not be negative and tick must be positive",
			apperrors.KindUnknown)
	}
	cat, err := catalog.New(c.Models)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "invalid [[models]]")
	}
	if c.Engine.DefaultModel != "" {
		if !cat.Contains(c.Engine.DefaultModel) {
			return apperrors.New(apperrors.CodeConfigInvalid,
				fmt.Sprintf("engine.default_model %q is not in the catalog", c.Engine.DefaultModel),
				apperrors.KindUnknownModel)
		}
	}
	return nil
}

// Catalog builds the model catalog from the configured models.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	return catalog.New(c.Models)
}

// Schedule returns the configured backoff schedule.
func (c *Config) Schedule() apperrors.Schedule {
	return apperrors.Schedule{
		PreAttemptUnit: c.Backoff.PreAttemptUnit.Duration,
		RetryUnit:      c.Backoff.RetryUnit.Duration,
		Tick:           c.Backoff.Tick.Duration,
	}
}

// LogFile returns the log file path.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.Paths.LogsDir, "modeldock.log")
}

// expandPaths expands ~ and environment variables in paths.
func expandPaths(cfg *Config) *Config {
	cfg.Paths.DataDir = expand(cfg.Paths.DataDir)
	cfg.Paths.LogsDir = expand(cfg.Paths.LogsDir)
	cfg.Paths.CacheDB = expand(cfg.Paths.CacheDB)
	cfg.Paths.HistoryDB = expand(cfg.Paths.HistoryDB)
	cfg.Log.File = expand(cfg.Log.File)
	return cfg
}

func expand(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, p[1:])
	}
	return p
}
