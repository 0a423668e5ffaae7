package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/modeldock/internal/catalog"
	apperrors "github.com/flynn-ai/modeldock/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, apperrors.DefaultSchedule(), cfg.Schedule())
	assert.Len(t, cfg.Models, len(catalog.Defaults()))
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
[engine]
base_url = "http://gpu-box:9000"
timeout = "90s"

[backoff]
pre_attempt_unit = "10ms"
retry_unit = "20ms"
tick = "5ms"

[paths]
cache_db = "~/elsewhere/cache.db"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:9000", cfg.Engine.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.Engine.Timeout.Duration)
	assert.Equal(t, apperrors.Schedule{
		PreAttemptUnit: 10 * time.Millisecond,
		RetryUnit:      20 * time.Millisecond,
		Tick:           5 * time.Millisecond,
	}, cfg.Schedule())
	assert.Equal(t, "debug", cfg.Log.Level)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "elsewhere", "cache.db"), cfg.Paths.CacheDB)
	assert.Equal(t, Default().Paths.HistoryDB, cfg.Paths.HistoryDB)
}

func TestLoadModelsReplaceCatalog(t *testing.T) {
	path := writeConfig(t, `
[[models]]
id = "custom-a"
name = "Custom A"
size = "~1GB"

[[models]]
id = "custom-b"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	cat, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())
	assert.Equal(t, "Custom A", cat.DisplayName("custom-a"))
	assert.Equal(t, "custom-b", cat.DisplayName("custom-b"))
	assert.Equal(t, "custom-a", cfg.Engine.DefaultModel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"duplicate ids", "[[models]]\nid = \"a\"\n[[models]]\nid = \"a\"\n"},
		{"relative url", "[engine]\nbase_url = \"localhost\"\n"},
		{"zero tick", "[backoff]\ntick = \"0s\"\n"},
		{"unknown default", "[engine]\ndefault_model = \"nope\"\n"},
		{"bad duration", "[engine]\ntimeout = \"soon\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.CodeConfigInvalid, appErr.Code)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Engine.BaseURL = "http://127.0.0.1:9999"
	cfg.Backoff.RetryUnit = Duration{5 * time.Second}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLogFile(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join(cfg.Paths.LogsDir, "modeldock.log"), cfg.LogFile())

	cfg.Log.File = "/tmp/x.log"
	assert.Equal(t, "/tmp/x.log", cfg.LogFile())
}
