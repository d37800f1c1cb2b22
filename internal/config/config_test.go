package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 30*time.Second, cfg.DefaultTimeout())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_parallel: 2
tick_budget: 12
tick_interval: 250ms
log_level: debug
store:
  driver: sqlite
  path: /tmp/weave.db
redis:
  addr: redis:6379
  ttl: 24h
backplane: redis
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxParallel)
	assert.Equal(t, int64(12), cfg.TickBudget)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.Equal(t, "weave:", cfg.Redis.Prefix, "unset keys keep their default")
	assert.Equal(t, 5, cfg.MaxAttempts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"timeout", func(c *Config) { c.DefaultTimeoutMs = 0 }, "default_timeout_ms"},
		{"parallel", func(c *Config) { c.MaxParallel = 0 }, "max_parallel"},
		{"attempts", func(c *Config) { c.MaxAttempts = 0 }, "max_attempts"},
		{"budget", func(c *Config) { c.TickBudget = -1 }, "tick_budget"},
		{"interval", func(c *Config) { c.TickBudget = 5; c.TickInterval = 0 }, "tick_interval"},
		{"driver", func(c *Config) { c.Store.Driver = "mongo" }, "unknown store driver"},
		{"file path", func(c *Config) { c.Store.Driver = DriverFile }, "store.path"},
		{"mysql dsn", func(c *Config) { c.Store.Driver = DriverMySQL }, "store.dsn"},
		{"backplane", func(c *Config) { c.Backplane = "kafka" }, "unknown backplane"},
		{"redis addr", func(c *Config) { c.Backplane = BackplaneRedis; c.Redis.Addr = "" }, "redis.addr"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_parallel: [\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
