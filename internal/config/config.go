// Package config loads the worker and CLI settings.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// Backplane kinds.
const (
	BackplaneMemory = "memory"
	BackplaneRedis  = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	DefaultTimeoutMs int           `yaml:"default_timeout_ms"`
	MaxParallel      int           `yaml:"max_parallel"`
	MaxAttempts      int           `yaml:"max_attempts"`
	TickBudget       int64         `yaml:"tick_budget"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	Group            string        `yaml:"group"`

	Store     StoreConfig `yaml:"store"`
	Redis     RedisConfig `yaml:"redis"`
	Backplane string      `yaml:"backplane"`

	MetricsAddr string `yaml:"metrics_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	// SecretsPrefix selects environment variables exposed to nodes as secrets.
	SecretsPrefix string `yaml:"secrets_prefix"`

	Security SecurityConfig `yaml:"security"`
	Tools    ToolsConfig    `yaml:"tools"`
}

// ToolsConfig enables process nodes.
type ToolsConfig struct {
	// File lists the allow-listed commands (YAML or JSON).
	File string `yaml:"file"`

	// AllowInline lets nodes name a command directly.
	AllowInline bool `yaml:"allow_inline"`

	// Dir is the working directory of the commands.
	Dir string `yaml:"dir"`
}

// Enabled reports whether process nodes should be registered.
func (t ToolsConfig) Enabled() bool {
	return t.File != "" || t.AllowInline
}

// SecurityConfig protects run data at rest.
type SecurityConfig struct {
	// KeyEnv names the environment variable holding the base64 AES-256 key
	// used to encrypt checkpoints and activities. Empty disables encryption.
	KeyEnv string `yaml:"key_env"`

	// FallbackKeyEnvs name older keys still accepted for decryption.
	FallbackKeyEnvs []string `yaml:"fallback_key_envs"`

	// MaskKeys are regular expressions; matching state keys are masked
	// before they are stored.
	MaskKeys []string `yaml:"mask_keys"`
}

// StoreConfig selects the StateStore backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig is shared by the Redis store, backplane and locker.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		DefaultTimeoutMs: 30000,
		MaxParallel:      8,
		MaxAttempts:      5,
		TickBudget:       0,
		TickInterval:     time.Second,
		Group:            "weave-executors",
		Store:            StoreConfig{Driver: DriverMemory},
		Redis:            RedisConfig{Addr: "localhost:6379", Prefix: "weave:"},
		Backplane:        BackplaneMemory,
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		LogFormat:        "text",
		SecretsPrefix:    "WEAVE_SECRET_",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// DefaultTimeout returns the per node call timeout.
func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// Level parses LogLevel.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.DefaultTimeoutMs < 1 {
		errs = append(errs, errors.New("default_timeout_ms must be >= 1"))
	}
	if c.MaxParallel < 1 {
		errs = append(errs, errors.New("max_parallel must be >= 1"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be >= 1"))
	}
	if c.TickBudget < 0 {
		errs = append(errs, errors.New("tick_budget must be >= 0"))
	}
	if c.TickBudget > 0 && c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be > 0 when tick_budget is set"))
	}

	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverFile, DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for driver %q", c.Store.Driver))
		}
	case DriverMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for driver \"mysql\""))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Backplane {
	case BackplaneMemory, BackplaneRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown backplane %q", c.Backplane))
	}
	if (c.Backplane == BackplaneRedis || c.Store.Driver == DriverRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
