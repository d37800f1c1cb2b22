package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/weave"
	"github.com/aretw0/weave/internal/config"
	"github.com/aretw0/weave/pkg/adapters/file"
	"github.com/aretw0/weave/pkg/adapters/memory"
	"github.com/aretw0/weave/pkg/adapters/process"
	"github.com/aretw0/weave/pkg/adapters/redis"
	"github.com/aretw0/weave/pkg/adapters/sqlstore"
	"github.com/aretw0/weave/pkg/executor"
	"github.com/aretw0/weave/pkg/observability"
	"github.com/aretw0/weave/pkg/persistence/middleware"
	"github.com/aretw0/weave/pkg/ports"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// ErrUnsupportedDriver is returned for a store driver without an adapter.
var ErrUnsupportedDriver = errors.New("unsupported driver")

// Runtime is an engine together with the resources backing it.
type Runtime struct {
	Engine   *weave.Engine
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Locker   ports.DistributedLocker

	cfg     config.Config
	closers []func() error
}

// Close releases every connection opened by NewRuntime.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// ExecutorOptions maps the configuration onto executor options.
func (r *Runtime) ExecutorOptions() []executor.Option {
	opts := []executor.Option{
		executor.WithGroup(r.cfg.Group),
		executor.WithMaxParallel(r.cfg.MaxParallel),
		executor.WithMaxAttempts(r.cfg.MaxAttempts),
	}
	if r.Locker != nil {
		opts = append(opts, executor.WithLocker(r.Locker, executor.DefaultLockTTL))
	}
	return opts
}

// NewRuntime builds an engine from cfg. Extra options are applied last, so
// callers can add hooks.
func NewRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger, extra ...weave.Option) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = observability.NewMetrics(rt.Registry)

	opts := []weave.Option{
		weave.WithLogger(logger),
		weave.WithMetrics(rt.Metrics),
		weave.WithDefaultTimeout(cfg.DefaultTimeout()),
		weave.WithSecrets(runstate.EnvSecrets{Prefix: cfg.SecretsPrefix}),
	}
	if cfg.TickBudget > 0 {
		opts = append(opts, weave.WithBudget(executor.NewBudget(cfg.TickBudget, cfg.TickInterval)))
	}

	var client *goredis.Client
	if cfg.Store.Driver == config.DriverRedis || cfg.Backplane == config.BackplaneRedis {
		client = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	storeOpts, err := rt.stores(ctx, client, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	opts = append(opts, storeOpts...)

	if cfg.Backplane == config.BackplaneRedis {
		opts = append(opts, weave.WithBackplane(redis.NewBackplane(client,
			redis.WithStreamPrefix(cfg.Redis.Prefix),
			redis.WithBackplaneLogger(logger),
		)))
		rt.Locker = redis.NewLocker(client, cfg.Redis.Prefix+"lock:")
	} else {
		opts = append(opts, weave.WithBackplane(memory.NewBackplane(memory.WithBackplaneLogger(logger))))
	}

	rt.Engine = weave.New(append(opts, extra...)...)
	if err := registerTools(rt.Engine, cfg.Tools, logger); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// NewEngine builds an in-memory engine for commands that never touch the
// configured stores, with the node types cfg enables.
func NewEngine(cfg config.Config, logger *slog.Logger) (*weave.Engine, error) {
	e := weave.New(weave.WithLogger(logger))
	if err := registerTools(e, cfg.Tools, logger); err != nil {
		return nil, err
	}
	return e, nil
}

func registerTools(e *weave.Engine, cfg config.ToolsConfig, logger *slog.Logger) error {
	if !cfg.Enabled() {
		return nil
	}
	tools := map[string]process.ToolConfig{}
	if cfg.File != "" {
		var err error
		if tools, err = process.LoadTools(cfg.File); err != nil {
			return err
		}
	}
	runner := process.NewRunner(
		process.WithTools(tools),
		process.WithInlineExecution(cfg.AllowInline),
		process.WithBaseDir(cfg.Dir),
		process.WithLogger(logger),
	)
	process.Register(e.Registry(), runner)
	logger.Debug("process nodes enabled", "tools", len(tools), "inline", cfg.AllowInline)
	return nil
}

// stores selects the state, program and join adapters for the driver.
// Joins live in Redis whenever a client exists, so that every worker sees the
// same arrivals.
func (rt *Runtime) stores(ctx context.Context, client *goredis.Client, logger *slog.Logger) ([]weave.Option, error) {
	cfg := rt.cfg
	var (
		state    ports.StateStore
		programs ports.ProgramStore
		joins    ports.JoinCounter = memory.NewJoinCounter()
	)
	redisOpts := []redis.Option{redis.WithPrefix(cfg.Redis.Prefix)}
	if cfg.Redis.TTL > 0 {
		redisOpts = append(redisOpts, redis.WithTTL(cfg.Redis.TTL))
	}
	if client != nil {
		joins = redis.NewJoinCounter(client, redisOpts...)
	}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		state, programs = memory.NewStore(), memory.NewProgramStore()
	case config.DriverFile:
		s := file.NewStore(cfg.Store.Path)
		state, programs = s, s
	case config.DriverSQLite, config.DriverMySQL:
		var (
			s   *sqlstore.Store
			err error
		)
		if cfg.Store.Driver == config.DriverSQLite {
			s, err = sqlstore.OpenSQLite(ctx, cfg.Store.Path)
		} else {
			s, err = sqlstore.OpenMySQL(ctx, cfg.Store.DSN)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
		}
		rt.closers = append(rt.closers, s.Close)
		state, programs = s, s
	case config.DriverRedis:
		s := redis.NewFromClient(client, redisOpts...)
		state, programs = s, s
	default:
		return nil, fmt.Errorf("%w: store driver %q", ErrUnsupportedDriver, cfg.Store.Driver)
	}
	logger.Debug("stores selected", "driver", cfg.Store.Driver, "backplane", cfg.Backplane)

	mws, err := securityMiddleware(cfg.Security)
	if err != nil {
		return nil, err
	}
	state = middleware.Chain(state, mws...)

	return []weave.Option{
		weave.WithStateStore(state),
		weave.WithProgramStore(programs),
		weave.WithJoinCounter(joins),
	}, nil
}

// securityMiddleware builds the state store wrappers enabled by cfg. Masking
// runs before encryption so that masked values never reach the ciphertext.
func securityMiddleware(cfg config.SecurityConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.MaskKeys) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.MaskKeys)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if cfg.KeyEnv == "" {
		return mws, nil
	}

	active, err := envKey(cfg.KeyEnv)
	if err != nil {
		return nil, err
	}
	encCfg := middleware.EncryptionConfig{ActiveKey: active}
	for _, name := range cfg.FallbackKeyEnvs {
		k, err := envKey(name)
		if err != nil {
			return nil, err
		}
		encCfg.FallbackKeys = append(encCfg.FallbackKeys, k)
	}
	enc, err := middleware.NewEncryptionMiddleware(encCfg)
	if err != nil {
		return nil, err
	}
	return append(mws, enc), nil
}

func envKey(name string) ([]byte, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return nil, fmt.Errorf("encryption key variable %s is not set", name)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("encryption key %s is not valid base64: %w", name, err)
	}
	return key, nil
}
