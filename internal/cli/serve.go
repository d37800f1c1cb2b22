package cli

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/weave"
	"github.com/aretw0/weave/internal/config"
	weavehttp "github.com/aretw0/weave/pkg/adapters/http"
	"github.com/aretw0/weave/pkg/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// ServeOptions configures the serve command.
type ServeOptions struct {
	Addr string
	// WithWorker also runs an executor in the same process.
	WithWorker bool
}

// Serve exposes the engine over HTTP until ctx is cancelled.
func Serve(ctx context.Context, opts ServeOptions, cfg config.Config, logger *slog.Logger) error {
	streams := weavehttp.NewStreamManager(logger)
	rt, err := NewRuntime(ctx, cfg, logger, weave.WithLifecycleHooks(
		observability.ChainHooks(observability.LogHooks(logger), streams.Hooks()),
	))
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := opts.Addr
	if addr == "" {
		addr = cfg.HTTPAddr
	}
	handler := weavehttp.NewHandler(rt.Engine,
		weavehttp.WithLogger(logger),
		weavehttp.WithVersion(weave.Version),
		weavehttp.WithStreams(streams),
		weavehttp.WithMetricsHandler(promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})),
	)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(ctx, srv, logger) })
	if opts.WithWorker {
		g.Go(func() error {
			return rt.Engine.Executor(rt.ExecutorOptions()...).Run(ctx)
		})
	}
	return g.Wait()
}
