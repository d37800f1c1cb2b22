package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/weave/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds graceful HTTP shutdown.
const shutdownGrace = 5 * time.Second

// Worker consumes frames until ctx is cancelled. When cfg.MetricsAddr is set
// the Prometheus registry is served there.
func Worker(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rt, err := NewRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Engine.Executor(rt.ExecutorOptions()...).Run(ctx)
	})
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return listen(ctx, srv, logger) })
	}
	logger.Info("worker started", "group", cfg.Group, "store", cfg.Store.Driver, "backplane", cfg.Backplane)
	return g.Wait()
}

// listen serves srv until ctx is done, then shuts it down gracefully.
func listen(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "addr", srv.Addr, "err", err)
			return srv.Close()
		}
		return nil
	}
}
