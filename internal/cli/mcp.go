package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/weave"
	"github.com/aretw0/weave/internal/config"
	"github.com/aretw0/weave/pkg/adapters/mcp"
	"github.com/aretw0/weave/pkg/observability"
	"golang.org/x/sync/errgroup"
)

// MCPOptions configures the mcp command.
type MCPOptions struct {
	// SSEAddr serves the SSE transport on this address instead of stdio.
	SSEAddr string
	// WithWorker also runs an executor in the same process.
	WithWorker bool
}

// MCP serves the engine as a Model Context Protocol server until ctx is
// cancelled or, on stdio, until the client disconnects.
func MCP(ctx context.Context, opts MCPOptions, cfg config.Config, logger *slog.Logger) error {
	rt, err := NewRuntime(ctx, cfg, logger, weave.WithLifecycleHooks(observability.LogHooks(logger)))
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := mcp.NewServer(rt.Engine, weave.Version, mcp.WithLogger(logger))

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	if opts.SSEAddr != "" {
		httpSrv := &http.Server{
			Addr:              opts.SSEAddr,
			Handler:           srv.SSEHandler(fmt.Sprintf("http://localhost%s", opts.SSEAddr)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return listen(ctx, httpSrv, logger) })
	} else {
		// Stdio owns stdin and stdout; the process ends with the client.
		g.Go(func() error {
			defer stop()
			return srv.ServeStdio()
		})
	}
	if opts.WithWorker {
		g.Go(func() error {
			return rt.Engine.Executor(rt.ExecutorOptions()...).Run(ctx)
		})
	}
	return g.Wait()
}
