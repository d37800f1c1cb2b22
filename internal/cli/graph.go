package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/weave/internal/config"
	"github.com/aretw0/weave/internal/presentation/graph"
	"github.com/aretw0/weave/pkg/loader"
)

// GraphOptions selects what the graph command paints over the flowchart.
type GraphOptions struct {
	GraphPath string

	// RunID overlays the progress of a durable run read from the store.
	RunID string

	// Local walks the graph in-process and overlays the visited path.
	Local bool
	Input string
}

// Graph prints a Mermaid flowchart of the graph at opts.GraphPath.
func Graph(ctx context.Context, opts GraphOptions, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	g, err := loader.Load(opts.GraphPath)
	if err != nil {
		return err
	}

	var overlay *graph.Overlay
	switch {
	case opts.RunID != "":
		rt, err := NewRuntime(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()
		cp, err := rt.Engine.Checkpoint(ctx, opts.RunID)
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", opts.RunID, err)
		}
		overlay = graph.OverlayFromFrame(cp.Frame)
	case opts.Local:
		input, err := ParseInput(opts.Input)
		if err != nil {
			return err
		}
		for k, v := range input {
			if g.GlobalState == nil {
				g.GlobalState = make(map[string]any, len(input))
			}
			g.GlobalState[k] = v
		}
		engine, err := NewEngine(cfg, logger)
		if err != nil {
			return err
		}
		res, err := engine.RunLocal(ctx, g)
		if res == nil {
			return err
		}
		// A failed walk still shows how far it got.
		overlay = &graph.Overlay{Executed: res.Order, Skipped: res.Skipped}
		if err != nil && res.Cursor != nil {
			overlay.Current = res.Cursor.Current
			logger.Warn("local run failed", "error", err)
		}
	}

	_, err = io.WriteString(out, graph.GenerateMermaid(g, overlay))
	return err
}
