package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/weave"
	"github.com/aretw0/weave/internal/config"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/loader"
)

// ErrRunFailed is returned when a run ends with a terminal fault.
var ErrRunFailed = errors.New("run failed")

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	GraphPath string
	Input     string // raw JSON object
	Local     bool
	Timeout   time.Duration
}

// RunSummary is what the run command prints.
type RunSummary struct {
	RunID      string                    `json:"run_id"`
	ProgramID  string                    `json:"program_id,omitempty"`
	Terminated bool                      `json:"terminated,omitempty"`
	Order      []string                  `json:"order,omitempty"`
	Skipped    []string                  `json:"skipped,omitempty"`
	Outputs    map[string]map[string]any `json:"outputs,omitempty"`
	State      map[string]any            `json:"state"`
}

// Run executes one graph to completion and prints a summary to out.
// In local mode the graph is walked in-process; otherwise it is published and
// driven by an in-process executor over the configured stores.
func Run(ctx context.Context, opts RunOptions, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	g, err := loader.Load(opts.GraphPath)
	if err != nil {
		return err
	}
	input, err := ParseInput(opts.Input)
	if err != nil {
		return err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var summary *RunSummary
	if opts.Local {
		summary, err = runLocal(ctx, g, input, cfg, logger)
	} else {
		summary, err = runDurable(ctx, g, input, cfg, logger)
	}
	if summary != nil {
		if perr := printJSON(out, summary); perr != nil {
			return perr
		}
	}
	return err
}

func runLocal(ctx context.Context, g domain.Graph, input map[string]any, cfg config.Config, logger *slog.Logger) (*RunSummary, error) {
	if len(input) > 0 {
		state := make(map[string]any, len(g.GlobalState)+len(input))
		for k, v := range g.GlobalState {
			state[k] = v
		}
		for k, v := range input {
			state[k] = v
		}
		g.GlobalState = state
	}
	engine, err := NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	res, err := engine.RunLocal(ctx, g)
	if res == nil {
		return nil, err
	}
	return &RunSummary{
		RunID:      res.RunID,
		Terminated: res.Terminated,
		Order:      res.Order,
		Skipped:    res.Skipped,
		Outputs:    res.Outputs,
		State:      res.State,
	}, err
}

func runDurable(ctx context.Context, g domain.Graph, input map[string]any, cfg config.Config, logger *slog.Logger) (*RunSummary, error) {
	ended := make(chan *domain.RunEvent, 16)
	notify := func(_ context.Context, e *domain.RunEvent) {
		select {
		case ended <- e:
		default:
		}
	}
	rt, err := NewRuntime(ctx, cfg, logger, weave.WithLifecycleHooks(domain.LifecycleHooks{
		OnRunDone:  notify,
		OnRunFault: notify,
	}))
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	prog, err := rt.Engine.Publish(ctx, g)
	if err != nil {
		return nil, err
	}

	execCtx, stop := context.WithCancel(ctx)
	defer stop()
	execErr := make(chan error, 1)
	go func() { execErr <- rt.Engine.Executor(rt.ExecutorOptions()...).Run(execCtx) }()

	runID, err := rt.Engine.Start(ctx, prog.ID, input)
	if err != nil {
		return nil, err
	}

	var last *domain.RunEvent
	for last == nil {
		select {
		case e := <-ended:
			if e.RunID == runID {
				last = e
			}
		case err := <-execErr:
			return nil, fmt.Errorf("executor stopped: %w", err)
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for run %s: %w", runID, ctx.Err())
		}
	}

	summary := &RunSummary{RunID: runID, ProgramID: prog.ID, Terminated: last.Terminated}
	if cp, err := rt.Engine.Checkpoint(ctx, runID); err == nil && cp.Frame != nil && cp.Frame.Env != nil {
		summary.State = cp.Frame.Env.State
	}
	if last.Type == domain.EventRunFault {
		return summary, fmt.Errorf("%w: %v", ErrRunFailed, last.Err)
	}
	return summary, nil
}
