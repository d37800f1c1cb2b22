package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/weave/pkg/domain"
)

// LogHooks returns lifecycle hooks that write every event to logger.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeStart: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node start", "run_id", e.RunID, "node_id", e.NodeID, "node_type", e.NodeType, "attempt", e.Attempt)
		},
		OnNodeFinish: func(ctx context.Context, e *domain.NodeEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "node failed", "run_id", e.RunID, "node_id", e.NodeID, "attempt", e.Attempt, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "node finish", "run_id", e.RunID, "node_id", e.NodeID, "replayed", e.Replayed)
		},
		OnRunDone: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run done", "run_id", e.RunID, "terminated", e.Terminated)
		},
		OnRunFault: func(ctx context.Context, e *domain.RunEvent) {
			logger.ErrorContext(ctx, "run failed", "run_id", e.RunID, "err", e.Err)
		},
	}
}

// ChainHooks combines several hook sets. Callbacks run in argument order.
func ChainHooks(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range sets {
		h := h
		out.OnNodeStart = chainNode(out.OnNodeStart, h.OnNodeStart)
		out.OnNodeFinish = chainNode(out.OnNodeFinish, h.OnNodeFinish)
		out.OnRunDone = chainRun(out.OnRunDone, h.OnRunDone)
		out.OnRunFault = chainRun(out.OnRunFault, h.OnRunFault)
	}
	return out
}

func chainNode(a, b func(context.Context, *domain.NodeEvent)) func(context.Context, *domain.NodeEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *domain.NodeEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}

func chainRun(a, b func(context.Context, *domain.RunEvent)) func(context.Context, *domain.RunEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *domain.RunEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}
