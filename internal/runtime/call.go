package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/observability"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/aretw0/weave/pkg/schema"
	"go.opentelemetry.io/otel/trace"
)

// call executes CALL_NODE and CALL_ACTIVITY.
//
// The inputs map stays on the stack until the call is committed, so every
// non-terminal outcome leaves the frame resumable at the same instruction.
func (m *Machine) call(ctx context.Context, w *window, in domain.Instr) (Outcome, bool) {
	f := w.frame
	def, ok := w.prog.Graph.Node(in.NodeID)
	if !ok {
		return w.invalid(fmt.Errorf("%w: node %q is not part of the program", ErrInvalidProgram, in.NodeID)), true
	}
	attempt := f.Attempt(in.NodeID)

	if in.Op == domain.OpCallActivity {
		rec, err := m.store.GetActivity(ctx, f.RunID, in.NodeID, attempt)
		switch {
		case err == nil:
			m.logger.DebugContext(ctx, "activity replayed", "run_id", f.RunID, "node_id", in.NodeID, "attempt", attempt)
			m.metrics.ActivityReplayed()
			m.emitNode(ctx, domain.EventNodeFinish, f.RunID, def, attempt, true, nil)
			return m.replay(w, in, nil, rec)
		case !errors.Is(err, domain.ErrActivityNotFound):
			return w.fault(&domain.StoreFault{Op: "get activity", Err: err}), true
		}
	}

	if m.admitter != nil && !m.admitter.Admit(f.RunID, in.NodeID, in.Cost) {
		m.logger.DebugContext(ctx, "call deferred by budget", "run_id", f.RunID, "node_id", in.NodeID, "cost", in.Cost)
		m.metrics.CostDeferred()
		w.syncState()
		return Outcome{Kind: KindYield, Frame: f, Deferred: true}, true
	}

	top, err := w.peek()
	if err != nil {
		return w.invalid(err), true
	}
	inputs, _ := top.(map[string]any)
	if err := schema.CheckPorts(def.Inputs, inputs); err != nil {
		return w.fault(&domain.NodeFault{NodeID: in.NodeID, Attempt: attempt, Err: err}), true
	}

	def.Executed = f.Executed[in.NodeID]
	n, err := m.nodes.New(def, w.state)
	if err != nil {
		return w.invalid(&domain.NodeFault{NodeID: in.NodeID, Attempt: attempt, Err: err}), true
	}

	m.emitNode(ctx, domain.EventNodeStart, f.RunID, def, attempt, false, nil)
	before := w.state.Snapshot()
	started := m.now()
	res, err := m.execute(ctx, n, def, attempt, inputs)
	ended := m.now()

	if err != nil {
		// a failed call leaves no trace in the state the retry starts from
		w.state.Set(before)
		f.Attempts[in.NodeID]++
		m.logger.WarnContext(ctx, "node failed", "run_id", f.RunID, "node_id", in.NodeID, "attempt", attempt, "err", err)
		m.emitNode(ctx, domain.EventNodeFinish, f.RunID, def, attempt, false, err)
		return w.fault(&domain.NodeFault{NodeID: in.NodeID, Attempt: attempt, Err: err}), true
	}

	if res.Status == domain.StatusError {
		w.state.Set(before)
		if res.ErrorCode != domain.ErrCodeNodeAlreadyExecuted {
			return w.fault(&domain.NodeFault{NodeID: in.NodeID, Attempt: attempt, Err: fmt.Errorf("node returned error status %s", res.ErrorCode)}), true
		}
		rec, err := m.store.GetActivity(ctx, f.RunID, in.NodeID, attempt)
		if errors.Is(err, domain.ErrActivityNotFound) {
			return w.fault(&domain.NodeFault{NodeID: in.NodeID, Attempt: attempt, Err: domain.ErrNodeAlreadyExecuted}), true
		}
		if err != nil {
			return w.fault(&domain.StoreFault{Op: "get activity", Err: err}), true
		}
		m.logger.DebugContext(ctx, "already executed node recovered from activity log", "run_id", f.RunID, "node_id", in.NodeID)
		m.emitNode(ctx, domain.EventNodeFinish, f.RunID, def, attempt, true, nil)
		return m.replay(w, in, nil, rec)
	}

	if err := schema.CheckPorts(outputPorts(def.Outputs), res.Outputs()); err != nil {
		w.state.Set(before)
		f.Attempts[in.NodeID]++
		m.emitNode(ctx, domain.EventNodeFinish, f.RunID, def, attempt, false, err)
		return w.fault(&domain.NodeFault{NodeID: in.NodeID, Attempt: attempt, Err: err}), true
	}

	set, unset := runstate.Diff(before, w.state.Snapshot())
	rec := domain.ActivityRecord{
		RunID:      f.RunID,
		NodeID:     in.NodeID,
		Attempt:    attempt,
		StartedAt:  started,
		EndedAt:    ended,
		Output:     res.Outputs(),
		Next:       res.Next,
		Terminate:  res.TerminateRun,
		StateSet:   set,
		StateUnset: unset,
	}
	if err := m.store.AppendActivity(ctx, rec); err != nil {
		w.state.Set(before)
		return w.fault(&domain.StoreFault{Op: "append activity", Err: err}), true
	}

	// A duplicate append is a no-op, so another worker may own this attempt.
	// The run continues with whatever the log holds.
	stored, err := m.store.GetActivity(ctx, f.RunID, in.NodeID, attempt)
	if err != nil {
		w.state.Set(before)
		return w.fault(&domain.StoreFault{Op: "get activity", Err: err}), true
	}
	replayed := !stored.StartedAt.Equal(started) || !stored.EndedAt.Equal(ended)
	if replayed {
		m.logger.WarnContext(ctx, "activity already recorded by another worker", "run_id", f.RunID, "node_id", in.NodeID, "attempt", attempt)
		m.metrics.ActivityReplayed()
	}
	m.emitNode(ctx, domain.EventNodeFinish, f.RunID, def, attempt, replayed, nil)
	return m.replay(w, in, before, stored)
}

// replay commits a recorded call: its state writes are applied over before
// (or over the current state when before is nil), then its outputs.
func (m *Machine) replay(w *window, in domain.Instr, before map[string]any, rec domain.ActivityRecord) (Outcome, bool) {
	if before != nil {
		w.state.Set(before)
	}
	w.state.Apply(rec.StateSet, rec.StateUnset)
	w.syncState()
	return m.commit(w, in, rec.Output, rec.Next, rec.Terminate)
}

// commit replaces the inputs on the stack with the call outputs, records the
// branch override and marks the node executed.
func (m *Machine) commit(w *window, in domain.Instr, outputs map[string]any, next string, terminate bool) (Outcome, bool) {
	f := w.frame
	if _, err := w.pop(); err != nil {
		return w.invalid(err), true
	}
	if outputs == nil {
		outputs = map[string]any{}
	}
	w.push(outputs)
	if err := w.setLocal(in.Slot, next); err != nil {
		return w.invalid(err), true
	}
	f.Executed[in.NodeID] = true
	f.IP++

	if terminate {
		w.syncState()
		return Outcome{Kind: KindDone, Frame: f, Terminated: true}, true
	}
	return Outcome{}, false
}

func (m *Machine) execute(ctx context.Context, n node.Node, def domain.NodeDef, attempt int, inputs map[string]any) (res domain.ExecutionResult, err error) {
	ctx, span := observability.StartNode(ctx, m.tracer, def.ID, def.Type, attempt)
	defer func() { observability.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s panicked: %v", def.ID, r)
		}
	}()
	return n.Execute(ctx, node.Inputs(inputs))
}

func (m *Machine) emitNode(ctx context.Context, typ domain.EventType, runID string, def domain.NodeDef, attempt int, replayed bool, err error) {
	if replayed {
		trace.SpanFromContext(ctx).AddEvent("activity replayed", trace.WithAttributes(
			observability.AttrNodeID.String(def.ID),
			observability.AttrReplayed.Bool(true),
		))
	}

	hook := m.hooks.OnNodeFinish
	if typ == domain.EventNodeStart {
		hook = m.hooks.OnNodeStart
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: m.now(), Type: typ, RunID: runID},
		NodeID:    def.ID,
		NodeType:  def.Type,
		Attempt:   attempt,
		Replayed:  replayed,
		Err:       err,
	})
}

// outputPorts drops the required flag: a node may leave an output unset.
func outputPorts(ports []domain.Port) []domain.Port {
	out := make([]domain.Port, len(ports))
	for i, p := range ports {
		p.Required = false
		out[i] = p
	}
	return out
}
