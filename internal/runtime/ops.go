package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/weave/pkg/domain"
)

// step executes in. It returns done=true when the window ends.
// Instructions that do not transfer control advance the ip by one.
func (m *Machine) step(ctx context.Context, w *window, in domain.Instr) (Outcome, bool) {
	f := w.frame

	switch in.Op {
	case domain.OpPushConst:
		w.push(in.Const)

	case domain.OpGetVar:
		v, err := w.local(in.Slot)
		if err != nil {
			return w.invalid(err), true
		}
		w.push(v)

	case domain.OpSetVar:
		v, err := w.pop()
		if err != nil {
			return w.invalid(err), true
		}
		if err := w.setLocal(in.Slot, v); err != nil {
			return w.invalid(err), true
		}

	case domain.OpJmp:
		f.IP = in.Target
		return Outcome{}, false

	case domain.OpJmpIf:
		v, err := w.pop()
		if err != nil {
			return w.invalid(err), true
		}
		if truthy(v) != in.Negate {
			f.IP = in.Target
			return Outcome{}, false
		}

	case domain.OpLoadInputs:
		inputs, err := m.loadInputs(w, in)
		if err != nil {
			return w.fault(err), true
		}
		w.push(inputs)

	case domain.OpCallNode, domain.OpCallActivity:
		return m.call(ctx, w, in)

	case domain.OpStoreOutputs:
		v, err := w.pop()
		if err != nil {
			return w.invalid(err), true
		}
		outputs, _ := v.(map[string]any)
		if err := w.setLocal(in.Slot, selectPorts(outputs, in.Ports)); err != nil {
			return w.invalid(err), true
		}

	case domain.OpEval:
		ok, err := m.evalEdge(w, in)
		if err != nil {
			return w.fault(err), true
		}
		w.push(ok)

	case domain.OpArrive:
		v, err := w.pop()
		if err != nil {
			return w.invalid(err), true
		}
		if _, err := m.joins.Arrive(ctx, f.RunID, in.JoinID, in.EdgeID, truthy(v), in.Count); err != nil {
			w.push(v)
			return w.fault(&domain.StoreFault{Op: "join arrive", Err: err}), true
		}

	case domain.OpJoin:
		st, err := m.joins.State(ctx, f.RunID, in.JoinID)
		if err != nil {
			return w.fault(&domain.StoreFault{Op: "join state", Err: err}), true
		}
		if st.Arrived < in.Count {
			m.logger.DebugContext(ctx, "join barrier not reached", "run_id", f.RunID, "join_id", in.JoinID, "arrived", st.Arrived, "count", in.Count)
			w.syncState()
			return Outcome{Kind: KindYield, Frame: f, Joined: true}, true
		}
		w.push(st.Active > 0)

	case domain.OpCheckpoint:
		w.syncState()
		f.IP++
		cp := domain.NewCheckpoint(f, m.now())
		if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
			f.IP--
			return w.fault(&domain.StoreFault{Op: "save checkpoint", Err: err}), true
		}
		return Outcome{}, false

	case domain.OpYield:
		f.IP++
		w.syncState()
		return Outcome{Kind: KindYield, Frame: f}, true

	case domain.OpRaise:
		return Outcome{Kind: KindFault, Err: &domain.RaiseError{Code: in.Code, Message: in.Message}}, true

	case domain.OpEnd:
		w.syncState()
		return Outcome{Kind: KindDone, Frame: f}, true

	default:
		return w.invalid(fmt.Errorf("%w: unknown op %q at ip %d", ErrInvalidProgram, in.Op, f.IP)), true
	}

	f.IP++
	return Outcome{}, false
}

// invalid ends the run: a malformed program cannot succeed on retry.
func (w *window) invalid(err error) Outcome {
	w.syncState()
	return Outcome{Kind: KindFault, Err: err}
}

// loadInputs binds every declared input port. Upstream outputs are searched in
// source order, then external inputs. Without declared ports all upstream
// outputs are merged, the first source winning on conflicts.
func (m *Machine) loadInputs(w *window, in domain.Instr) (map[string]any, error) {
	var sources []map[string]any
	for _, slot := range in.Sources {
		v, err := w.local(slot)
		if err != nil {
			return nil, err
		}
		if out, ok := v.(map[string]any); ok {
			sources = append(sources, out)
		}
	}

	inputs := make(map[string]any)
	if len(in.Ports) == 0 {
		for _, src := range sources {
			for k, v := range src {
				if _, seen := inputs[k]; !seen {
					inputs[k] = v
				}
			}
		}
		return inputs, nil
	}

	for _, p := range in.Ports {
		if v, ok := lookup(sources, p.Key); ok {
			inputs[p.Key] = v
			continue
		}
		if v, ok := w.state.ExternalInput(in.NodeID, p.Key); ok {
			inputs[p.Key] = v
			continue
		}
		if p.Required {
			return nil, &domain.NodeFault{
				NodeID:  in.NodeID,
				Attempt: w.frame.Attempt(in.NodeID),
				Err:     fmt.Errorf("required input %q is not bound", p.Key),
			}
		}
	}
	return inputs, nil
}

func lookup(sources []map[string]any, key string) (any, bool) {
	for _, src := range sources {
		if v, ok := src[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func selectPorts(outputs map[string]any, ports []domain.PortRef) map[string]any {
	if outputs == nil {
		outputs = map[string]any{}
	}
	if len(ports) == 0 {
		return outputs
	}
	out := make(map[string]any, len(ports))
	for _, p := range ports {
		if v, ok := outputs[p.Key]; ok {
			out[p.Key] = v
		}
	}
	return out
}

// evalEdge decides whether the edge From->To fires: the source must be active,
// a branch override must name To, and the condition must hold.
func (m *Machine) evalEdge(w *window, in domain.Instr) (bool, error) {
	act, err := w.local(in.Slot)
	if err != nil {
		return false, err
	}
	if !truthy(act) {
		return false, nil
	}
	next, err := w.local(in.NextSlot)
	if err != nil {
		return false, err
	}
	if override, _ := next.(string); override != "" && override != in.To {
		return false, nil
	}
	if in.Cond == "" {
		return true, nil
	}
	ok, err := m.cond.Eval(in.Cond, w.state.Get())
	if err != nil {
		return false, fmt.Errorf("edge %s condition: %w", in.EdgeID, err)
	}
	return ok, nil
}

// IsTerminal reports whether a fault can never succeed on redelivery whatever
// the retry policy says: a RAISE, a malformed program or a fault without a
// frame to resume. Node errors are left to the caller's classifier.
func IsTerminal(o Outcome) bool {
	if o.Kind != KindFault {
		return false
	}
	var raise *domain.RaiseError
	if errors.As(o.Err, &raise) || errors.Is(o.Err, ErrInvalidProgram) {
		return true
	}
	return o.Frame == nil
}
