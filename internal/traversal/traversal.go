// Package traversal executes a graph directly, without compiling it.
//
// The walk is breadth-first over a domain.RuntimeState cursor. A node is
// dispatched once every incoming edge from a reachable node is settled and at
// least one of them fired; a node none of whose edges fired is skipped and
// settles its own outgoing edges as not fired. Nothing is persisted, so a
// crash loses the run: use the compiled path for durable execution.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/ports"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/aretw0/weave/pkg/schema"
	"github.com/aretw0/weave/pkg/script"
)

// ErrNoEntry is returned when the graph entry is not a declared node.
var ErrNoEntry = errors.New("entry node is not declared")

// NodeFactory builds node instances.
type NodeFactory interface {
	New(def domain.NodeDef, state *runstate.State) (node.Node, error)
}

// ConditionEvaluator evaluates edge conditions.
type ConditionEvaluator interface {
	Eval(expr string, state map[string]any) (bool, error)
}

// Walker runs graphs locally.
type Walker struct {
	nodes   NodeFactory
	cond    ConditionEvaluator
	secrets ports.SecretSource
	inputs  ports.InputSource
	hooks   domain.LifecycleHooks
	logger  *slog.Logger
}

// Option configures a Walker.
type Option func(*Walker)

// WithLogger sets the logger. Default is no-op.
func WithLogger(l *slog.Logger) Option { return func(w *Walker) { w.logger = l } }

// WithConditionEvaluator replaces the default script evaluator.
func WithConditionEvaluator(c ConditionEvaluator) Option { return func(w *Walker) { w.cond = c } }

// WithSecrets sets the secret source exposed to nodes.
func WithSecrets(s ports.SecretSource) Option { return func(w *Walker) { w.secrets = s } }

// WithInputs sets the external input source exposed to nodes.
func WithInputs(in ports.InputSource) Option { return func(w *Walker) { w.inputs = in } }

// WithLifecycleHooks registers node start/finish callbacks.
func WithLifecycleHooks(h domain.LifecycleHooks) Option { return func(w *Walker) { w.hooks = h } }

// New creates a Walker.
func New(nodes NodeFactory, opts ...Option) *Walker {
	w := &Walker{nodes: nodes, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	if w.cond == nil {
		w.cond = script.NewEvaluator()
	}
	return w
}

// Result is the outcome of a local run.
type Result struct {
	RunID      string
	Cursor     *domain.RuntimeState
	State      map[string]any
	Outputs    map[string]map[string]any
	Order      []string
	Skipped    []string
	Terminated bool
}

// walk is the bookkeeping of one run.
type walk struct {
	g       domain.Graph
	state   *runstate.State
	cursor  *domain.RuntimeState
	pending map[string]int
	fired   map[string]bool
	res     *Result
}

// Run executes g from its entry until the frontier is empty or a node
// terminates the run. The graph should have passed validation.
func (w *Walker) Run(ctx context.Context, runID string, g domain.Graph) (*Result, error) {
	if _, ok := g.Node(g.Entry); !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoEntry, g.Entry)
	}

	wk := &walk{
		g: g,
		state: runstate.New(runID, g.GlobalState,
			runstate.WithSecrets(w.secrets),
			runstate.WithInputs(w.inputs),
		),
		cursor:  domain.NewRuntimeState(g.Entry),
		pending: pendingEdges(g),
		fired:   make(map[string]bool),
		res:     &Result{RunID: runID, Outputs: make(map[string]map[string]any)},
	}
	wk.res.Cursor = wk.cursor

	for {
		if err := ctx.Err(); err != nil {
			return wk.finish(), err
		}
		id, ok := wk.cursor.Next()
		if !ok {
			wk.cursor.Finished = true
			return wk.finish(), nil
		}
		wk.cursor.Current = id
		wk.cursor.Visited[id] = true

		def, _ := g.Node(id)
		terminate, err := w.dispatch(ctx, wk, def)
		if err != nil {
			return wk.finish(), err
		}
		if terminate {
			wk.res.Terminated = true
			wk.cursor.Queue = nil
			wk.cursor.Finished = true
			return wk.finish(), nil
		}
	}
}

func (wk *walk) finish() *Result {
	wk.res.State = wk.state.Get()
	return wk.res
}

// dispatch executes one node and settles its outgoing edges.
func (w *Walker) dispatch(ctx context.Context, wk *walk, def domain.NodeDef) (bool, error) {
	inputs, err := wk.bind(def)
	if err != nil {
		return false, err
	}

	n, err := w.nodes.New(def, wk.state)
	if err != nil {
		return false, fmt.Errorf("build node %s: %w", def.ID, err)
	}

	w.emit(ctx, domain.EventNodeStart, wk.res.RunID, def, nil)
	res, err := n.Execute(ctx, node.Inputs(inputs))
	if err == nil && res.Status == domain.StatusError {
		err = fmt.Errorf("node returned error status %s", res.ErrorCode)
	}
	if err == nil {
		err = schema.CheckPorts(outputPorts(def.Outputs), res.Outputs())
	}
	w.emit(ctx, domain.EventNodeFinish, wk.res.RunID, def, err)
	if err != nil {
		return false, &domain.NodeFault{NodeID: def.ID, Attempt: 1, Err: err}
	}

	out := selectPorts(res.Outputs(), def.Outputs)
	wk.res.Outputs[def.ID] = out
	wk.res.Order = append(wk.res.Order, def.ID)
	w.logger.DebugContext(ctx, "node executed", "run_id", wk.res.RunID, "node_id", def.ID)

	if res.TerminateRun {
		return true, nil
	}

	for _, e := range wk.g.Outgoing(def.ID) {
		ok := res.Next == "" || res.Next == e.To
		if ok && e.Condition != "" {
			ok, err = w.cond.Eval(e.Condition, wk.state.Get())
			if err != nil {
				return false, fmt.Errorf("edge %s condition: %w", e.ID, err)
			}
		}
		wk.settle(e, ok)
	}
	return false, nil
}

// settle records the result of one edge and releases its target once all of
// the target's incoming edges are settled.
func (wk *walk) settle(e domain.EdgeDef, fired bool) {
	if fired {
		wk.fired[e.To] = true
	}
	wk.pending[e.To]--
	if wk.pending[e.To] > 0 {
		return
	}
	if wk.fired[e.To] {
		wk.cursor.Enqueue(e.To)
		return
	}
	// Dead node: its own edges cannot fire.
	wk.cursor.Visited[e.To] = true
	wk.res.Skipped = append(wk.res.Skipped, e.To)
	for _, out := range wk.g.Outgoing(e.To) {
		wk.settle(out, false)
	}
}

// bind gathers the inputs of def the same way the VM does: outputs of
// executed predecessors in edge order, then external inputs.
func (wk *walk) bind(def domain.NodeDef) (map[string]any, error) {
	var sources []map[string]any
	for _, e := range wk.g.Incoming(def.ID) {
		if out, ok := wk.res.Outputs[e.From]; ok {
			sources = append(sources, out)
		}
	}

	inputs := make(map[string]any)
	if len(def.Inputs) == 0 {
		for _, src := range sources {
			for k, v := range src {
				if _, seen := inputs[k]; !seen {
					inputs[k] = v
				}
			}
		}
		return inputs, nil
	}

	for _, p := range def.Inputs {
		key := p.Key()
		if v, ok := lookup(sources, key); ok {
			inputs[key] = v
			continue
		}
		if v, ok := wk.state.ExternalInput(def.ID, key); ok {
			inputs[key] = v
		}
	}
	if err := schema.CheckPorts(def.Inputs, inputs); err != nil {
		return nil, &domain.NodeFault{NodeID: def.ID, Attempt: 1, Err: err}
	}
	return inputs, nil
}

func (w *Walker) emit(ctx context.Context, typ domain.EventType, runID string, def domain.NodeDef, err error) {
	hook := w.hooks.OnNodeFinish
	if typ == domain.EventNodeStart {
		hook = w.hooks.OnNodeStart
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: typ, RunID: runID},
		NodeID:    def.ID,
		NodeType:  def.Type,
		Attempt:   1,
		Err:       err,
	})
}

// pendingEdges counts, per node, the incoming edges whose source is reachable
// from the entry. Edges from unreachable nodes never settle.
func pendingEdges(g domain.Graph) map[string]int {
	reached := map[string]bool{g.Entry: true}
	queue := []string{g.Entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(id) {
			if !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	pending := make(map[string]int)
	for _, e := range g.Edges {
		if reached[e.From] {
			pending[e.To]++
		}
	}
	return pending
}

func lookup(sources []map[string]any, key string) (any, bool) {
	for _, src := range sources {
		if v, ok := src[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func selectPorts(outputs map[string]any, declared []domain.Port) map[string]any {
	if outputs == nil {
		outputs = map[string]any{}
	}
	if len(declared) == 0 {
		return outputs
	}
	out := make(map[string]any, len(declared))
	for _, p := range declared {
		if v, ok := outputs[p.Key()]; ok {
			out[p.Key()] = v
		}
	}
	return out
}

func outputPorts(declared []domain.Port) []domain.Port {
	out := make([]domain.Port, len(declared))
	for i, p := range declared {
		p.Required = false
		out[i] = p
	}
	return out
}
