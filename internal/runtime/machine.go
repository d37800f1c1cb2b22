// Package runtime interprets compiled programs.
//
// A Machine runs one frame window: it executes instructions from frame.IP
// until the program ends, yields, or faults. Everything it needs to resume
// lives in the returned frame; the Machine itself holds no per-run state.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/observability"
	"github.com/aretw0/weave/pkg/ports"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/aretw0/weave/pkg/script"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the instructions executed in one window.
const DefaultMaxSteps = 10000

// DefaultTimeout bounds a single node call.
const DefaultTimeout = 30 * time.Second

// ErrInvalidProgram is returned when a frame points outside its program or an
// instruction is malformed.
var ErrInvalidProgram = errors.New("invalid program")

// NodeFactory builds node instances for the VM.
type NodeFactory interface {
	New(def domain.NodeDef, state *runstate.State) (node.Node, error)
}

// ConditionEvaluator evaluates edge conditions against the run state.
type ConditionEvaluator interface {
	Eval(expr string, state map[string]any) (bool, error)
}

// Admitter decides whether a node call may be dispatched now.
type Admitter interface {
	Admit(runID, nodeID string, cost int64) bool
}

// Kind tags the outcome of a window.
type Kind string

const (
	KindDone  Kind = "done"
	KindYield Kind = "yield"
	KindFault Kind = "fault"
)

// Outcome is the tagged result of Run.
type Outcome struct {
	Kind  Kind
	Frame *domain.Frame
	Err   error

	// Terminated is set on Done when a node ended the run early.
	Terminated bool
	// Deferred is set on Yield when cost admission refused a call.
	Deferred bool
	// Joined is set on Yield when the frame waits on a join barrier.
	Joined bool
}

// Machine is the frame interpreter.
type Machine struct {
	nodes    NodeFactory
	store    ports.StateStore
	joins    ports.JoinCounter
	cond     ConditionEvaluator
	admitter Admitter
	secrets  ports.SecretSource
	inputs   ports.InputSource

	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.Metrics
	hooks    domain.LifecycleHooks
	now      func() time.Time
	timeout  time.Duration
	maxSteps int
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. Default is no-op.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithTracer sets the tracer used for frame and node spans.
func WithTracer(tr trace.Tracer) Option {
	return func(m *Machine) { m.tracer = tr }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// WithLifecycleHooks registers node start/finish callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Machine) { m.hooks = hooks }
}

// WithAdmitter enables cost admission before every node call.
func WithAdmitter(a Admitter) Option {
	return func(m *Machine) { m.admitter = a }
}

// WithConditionEvaluator replaces the default script evaluator.
func WithConditionEvaluator(c ConditionEvaluator) Option {
	return func(m *Machine) { m.cond = c }
}

// WithSecrets sets the secret source exposed to nodes.
func WithSecrets(s ports.SecretSource) Option {
	return func(m *Machine) { m.secrets = s }
}

// WithInputs sets the external input source exposed to nodes.
func WithInputs(in ports.InputSource) Option {
	return func(m *Machine) { m.inputs = in }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithTimeout sets the per node call timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMaxSteps sets the window size in instructions.
func WithMaxSteps(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxSteps = n
		}
	}
}

// New creates a Machine.
func New(nodes NodeFactory, store ports.StateStore, joins ports.JoinCounter, opts ...Option) *Machine {
	m := &Machine{
		nodes:    nodes,
		store:    store,
		joins:    joins,
		logger:   logging.NewNop(),
		tracer:   observability.Tracer(nil),
		now:      time.Now,
		timeout:  DefaultTimeout,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cond == nil {
		m.cond = script.NewEvaluator()
	}
	return m
}

// Release drops the join counters of a finished run when the join counter
// supports it.
func (m *Machine) Release(ctx context.Context, runID string) error {
	rel, ok := m.joins.(ports.JoinReleaser)
	if !ok {
		return nil
	}
	if err := rel.Release(ctx, runID); err != nil {
		return fmt.Errorf("release joins of %s: %w", runID, err)
	}
	return nil
}

// window is the interpreter state of a single Run call.
type window struct {
	prog  *domain.Program
	frame *domain.Frame
	state *runstate.State
}

// Run interprets frame against prog until Done, Yield or Fault.
// The input frame is not modified; the outcome carries the advanced copy.
func (m *Machine) Run(ctx context.Context, prog *domain.Program, frame *domain.Frame) (out Outcome) {
	start := m.now()
	ctx, span := m.tracer.Start(ctx, observability.SpanFrame, trace.WithAttributes(
		observability.AttrRunID.String(frame.RunID),
		observability.AttrProgramID.String(frame.ProgramID),
	))
	defer func() {
		span.SetAttributes(observability.AttrOutcome.String(string(out.Kind)))
		observability.EndSpan(span, out.Err)
		m.metrics.ObserveFrame(string(out.Kind), m.now().Sub(start))
	}()

	if prog == nil || prog.ID != frame.ProgramID {
		return Outcome{Kind: KindFault, Err: fmt.Errorf("%w: frame references program %q", ErrInvalidProgram, frame.ProgramID)}
	}

	f, err := frame.Clone()
	if err != nil {
		return Outcome{Kind: KindFault, Err: err}
	}
	if f.Env == nil {
		f.Env = &domain.Env{}
	}
	if len(f.Locals) < prog.Locals {
		f.Locals = append(f.Locals, make([]any, prog.Locals-len(f.Locals))...)
	}

	w := &window{
		prog:  prog,
		frame: f,
		state: runstate.New(f.RunID, f.Env.State,
			runstate.WithSecrets(m.secrets),
			runstate.WithInputs(m.inputs),
		),
	}
	defer w.syncState()

	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return w.fault(err)
		}
		if steps >= m.maxSteps {
			m.logger.DebugContext(ctx, "window step limit reached", "run_id", f.RunID, "ip", f.IP)
			return Outcome{Kind: KindYield, Frame: f}
		}
		if f.IP < 0 || f.IP >= len(prog.Chunk) {
			return Outcome{Kind: KindFault, Err: fmt.Errorf("%w: ip %d out of range", ErrInvalidProgram, f.IP)}
		}

		in := prog.Chunk[f.IP]
		res, done := m.step(ctx, w, in)
		f.Seq++
		if done {
			return res
		}
	}
}

func (w *window) syncState() {
	w.frame.Env.State = w.state.Snapshot()
}

func (w *window) fault(err error) Outcome {
	w.syncState()
	return Outcome{Kind: KindFault, Frame: w.frame, Err: err}
}

func (w *window) push(v any) {
	w.frame.Stack = append(w.frame.Stack, v)
}

func (w *window) pop() (any, error) {
	n := len(w.frame.Stack)
	if n == 0 {
		return nil, fmt.Errorf("%w: stack underflow at ip %d", ErrInvalidProgram, w.frame.IP)
	}
	v := w.frame.Stack[n-1]
	w.frame.Stack = w.frame.Stack[:n-1]
	return v, nil
}

func (w *window) peek() (any, error) {
	n := len(w.frame.Stack)
	if n == 0 {
		return nil, fmt.Errorf("%w: stack underflow at ip %d", ErrInvalidProgram, w.frame.IP)
	}
	return w.frame.Stack[n-1], nil
}

func (w *window) local(slot int) (any, error) {
	if slot < 0 || slot >= len(w.frame.Locals) {
		return nil, fmt.Errorf("%w: slot %d out of range", ErrInvalidProgram, slot)
	}
	return w.frame.Locals[slot], nil
}

func (w *window) setLocal(slot int, v any) error {
	if slot < 0 || slot >= len(w.frame.Locals) {
		return fmt.Errorf("%w: slot %d out of range", ErrInvalidProgram, slot)
	}
	w.frame.Locals[slot] = v
	return nil
}

// truthy interprets stack and local values as booleans. Locals hold either
// bool activation flags or nil for never-set slots.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case nil:
		return false
	case string:
		return b != ""
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return true
	}
}
