package weave

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/aretw0/weave/internal/compiler"
	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/internal/runtime"
	"github.com/aretw0/weave/internal/traversal"
	"github.com/aretw0/weave/internal/validator"
	"github.com/aretw0/weave/pkg/adapters/memory"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/executor"
	"github.com/aretw0/weave/pkg/nodes"
	"github.com/aretw0/weave/pkg/observability"
	"github.com/aretw0/weave/pkg/ports"
	"github.com/aretw0/weave/pkg/registry"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/aretw0/weave/pkg/script"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Version is the release of the weave module. Overridden at link time.
var Version = "dev"

// Artifact is the result of compiling a graph.
type Artifact = compiler.Artifact

// LocalResult is the outcome of RunLocal.
type LocalResult = traversal.Result

// Engine is the high-level entry point for the weave library.
// It owns the node registry and the stores shared by publishing, starting
// and executing runs.
type Engine struct {
	registry  *registry.Registry
	evaluator *script.Evaluator
	programs  ports.ProgramStore
	store     ports.StateStore
	joins     ports.JoinCounter
	backplane ports.Backplane
	secrets   ports.SecretSource
	inputs    ports.InputSource
	hooks     domain.LifecycleHooks
	metrics   *observability.Metrics
	tracer    trace.Tracer
	budget    *executor.Budget
	timeout   time.Duration
	maxInput  int
	logger    *slog.Logger
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithRegistry replaces the builtin node registry.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithProgramStore sets where compiled programs are kept.
func WithProgramStore(s ports.ProgramStore) Option {
	return func(e *Engine) { e.programs = s }
}

// WithStateStore sets where checkpoints and activities are kept.
func WithStateStore(s ports.StateStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithJoinCounter sets the join arrival counter.
func WithJoinCounter(j ports.JoinCounter) Option {
	return func(e *Engine) { e.joins = j }
}

// WithBackplane sets the frame transport.
func WithBackplane(b ports.Backplane) Option {
	return func(e *Engine) { e.backplane = b }
}

// WithSecrets sets the secret source exposed to nodes.
func WithSecrets(s ports.SecretSource) Option {
	return func(e *Engine) { e.secrets = s }
}

// WithInputs sets the external input source exposed to nodes.
func WithInputs(in ports.InputSource) Option {
	return func(e *Engine) { e.inputs = in }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithMetrics sets the Prometheus collector used by machines and executors.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider enables frame and node spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = observability.Tracer(tp) }
}

// WithBudget caps the cost dispatched per tick by executors of this engine.
func WithBudget(b *executor.Budget) Option {
	return func(e *Engine) { e.budget = b }
}

// WithDefaultTimeout bounds a single node execution.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithMaxInputSize bounds the encoded size of a run's start input.
// Zero disables the check.
func WithMaxInputSize(n int) Option {
	return func(e *Engine) { e.maxInput = n }
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine. Unset stores default to the in-memory adapters.
func New(opts ...Option) *Engine {
	e := &Engine{evaluator: script.NewEvaluator(), maxInput: runstate.DefaultMaxInputSize}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = nodes.NewRegistry(e.evaluator)
	}
	if e.programs == nil {
		e.programs = memory.NewProgramStore()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.joins == nil {
		e.joins = memory.NewJoinCounter()
	}
	if e.backplane == nil {
		e.backplane = memory.NewBackplane()
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	return e
}

// Registry returns the node registry, so hosts can add their own types.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Backplane returns the frame transport.
func (e *Engine) Backplane() ports.Backplane { return e.backplane }

// Validate checks g against the registry. It never returns an error: the
// report carries every finding.
func (e *Engine) Validate(g domain.Graph) domain.ValidationReport {
	return validator.Validate(g, e.registry, validator.WithConditionChecker(e.evaluator.Check))
}

// Compile lowers g to a program. Invalid graphs yield an artifact without a
// program and with the failing report.
func (e *Engine) Compile(g domain.Graph) Artifact {
	return compiler.Compile(g, e.registry, compiler.WithConditionChecker(e.evaluator.Check))
}

// Publish compiles g and stores the program. Republishing an unchanged graph
// returns the program already stored.
func (e *Engine) Publish(ctx context.Context, g domain.Graph) (*domain.Program, error) {
	art := e.Compile(g)
	if !art.Validation.OK || art.Program == nil {
		return nil, &domain.ValidationError{Report: art.Validation}
	}
	if err := e.programs.SaveProgram(ctx, art.Program); err != nil {
		return nil, fmt.Errorf("save program %s: %w", art.Program.ID, err)
	}
	e.logger.InfoContext(ctx, "program published", "program_id", art.Program.ID, "workflow", art.Program.WorkflowID)
	return art.Program, nil
}

// Start begins a new run of a published program. input is merged over the
// graph's global state. The initial frame is checkpointed before it is
// published, so Resume works from the first instant.
func (e *Engine) Start(ctx context.Context, programID string, input map[string]any) (string, error) {
	input, err := runstate.SanitizeInput(input, e.maxInput)
	if err != nil {
		return "", err
	}
	prog, err := e.programs.LoadProgram(ctx, programID)
	if err != nil {
		return "", fmt.Errorf("load program: %w", err)
	}

	state := make(map[string]any, len(prog.Graph.GlobalState)+len(input))
	maps.Copy(state, prog.Graph.GlobalState)
	maps.Copy(state, input)

	runID := uuid.NewString()
	frame := domain.NewFrame(runID, prog.ID, prog.Locals, state)
	if err := e.store.SaveCheckpoint(ctx, domain.NewCheckpoint(frame, time.Now())); err != nil {
		return "", fmt.Errorf("save initial checkpoint: %w", err)
	}
	if err := e.backplane.Publish(ctx, domain.NewFrameMsg(frame, 0)); err != nil {
		return "", fmt.Errorf("publish frame: %w", err)
	}
	e.logger.InfoContext(ctx, "run started", "run_id", runID, "program_id", prog.ID)
	return runID, nil
}

// Resume republishes the latest checkpoint of a run, for instance after a
// terminal fault was fixed or every worker was lost.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	cp, err := e.store.LoadCheckpoint(ctx, runID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Frame == nil {
		return fmt.Errorf("%w: checkpoint of %s has no frame", domain.ErrCheckpointNotFound, runID)
	}
	if cp.Frame.Finished {
		return fmt.Errorf("%w: %s", domain.ErrRunFinished, runID)
	}
	if err := e.backplane.Publish(ctx, domain.NewFrameMsg(cp.Frame, 1)); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	e.logger.InfoContext(ctx, "run resumed", "run_id", runID, "ip", cp.Frame.IP, "seq", cp.Frame.Seq)
	return nil
}

// Checkpoint returns the latest checkpoint of a run.
func (e *Engine) Checkpoint(ctx context.Context, runID string) (domain.Checkpoint, error) {
	return e.store.LoadCheckpoint(ctx, runID)
}

// Machine builds a VM over the engine's registry and stores.
func (e *Engine) Machine(opts ...runtime.Option) *runtime.Machine {
	base := []runtime.Option{
		runtime.WithLogger(e.logger),
		runtime.WithMetrics(e.metrics),
		runtime.WithLifecycleHooks(e.hooks),
		runtime.WithConditionEvaluator(e.evaluator),
		runtime.WithSecrets(e.secrets),
		runtime.WithInputs(e.inputs),
	}
	if e.tracer != nil {
		base = append(base, runtime.WithTracer(e.tracer))
	}
	if e.budget != nil {
		base = append(base, runtime.WithAdmitter(e.budget))
	}
	if e.timeout > 0 {
		base = append(base, runtime.WithTimeout(e.timeout))
	}
	return runtime.New(e.registry, e.store, e.joins, append(base, opts...)...)
}

// Executor builds a backplane consumer running this engine's programs.
// Call Run on the result to start consuming.
func (e *Engine) Executor(opts ...executor.Option) *executor.Executor {
	base := []executor.Option{
		executor.WithLogger(e.logger),
		executor.WithMetrics(e.metrics),
		executor.WithHooks(e.hooks),
	}
	if e.budget != nil {
		base = append(base, executor.WithBudget(e.budget))
	}
	return executor.New(e.Machine(), e.programs, e.store, e.backplane, append(base, opts...)...)
}

// RunLocal validates g and walks it in-process without persisting anything.
func (e *Engine) RunLocal(ctx context.Context, g domain.Graph) (*LocalResult, error) {
	if report := e.Validate(g); !report.OK {
		return nil, &domain.ValidationError{Report: report}
	}
	w := traversal.New(e.registry,
		traversal.WithLogger(e.logger),
		traversal.WithConditionEvaluator(e.evaluator),
		traversal.WithSecrets(e.secrets),
		traversal.WithInputs(e.inputs),
		traversal.WithLifecycleHooks(e.hooks),
	)
	return w.Run(ctx, uuid.NewString(), g)
}
