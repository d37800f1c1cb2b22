package executor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/weave/internal/compiler"
	"github.com/aretw0/weave/internal/runtime"
	"github.com/aretw0/weave/pkg/adapters/memory"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/executor"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/nodes"
	"github.com/aretw0/weave/pkg/ports"
	"github.com/aretw0/weave/pkg/registry"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/aretw0/weave/pkg/script"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg      *registry.Registry
	store    *memory.Store
	programs *memory.ProgramStore
	joins    *memory.JoinCounter
	bp       *memory.Backplane

	mu    sync.Mutex
	calls map[string]int

	done  chan *domain.RunEvent
	fault chan *domain.RunEvent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		reg:      nodes.NewRegistry(script.NewEvaluator()),
		store:    memory.NewStore(),
		programs: memory.NewProgramStore(),
		joins:    memory.NewJoinCounter(),
		bp:       memory.NewBackplane(memory.WithVisibilityTimeout(5 * time.Second)),
		calls:    make(map[string]int),
		done:     make(chan *domain.RunEvent, 8),
		fault:    make(chan *domain.RunEvent, 8),
	}
	fx.reg.Register(registry.Descriptor{Type: "count", Factory: fx.counting})
	// flaky fails with a transient error until config.succeed_on calls were made
	fx.reg.Register(registry.Descriptor{Type: "flaky", Factory: fx.flaky, Activity: true})
	return fx
}

func (fx *fixture) hit(id string) int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.calls[id]++
	return fx.calls[id]
}

func (fx *fixture) callCount(id string) int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.calls[id]
}

func (fx *fixture) counting(def domain.NodeDef, _ *runstate.State) (node.Node, error) {
	return node.New(def, 1, func(ctx context.Context, in node.Inputs) (node.Output, error) {
		fx.hit(def.ID)
		return node.Output{Values: map[string]any{"by": def.ID}}, nil
	}), nil
}

func (fx *fixture) flaky(def domain.NodeDef, _ *runstate.State) (node.Node, error) {
	succeedOn, _ := def.Config["succeed_on"].(int)
	return node.New(def, 1, func(ctx context.Context, in node.Inputs) (node.Output, error) {
		n := fx.hit(def.ID)
		if succeedOn == 0 || n < succeedOn {
			return node.Output{}, domain.Retryable(errors.New("upstream unavailable"))
		}
		return node.Output{Values: map[string]any{"calls": n}}, nil
	}), nil
}

func (fx *fixture) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnRunDone:  func(_ context.Context, e *domain.RunEvent) { fx.done <- e },
		OnRunFault: func(_ context.Context, e *domain.RunEvent) { fx.fault <- e },
	}
}

func (fx *fixture) machine(opts ...runtime.Option) *runtime.Machine {
	return runtime.New(fx.reg, fx.store, fx.joins, opts...)
}

func (fx *fixture) executor(m *runtime.Machine, opts ...executor.Option) *executor.Executor {
	opts = append([]executor.Option{executor.WithHooks(fx.hooks())}, opts...)
	return executor.New(m, fx.programs, fx.store, fx.bp, opts...)
}

// deploy compiles g, stores the program and returns its first frame.
func (fx *fixture) deploy(t *testing.T, g domain.Graph, runID string) (*domain.Program, *domain.Frame) {
	t.Helper()
	art := compiler.Compile(g, fx.reg)
	require.True(t, art.Validation.OK, "validation: %+v", art.Validation.Issues)
	require.NoError(t, fx.programs.SaveProgram(context.Background(), art.Program))
	return art.Program, domain.NewFrame(runID, art.Program.ID, art.Program.Locals, g.GlobalState)
}

// start runs ex in the background until the test ends.
func start(t *testing.T, ex *executor.Executor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ex.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-errCh)
	})
}

func waitFor(t *testing.T, ch <-chan *domain.RunEvent) *domain.RunEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run event")
		return nil
	}
}

func countNode(id string) domain.NodeDef {
	return domain.NodeDef{ID: id, Type: "count"}
}

func edge(from, to string) domain.EdgeDef {
	return domain.EdgeDef{ID: from + "->" + to, From: from, To: to}
}

// fakeDelivery records how a message was settled.
type fakeDelivery struct {
	attempt int

	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
}

func (d *fakeDelivery) Ack(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked++
	return nil
}

func (d *fakeDelivery) Nack(ctx context.Context, requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked++
	d.requeue = requeue
	return nil
}

func (d *fakeDelivery) Attempt() int { return d.attempt }

// failingCheckpoints rejects every checkpoint write.
type failingCheckpoints struct {
	*memory.Store
}

func (s failingCheckpoints) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	return errors.New("disk full")
}

// counterValue sums every series of the named counter.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

// countingJoins counts arrivals on top of the memory join counter.
type countingJoins struct {
	*memory.JoinCounter
	arrivals atomic.Int32
}

func (j *countingJoins) Arrive(ctx context.Context, runID, joinID, arrivalID string, active bool, expected int) (ports.JoinState, error) {
	j.arrivals.Add(1)
	return j.JoinCounter.Arrive(ctx, runID, joinID, arrivalID, active, expected)
}
