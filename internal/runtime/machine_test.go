package runtime_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/weave/internal/runtime"
	"github.com/aretw0/weave/pkg/adapters/memory"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/observability"
	"github.com/aretw0/weave/pkg/registry"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMachine_EndToEnd(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Name:  "a-then-b",
		Entry: "a",
		Nodes: []domain.NodeDef{
			{ID: "a", Type: "const", Config: map[string]any{"values": map[string]any{"greeting": "hi"}}},
			countNode("b"),
		},
		Edges: []domain.EdgeDef{edge("a", "b")},
	})

	out := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-e2e"))

	require.Equal(t, runtime.KindDone, out.Kind, "err: %v", out.Err)
	assert.NoError(t, out.Err)
	assert.False(t, out.Terminated)

	recs := fx.store.Activities("run-e2e")
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].NodeID)
	assert.Equal(t, "b", recs[1].NodeID)
	assert.Equal(t, "hi", recs[1].Output["greeting"], "b received a's output")
	assert.True(t, out.Frame.Executed["a"])
	assert.True(t, out.Frame.Executed["b"])
}

func TestMachine_ActivityReplayIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "charge",
		Nodes: []domain.NodeDef{{ID: "charge", Type: "count_activity"}, countNode("notify")},
		Edges: []domain.EdgeDef{edge("charge", "notify")},
	})
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	m := fx.machine(runtime.WithMetrics(metrics))
	initial := startFrame(prog, "run-replay")

	first := m.Run(context.Background(), prog, initial)
	require.Equal(t, runtime.KindDone, first.Kind)

	// the same frame is delivered again, e.g. after a crash before ack
	second := m.Run(context.Background(), prog, initial)
	require.Equal(t, runtime.KindDone, second.Kind)

	assert.Equal(t, 1, fx.callCount("charge"), "activity logic must run once")
	assert.Len(t, fx.store.Activities("run-replay"), 2)
	expected := `
# HELP weave_activities_replayed_total Activity calls answered from the activity log
# TYPE weave_activities_replayed_total counter
weave_activities_replayed_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "weave_activities_replayed_total"))

	cp, err := fx.store.LoadCheckpoint(context.Background(), "run-replay")
	require.NoError(t, err)
	assert.True(t, cp.Frame.Executed["charge"])
}

func TestMachine_DoesNotMutateInputFrame(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{Entry: "a", Nodes: []domain.NodeDef{countNode("a")}})
	frame := startFrame(prog, "run-immutable")

	out := fx.machine().Run(context.Background(), prog, frame)
	require.Equal(t, runtime.KindDone, out.Kind)
	assert.Zero(t, frame.IP)
	assert.Empty(t, frame.Executed)
}

func TestMachine_ConditionalBranchesAndJoin(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry:       "start",
		GlobalState: map[string]any{"score": 5.0},
		Nodes: []domain.NodeDef{
			countNode("start"), countNode("high"), countNode("low"), countNode("merge"),
		},
		Edges: []domain.EdgeDef{
			{ID: "start->high", From: "start", To: "high", Condition: `num(state["score"]) > 3`},
			{ID: "start->low", From: "start", To: "low", Condition: `num(state["score"]) <= 3`},
			edge("high", "merge"),
			edge("low", "merge"),
		},
	})

	out := runToEnd(t, fx.machine(), prog, startFrame(prog, "run-branch"))
	require.Equal(t, runtime.KindDone, out.Kind, "err: %v", out.Err)

	assert.Equal(t, 1, fx.callCount("high"))
	assert.Equal(t, 0, fx.callCount("low"), "dead branch must not run")
	assert.Equal(t, 1, fx.callCount("merge"), "join runs once")

	st, err := fx.joins.State(context.Background(), "run-branch", "merge")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Arrived)
	assert.Equal(t, 1, st.Active)
}

func TestMachine_JoinWithAllBranchesDeadIsSkipped(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "start",
		Nodes: []domain.NodeDef{countNode("start"), countNode("x"), countNode("y"), countNode("merge")},
		Edges: []domain.EdgeDef{
			{ID: "start->x", From: "start", To: "x", Condition: "false"},
			{ID: "start->y", From: "start", To: "y", Condition: "false"},
			edge("x", "merge"),
			edge("y", "merge"),
		},
	})

	out := runToEnd(t, fx.machine(), prog, startFrame(prog, "run-dead"))
	require.Equal(t, runtime.KindDone, out.Kind)
	assert.Zero(t, fx.callCount("merge"))
}

func TestMachine_BranchOverride(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "router",
		Nodes: []domain.NodeDef{
			{ID: "router", Type: "const", Config: map[string]any{"next": "right"}},
			countNode("left"), countNode("right"),
		},
		Edges: []domain.EdgeDef{edge("router", "left"), edge("router", "right")},
	})

	out := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-next"))
	require.Equal(t, runtime.KindDone, out.Kind)
	assert.Zero(t, fx.callCount("left"))
	assert.Equal(t, 1, fx.callCount("right"))
}

func TestMachine_TerminateRun(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "stop",
		Nodes: []domain.NodeDef{
			{ID: "stop", Type: "const", Config: map[string]any{"terminate": true}},
			countNode("after"),
		},
		Edges: []domain.EdgeDef{edge("stop", "after")},
	})

	out := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-stop"))
	require.Equal(t, runtime.KindDone, out.Kind)
	assert.True(t, out.Terminated)
	assert.Zero(t, fx.callCount("after"))
}

func TestMachine_NodeFault(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "a",
		Nodes: []domain.NodeDef{countNode("a"), {ID: "boom", Type: "fail", Config: map[string]any{"retryable": true}}},
		Edges: []domain.EdgeDef{edge("a", "boom")},
	})

	out := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-fault"))
	require.Equal(t, runtime.KindFault, out.Kind)

	var nf *domain.NodeFault
	require.ErrorAs(t, out.Err, &nf)
	assert.Equal(t, "boom", nf.NodeID)
	assert.Equal(t, 1, nf.Attempt)

	require.NotNil(t, out.Frame, "a node fault carries the frame")
	assert.Equal(t, domain.OpCallNode, prog.Chunk[out.Frame.IP].Op, "ip stays at the call")
	assert.Equal(t, 1, out.Frame.Attempts["boom"])
	assert.False(t, runtime.IsTerminal(out))

	// resuming the faulted frame retries with the next attempt
	again := fx.machine().Run(context.Background(), prog, out.Frame)
	require.ErrorAs(t, again.Err, &nf)
	assert.Equal(t, 2, nf.Attempt)
	assert.Equal(t, 1, fx.callCount("a"), "completed nodes are not rerun")
}

func TestMachine_NodeFaultIsLeftToRetryPolicy(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{Entry: "boom", Nodes: []domain.NodeDef{{ID: "boom", Type: "fail"}}})

	out := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-terminal"))
	require.Equal(t, runtime.KindFault, out.Kind)
	require.NotNil(t, out.Frame)
	assert.False(t, runtime.IsTerminal(out))
	assert.False(t, domain.IsRetryable(out.Err))
}

func TestMachine_Raise(t *testing.T) {
	fx := newFixture(t)
	prog := rawProgram(0, domain.Instr{Op: domain.OpRaise, Code: "QUOTA", Message: "over quota"})

	out := fx.machine().Run(context.Background(), prog, domain.NewFrame("run-raise", prog.ID, 0, nil))
	require.Equal(t, runtime.KindFault, out.Kind)
	assert.Nil(t, out.Frame)

	var re *domain.RaiseError
	require.ErrorAs(t, out.Err, &re)
	assert.Equal(t, "QUOTA", re.Code)
	assert.True(t, runtime.IsTerminal(out))
}

func TestMachine_YieldAndResume(t *testing.T) {
	fx := newFixture(t)
	prog := rawProgram(1,
		domain.Instr{Op: domain.OpPushConst, Const: "x"},
		domain.Instr{Op: domain.OpSetVar, Slot: 0},
		domain.Instr{Op: domain.OpYield},
		domain.Instr{Op: domain.OpEnd},
	)

	out := fx.machine().Run(context.Background(), prog, domain.NewFrame("run-yield", prog.ID, 1, nil))
	require.Equal(t, runtime.KindYield, out.Kind)
	assert.Equal(t, 3, out.Frame.IP, "ip is past the YIELD")

	// resume from the wire form
	wire, err := out.Frame.Clone()
	require.NoError(t, err)
	done := fx.machine().Run(context.Background(), prog, wire)
	require.Equal(t, runtime.KindDone, done.Kind)
	assert.Equal(t, "x", done.Frame.Locals[0])
}

func TestMachine_JoinBarrierYields(t *testing.T) {
	fx := newFixture(t)
	prog := rawProgram(1,
		domain.Instr{Op: domain.OpJoin, JoinID: "j", Count: 2},
		domain.Instr{Op: domain.OpSetVar, Slot: 0},
		domain.Instr{Op: domain.OpEnd},
	)
	ctx := context.Background()

	out := fx.machine().Run(ctx, prog, domain.NewFrame("run-join", prog.ID, 1, nil))
	require.Equal(t, runtime.KindYield, out.Kind)
	assert.True(t, out.Joined)
	assert.Zero(t, out.Frame.IP, "ip stays at the JOIN")

	_, err := fx.joins.Arrive(ctx, "run-join", "j", "e1", false, 2)
	require.NoError(t, err)
	_, err = fx.joins.Arrive(ctx, "run-join", "j", "e2", true, 2)
	require.NoError(t, err)

	done := fx.machine().Run(ctx, prog, out.Frame)
	require.Equal(t, runtime.KindDone, done.Kind)
	assert.Equal(t, true, done.Frame.Locals[0])
}

type refuseOnce struct{ refused bool }

func (r *refuseOnce) Admit(runID, nodeID string, cost int64) bool {
	if !r.refused {
		r.refused = true
		return false
	}
	return true
}

func TestMachine_CostAdmissionDefers(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{Entry: "a", Nodes: []domain.NodeDef{countNode("a")}})
	m := fx.machine(runtime.WithAdmitter(&refuseOnce{}))

	out := m.Run(context.Background(), prog, startFrame(prog, "run-budget"))
	require.Equal(t, runtime.KindYield, out.Kind)
	assert.True(t, out.Deferred)
	assert.Equal(t, domain.OpCallNode, prog.Chunk[out.Frame.IP].Op)
	assert.Zero(t, fx.callCount("a"))

	done := m.Run(context.Background(), prog, out.Frame)
	require.Equal(t, runtime.KindDone, done.Kind)
	assert.Equal(t, 1, fx.callCount("a"))
}

type failingStore struct {
	*fixture
}

func (f failingStore) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	return errors.New("disk full")
}

func (f failingStore) LoadCheckpoint(ctx context.Context, runID string) (domain.Checkpoint, error) {
	return f.store.LoadCheckpoint(ctx, runID)
}

func (f failingStore) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	return f.store.AppendActivity(ctx, rec)
}

func (f failingStore) GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error) {
	return f.store.GetActivity(ctx, runID, nodeID, attempt)
}

func TestMachine_CheckpointFailureIsRetryable(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{Entry: "pay", Nodes: []domain.NodeDef{{ID: "pay", Type: "count_activity"}}})
	m := runtime.New(fx.reg, failingStore{fx}, fx.joins)

	out := m.Run(context.Background(), prog, startFrame(prog, "run-disk"))
	require.Equal(t, runtime.KindFault, out.Kind)

	var sf *domain.StoreFault
	require.ErrorAs(t, out.Err, &sf)
	require.NotNil(t, out.Frame)
	assert.Equal(t, domain.OpCheckpoint, prog.Chunk[out.Frame.IP].Op)
	assert.False(t, runtime.IsTerminal(out))

	// the activity was recorded, so a retry replays it instead of paying twice
	again := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-disk"))
	require.Equal(t, runtime.KindDone, again.Kind)
	assert.Equal(t, 1, fx.callCount("pay"))
}

func TestMachine_ReplayRestoresStateWrites(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "pay",
		Nodes: []domain.NodeDef{
			{ID: "pay", Type: "set_state", Config: map[string]any{"activity": true, "values": map[string]any{"paid": true}}},
			countNode("ship"),
		},
		Edges: []domain.EdgeDef{{ID: "pay->ship", From: "pay", To: "ship", Condition: `truthy(state["paid"])`}},
	})
	ctx := context.Background()

	// the activity is recorded but its checkpoint never lands
	crashed := runtime.New(fx.reg, failingStore{fx}, fx.joins).Run(ctx, prog, startFrame(prog, "run-paid"))
	require.Equal(t, runtime.KindFault, crashed.Kind)

	// the original frame is redelivered to a healthy worker
	out := fx.machine().Run(ctx, prog, startFrame(prog, "run-paid"))
	require.Equal(t, runtime.KindDone, out.Kind, "err: %v", out.Err)
	assert.Equal(t, true, out.Frame.Env.State["paid"])
	assert.Equal(t, 1, fx.callCount("ship"))

	recs := fx.store.Activities("run-paid")
	require.NotEmpty(t, recs)
	assert.Equal(t, map[string]any{"paid": true}, recs[0].StateSet)
}

// racingStore reports the first activity lookup as a miss, as if another
// worker recorded the attempt right after this one checked.
type racingStore struct {
	*memory.Store

	mu     sync.Mutex
	missed bool
}

func (s *racingStore) GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error) {
	s.mu.Lock()
	first := !s.missed
	s.missed = true
	s.mu.Unlock()
	if first {
		return domain.ActivityRecord{}, domain.ErrActivityNotFound
	}
	return s.Store.GetActivity(ctx, runID, nodeID, attempt)
}

func TestMachine_CommitsRecordedActivityAfterLostRace(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "charge",
		Nodes: []domain.NodeDef{{ID: "charge", Type: "count_activity"}, countNode("notify")},
		Edges: []domain.EdgeDef{edge("charge", "notify")},
	})
	ctx := context.Background()
	require.NoError(t, fx.store.AppendActivity(ctx, domain.ActivityRecord{
		RunID: "run-race", NodeID: "charge", Attempt: 1,
		Output:   map[string]any{"by": "winner", "token": "tok_winner"},
		StateSet: map[string]any{"charged_by": "winner"},
	}))

	m := runtime.New(fx.reg, &racingStore{Store: fx.store}, fx.joins)
	out := m.Run(ctx, prog, startFrame(prog, "run-race"))
	require.Equal(t, runtime.KindDone, out.Kind, "err: %v", out.Err)
	assert.Equal(t, 1, fx.callCount("charge"), "the losing call ran")
	assert.Equal(t, "winner", out.Frame.Env.State["charged_by"])

	recs := fx.store.Activities("run-race")
	require.Len(t, recs, 2)
	assert.Equal(t, "winner", recs[0].Output["by"], "the log keeps the first record")
	assert.Equal(t, "tok_winner", recs[1].Output["token"], "downstream sees the recorded output")
}

func TestMachine_FailedCallDiscardsStateWrites(t *testing.T) {
	fx := newFixture(t)
	fx.reg.Register(registry.Descriptor{Type: "dirty_fail", Factory: func(def domain.NodeDef, st *runstate.State) (node.Node, error) {
		return node.New(def, 1, func(ctx context.Context, in node.Inputs) (node.Output, error) {
			st.UpdatePartial(map[string]any{"half_done": true})
			return node.Output{}, domain.Retryable(errors.New("flaky"))
		}), nil
	}})
	prog := fx.compile(t, domain.Graph{Entry: "step", Nodes: []domain.NodeDef{{ID: "step", Type: "dirty_fail"}}})

	out := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-dirty"))
	require.Equal(t, runtime.KindFault, out.Kind)
	require.NotNil(t, out.Frame)
	assert.NotContains(t, out.Frame.Env.State, "half_done")
}

func TestMachine_AlreadyExecutedIsRecovered(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{Entry: "a", Nodes: []domain.NodeDef{countNode("a")}})
	ctx := context.Background()

	require.NoError(t, fx.store.AppendActivity(ctx, domain.ActivityRecord{
		RunID: "run-recover", NodeID: "a", Attempt: 1, Output: map[string]any{"by": "log"},
	}))
	frame := startFrame(prog, "run-recover")
	frame.Executed["a"] = true

	out := fx.machine().Run(ctx, prog, frame)
	require.Equal(t, runtime.KindDone, out.Kind, "err: %v", out.Err)
	assert.Zero(t, fx.callCount("a"))
}

func TestMachine_AlreadyExecutedWithoutRecordFaults(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{Entry: "a", Nodes: []domain.NodeDef{countNode("a")}})
	frame := startFrame(prog, "run-orphan")
	frame.Executed["a"] = true

	out := fx.machine().Run(context.Background(), prog, frame)
	require.Equal(t, runtime.KindFault, out.Kind)
	assert.ErrorIs(t, out.Err, domain.ErrNodeAlreadyExecuted)
}

func TestMachine_Cancellation(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{Entry: "a", Nodes: []domain.NodeDef{countNode("a")}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := fx.machine().Run(ctx, prog, startFrame(prog, "run-cancel"))
	require.Equal(t, runtime.KindFault, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.NotNil(t, out.Frame)
	assert.False(t, runtime.IsTerminal(out))
}

func TestMachine_StepLimitSlicesWindows(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "a",
		Nodes: []domain.NodeDef{countNode("a"), countNode("b")},
		Edges: []domain.EdgeDef{edge("a", "b")},
	})
	m := fx.machine(runtime.WithMaxSteps(3))

	first := m.Run(context.Background(), prog, startFrame(prog, "run-slice"))
	require.Equal(t, runtime.KindYield, first.Kind)
	assert.Equal(t, 3, first.Frame.IP)
	assert.False(t, first.Deferred)

	out := runToEnd(t, m, prog, first.Frame)
	assert.Equal(t, runtime.KindDone, out.Kind)
	assert.Equal(t, 1, fx.callCount("b"))
}

func TestMachine_ProgramMismatch(t *testing.T) {
	fx := newFixture(t)
	prog := rawProgram(0, domain.Instr{Op: domain.OpEnd})

	out := fx.machine().Run(context.Background(), prog, domain.NewFrame("run-x", "other", 0, nil))
	require.Equal(t, runtime.KindFault, out.Kind)
	assert.ErrorIs(t, out.Err, runtime.ErrInvalidProgram)
	assert.True(t, runtime.IsTerminal(out))
}

func TestMachine_HooksAndSpans(t *testing.T) {
	fx := newFixture(t)
	prog := fx.compile(t, domain.Graph{
		Entry: "a",
		Nodes: []domain.NodeDef{countNode("a"), countNode("b")},
		Edges: []domain.EdgeDef{edge("a", "b")},
	})

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	var started, finished []string
	hooks := domain.LifecycleHooks{
		OnNodeStart:  func(ctx context.Context, e *domain.NodeEvent) { started = append(started, e.NodeID) },
		OnNodeFinish: func(ctx context.Context, e *domain.NodeEvent) { finished = append(finished, e.NodeID) },
	}
	m := fx.machine(
		runtime.WithTracer(observability.Tracer(tp)),
		runtime.WithLifecycleHooks(hooks),
		runtime.WithTimeout(time.Second),
	)

	out := m.Run(context.Background(), prog, startFrame(prog, "run-hooks"))
	require.Equal(t, runtime.KindDone, out.Kind)

	assert.Equal(t, []string{"a", "b"}, started)
	assert.Equal(t, []string{"a", "b"}, finished)

	var names []string
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{observability.SpanNode, observability.SpanNode, observability.SpanFrame}, names)
}

func TestMachine_PortTypesAreChecked(t *testing.T) {
	fx := newFixture(t)
	producer := domain.NodeDef{ID: "a", Type: "const", Config: map[string]any{"values": map[string]any{"n": "seven"}}}

	t.Run("ill-typed input is not retryable", func(t *testing.T) {
		consumer := countNode("b")
		consumer.Inputs = []domain.Port{{Name: "n", Type: "int", Required: true}}
		prog := fx.compile(t, domain.Graph{
			Entry: "a",
			Nodes: []domain.NodeDef{producer, consumer},
			Edges: []domain.EdgeDef{edge("a", "b")},
		})

		out := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-bad-input"))

		require.Equal(t, runtime.KindFault, out.Kind)
		var nf *domain.NodeFault
		require.ErrorAs(t, out.Err, &nf)
		assert.Equal(t, "b", nf.NodeID)
		assert.ErrorContains(t, out.Err, `port "n"`)
		assert.False(t, domain.IsRetryable(out.Err))
		assert.Zero(t, fx.callCount("b"), "node is not called")
	})

	t.Run("ill-typed output counts as a failed attempt", func(t *testing.T) {
		typed := producer
		typed.ID = "c"
		typed.Outputs = []domain.Port{{Name: "n", Type: "int"}}
		prog := fx.compile(t, domain.Graph{Entry: "c", Nodes: []domain.NodeDef{typed}})

		out := fx.machine().Run(context.Background(), prog, startFrame(prog, "run-bad-output"))

		require.Equal(t, runtime.KindFault, out.Kind)
		assert.ErrorContains(t, out.Err, "expected int")
		assert.Equal(t, 1, out.Frame.Attempts["c"])
		assert.Empty(t, fx.store.Activities("run-bad-output"))
	})
}
