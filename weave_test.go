package weave_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/weave"
	"github.com/aretw0/weave/pkg/adapters/memory"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/dsl"
	"github.com/aretw0/weave/pkg/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderGraph(t *testing.T) domain.Graph {
	t.Helper()
	b := dsl.New("order", "1")
	b.Add("receive_order_001").
		Const(map[string]any{"total": 42}).
		Go("charge_card_00001")
	b.Add("charge_card_00001").
		Type(nodes.TypePassthrough).
		Activity().
		Go("ship_order_00001")
	b.Add("ship_order_00001").
		SetState(map[string]any{"shipped": true})
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

type harness struct {
	eng   *weave.Engine
	store *memory.Store
	done  chan *domain.RunEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: memory.NewStore(),
		done:  make(chan *domain.RunEvent, 4),
	}
	h.eng = weave.New(
		weave.WithStateStore(h.store),
		weave.WithBackplane(memory.NewBackplane(memory.WithVisibilityTimeout(5*time.Second))),
		weave.WithLifecycleHooks(domain.LifecycleHooks{
			OnRunDone: func(_ context.Context, e *domain.RunEvent) { h.done <- e },
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.eng.Executor().Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
	})
	return h
}

func (h *harness) awaitDone(t *testing.T) *domain.RunEvent {
	t.Helper()
	select {
	case e := <-h.done:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete")
		return nil
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	prog, err := h.eng.Publish(ctx, orderGraph(t))
	require.NoError(t, err)

	runID, err := h.eng.Start(ctx, prog.ID, map[string]any{"customer": "ada"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	ev := h.awaitDone(t)
	assert.Equal(t, runID, ev.RunID)

	cp, err := h.eng.Checkpoint(ctx, runID)
	require.NoError(t, err)
	assert.True(t, cp.Frame.Finished)
	assert.Equal(t, true, cp.Frame.Env.State["shipped"])
	assert.Equal(t, "ada", cp.Frame.Env.State["customer"])

	acts := h.store.Activities(runID)
	require.Len(t, acts, 1)
	assert.Equal(t, "charge_card_00001", acts[0].NodeID)
	assert.EqualValues(t, 42, acts[0].Output["total"])

	err = h.eng.Resume(ctx, runID)
	assert.ErrorIs(t, err, domain.ErrRunFinished)
}

func TestEngine_PublishRejectsInvalidGraph(t *testing.T) {
	eng := weave.New()
	g := domain.Graph{
		Name:  "broken",
		Entry: "missing_node_0001",
		Nodes: []domain.NodeDef{{ID: "lonely_node_00001", Type: "no_such_type"}},
	}

	_, err := eng.Publish(context.Background(), g)
	require.Error(t, err)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, verr.Report.OK)
	assert.True(t, verr.Report.Has(domain.CodeUnknownNodeType))
}

func TestEngine_PublishIsIdempotent(t *testing.T) {
	eng := weave.New()
	ctx := context.Background()

	first, err := eng.Publish(ctx, orderGraph(t))
	require.NoError(t, err)
	second, err := eng.Publish(ctx, orderGraph(t))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestEngine_StartUnknownProgram(t *testing.T) {
	_, err := weave.New().Start(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, domain.ErrProgramNotFound)
}

func TestEngine_ResumeRepublishesCheckpoint(t *testing.T) {
	ctx := context.Background()
	bp := memory.NewBackplane()
	eng := weave.New(weave.WithBackplane(bp))

	prog, err := eng.Publish(ctx, orderGraph(t))
	require.NoError(t, err)
	runID, err := eng.Start(ctx, prog.ID, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Resume(ctx, runID))

	err = eng.Resume(ctx, "unknown-run")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}

func TestEngine_RunLocal(t *testing.T) {
	res, err := weave.New().RunLocal(context.Background(), orderGraph(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"receive_order_001", "charge_card_00001", "ship_order_00001"}, res.Order)
	assert.Equal(t, true, res.State["shipped"])
}
