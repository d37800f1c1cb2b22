package traversal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/weave/internal/traversal"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/nodes"
	"github.com/aretw0/weave/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func walker(opts ...traversal.Option) *traversal.Walker {
	ev := script.NewEvaluator()
	return traversal.New(nodes.NewRegistry(ev), append([]traversal.Option{traversal.WithConditionEvaluator(ev)}, opts...)...)
}

func def(id, typ string, cfg map[string]any) domain.NodeDef {
	return domain.NodeDef{ID: id, Type: typ, Config: cfg}
}

func edge(from, to string) domain.EdgeDef {
	return domain.EdgeDef{ID: from + "->" + to, From: from, To: to}
}

func when(from, to, cond string) domain.EdgeDef {
	e := edge(from, to)
	e.Condition = cond
	return e
}

func TestWalker_LinearChain(t *testing.T) {
	g := domain.Graph{
		Name:  "chain",
		Entry: "src",
		Nodes: []domain.NodeDef{
			def("src", nodes.TypeConst, map[string]any{"values": map[string]any{"x": 1}}),
			def("mid", nodes.TypePassthrough, nil),
			def("end", nodes.TypePassthrough, nil),
		},
		Edges: []domain.EdgeDef{edge("src", "mid"), edge("mid", "end")},
	}

	res, err := walker().Run(context.Background(), "run-1", g)
	require.NoError(t, err)

	assert.Equal(t, []string{"src", "mid", "end"}, res.Order)
	assert.Equal(t, map[string]any{"x": 1}, res.Outputs["end"])
	assert.True(t, res.Cursor.Finished)
	assert.Empty(t, res.Cursor.Queue)
	assert.False(t, res.Terminated)
}

func TestWalker_ConditionalBranchSkipsDeadPath(t *testing.T) {
	g := domain.Graph{
		Name:  "branch",
		Entry: "start",
		Nodes: []domain.NodeDef{
			def("start", nodes.TypeSetState, map[string]any{"values": map[string]any{"mode": "a"}}),
			def("a", nodes.TypeConst, map[string]any{"values": map[string]any{"path": "a"}}),
			def("b", nodes.TypeConst, map[string]any{"values": map[string]any{"path": "b"}}),
			def("end", nodes.TypePassthrough, nil),
		},
		Edges: []domain.EdgeDef{
			when("start", "a", `str(state["mode"]) == "a"`),
			when("start", "b", `str(state["mode"]) == "b"`),
			edge("a", "end"),
			edge("b", "end"),
		},
	}

	res, err := walker().Run(context.Background(), "run-1", g)
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "a", "end"}, res.Order)
	assert.Equal(t, []string{"b"}, res.Skipped)
	assert.Equal(t, "a", res.Outputs["end"]["path"])
	assert.Equal(t, "a", res.State["mode"])
	assert.True(t, res.Cursor.Visited["b"])
}

func TestWalker_JoinWaitsForAllBranches(t *testing.T) {
	g := domain.Graph{
		Name:  "diamond",
		Entry: "fork",
		Nodes: []domain.NodeDef{
			def("fork", nodes.TypeConst, nil),
			def("left", nodes.TypeConst, map[string]any{"values": map[string]any{"l": true}}),
			def("right", nodes.TypeConst, map[string]any{"values": map[string]any{"r": true}}),
			def("join", nodes.TypePassthrough, nil),
		},
		Edges: []domain.EdgeDef{
			edge("fork", "left"),
			edge("fork", "right"),
			edge("left", "join"),
			edge("right", "join"),
		},
	}

	res, err := walker().Run(context.Background(), "run-1", g)
	require.NoError(t, err)

	require.Len(t, res.Order, 4)
	assert.Equal(t, "join", res.Order[3])
	assert.Equal(t, map[string]any{"l": true, "r": true}, res.Outputs["join"])
}

func TestWalker_NextRestrictsTraversal(t *testing.T) {
	g := domain.Graph{
		Name:  "router",
		Entry: "route",
		Nodes: []domain.NodeDef{
			def("route", nodes.TypeConst, map[string]any{"next": "b"}),
			def("a", nodes.TypeConst, nil),
			def("b", nodes.TypeConst, nil),
		},
		Edges: []domain.EdgeDef{edge("route", "a"), edge("route", "b")},
	}

	res, err := walker().Run(context.Background(), "run-1", g)
	require.NoError(t, err)

	assert.Equal(t, []string{"route", "b"}, res.Order)
	assert.Equal(t, []string{"a"}, res.Skipped)
}

func TestWalker_TerminateStopsRun(t *testing.T) {
	g := domain.Graph{
		Name:  "stop",
		Entry: "first",
		Nodes: []domain.NodeDef{
			def("first", nodes.TypeConst, map[string]any{"terminate": true}),
			def("second", nodes.TypeConst, nil),
		},
		Edges: []domain.EdgeDef{edge("first", "second")},
	}

	res, err := walker().Run(context.Background(), "run-1", g)
	require.NoError(t, err)

	assert.True(t, res.Terminated)
	assert.True(t, res.Cursor.Finished)
	assert.Equal(t, []string{"first"}, res.Order)
	assert.NotContains(t, res.Outputs, "second")
}

func TestWalker_NodeFailureIsReported(t *testing.T) {
	g := domain.Graph{
		Name:  "broken",
		Entry: "ok",
		Nodes: []domain.NodeDef{
			def("ok", nodes.TypeConst, nil),
			def("boom", nodes.TypeFail, map[string]any{"message": "nope"}),
		},
		Edges: []domain.EdgeDef{edge("ok", "boom")},
	}

	res, err := walker().Run(context.Background(), "run-1", g)
	require.Error(t, err)

	var fault *domain.NodeFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "boom", fault.NodeID)
	assert.Contains(t, err.Error(), "nope")
	assert.Equal(t, []string{"ok"}, res.Order)
	assert.Equal(t, "boom", res.Cursor.Current)
}

func TestWalker_MissingEntry(t *testing.T) {
	_, err := walker().Run(context.Background(), "run-1", domain.Graph{Name: "empty", Entry: "ghost"})
	assert.ErrorIs(t, err, traversal.ErrNoEntry)
}

func TestWalker_HooksAndCancellation(t *testing.T) {
	var (
		mu     sync.Mutex
		events []domain.EventType
	)
	record := func(_ context.Context, e *domain.NodeEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Type)
	}
	w := walker(traversal.WithLifecycleHooks(domain.LifecycleHooks{OnNodeStart: record, OnNodeFinish: record}))

	g := domain.Graph{
		Name:  "one",
		Entry: "only",
		Nodes: []domain.NodeDef{def("only", nodes.TypeConst, nil)},
	}
	_, err := w.Run(context.Background(), "run-1", g)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventType{domain.EventNodeStart, domain.EventNodeFinish}, events)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Run(ctx, "run-2", g)
	assert.ErrorIs(t, err, context.Canceled)
}
