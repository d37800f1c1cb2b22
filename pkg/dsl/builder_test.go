package dsl

import (
	"testing"

	"github.com/aretw0/weave/internal/validator"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/nodes"
	"github.com/aretw0/weave/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_SimpleFlow(t *testing.T) {
	b := New("greeting", "1")

	b.Add("start_node_0001").
		Const(map[string]any{"name": "ada"}).
		Go("decide_node_0001")

	b.Add("decide_node_0001").
		Type(nodes.TypePassthrough).
		Branch(`str(state["mode"]) == "loud"`, "shout_node_0001").
		Go("end_node_00001")

	b.Add("shout_node_0001").
		SetState(map[string]any{"shouted": true}).
		Activity().
		Cost(3)

	b.Add("end_node_00001").
		Type(nodes.TypePassthrough).
		Terminal()

	b.State("mode", "quiet")

	g, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, "greeting@1", g.WorkflowID())
	assert.Equal(t, "start_node_0001", g.Entry, "first node is the entry")
	assert.Equal(t, "quiet", g.GlobalState["mode"])
	require.Len(t, g.Nodes, 4)
	assert.Equal(t, []string{"start_node_0001", "decide_node_0001", "shout_node_0001", "end_node_00001"},
		[]string{g.Nodes[0].ID, g.Nodes[1].ID, g.Nodes[2].ID, g.Nodes[3].ID})

	require.Len(t, g.Edges, 3)
	assert.Equal(t, "decide_node_0001->shout_node_0001", g.Edges[1].ID)
	assert.Equal(t, `str(state["mode"]) == "loud"`, g.Edges[1].Condition)

	shout, ok := g.Node("shout_node_0001")
	require.True(t, ok)
	assert.Equal(t, true, shout.Config["activity"])
	assert.Equal(t, int64(3), shout.Config["cost"])

	report := validator.Validate(g, nodes.NewRegistry(script.NewEvaluator()))
	assert.True(t, report.OK, "issues: %+v", report.Issues)
}

func TestBuilder_ExternalInputs(t *testing.T) {
	b := New("ext", "")
	b.Add("needs_key_00001").Type(nodes.TypePassthrough).External("api_key").External("region")

	g, err := b.Build()
	require.NoError(t, err)

	n := g.Nodes[0]
	assert.Equal(t, []any{"api_key", "region"}, n.Config[validator.ExternalInputsKey])
	require.Len(t, n.Inputs, 2)
	assert.True(t, n.Inputs[0].Required)

	report := validator.Validate(g, nodes.NewRegistry(script.NewEvaluator()))
	assert.True(t, report.OK, "external inputs satisfy required ports: %+v", report.Issues)
}

func TestBuilder_Errors(t *testing.T) {
	_, err := New("empty", "").Build()
	assert.Error(t, err)

	b := New("untyped", "")
	b.Add("a")
	_, err = b.Build()
	assert.ErrorContains(t, err, `node "a" has no type`)
}

func TestBuilder_AddIsIdempotent(t *testing.T) {
	b := New("g", "")
	first := b.Add("a").Type(nodes.TypeConst)
	assert.Same(t, first, b.Add("a"))

	g, err := b.Build()
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Equal(t, domain.NodeDef{ID: "a", Type: nodes.TypeConst}, first.Build())
}
