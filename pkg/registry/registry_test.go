package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/registry"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoFactory(def domain.NodeDef, _ *runstate.State) (node.Node, error) {
	return node.New(def, 1, func(ctx context.Context, in node.Inputs) (node.Output, error) {
		return node.Output{Values: map[string]any(in)}, nil
	}), nil
}

func TestRegistry_RegisterAndNew(t *testing.T) {
	reg := registry.NewRegistry()
	reg.RegisterFunc("echo", echoFactory)

	assert.True(t, reg.Has("echo"))
	assert.False(t, reg.Has("missing"))

	n, err := reg.New(domain.NodeDef{ID: "node-1", Type: "echo"}, runstate.New("run", nil))
	require.NoError(t, err)
	assert.Equal(t, "node-1", n.ID())

	res, err := n.Execute(context.Background(), node.Inputs{"v": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", res.Outputs()["v"])
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := registry.NewRegistry()
	_, err := reg.New(domain.NodeDef{ID: "node-1", Type: "nope"}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownNodeType)
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := registry.NewRegistry()
	bad := errors.New("bad config")
	reg.RegisterFunc("broken", func(domain.NodeDef, *runstate.State) (node.Node, error) {
		return nil, bad
	})

	_, err := reg.New(domain.NodeDef{ID: "node-1", Type: "broken"}, nil)
	assert.ErrorIs(t, err, bad)
}

func TestRegistry_Activity(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register(registry.Descriptor{Type: "http", Factory: echoFactory, Activity: true})
	reg.RegisterFunc("echo", echoFactory)

	assert.True(t, reg.IsActivity(domain.NodeDef{Type: "http"}))
	assert.False(t, reg.IsActivity(domain.NodeDef{Type: "echo"}))
	assert.True(t, reg.IsActivity(domain.NodeDef{Type: "echo", Config: map[string]any{"activity": true}}))
	assert.Equal(t, []string{"echo", "http"}, reg.Types())
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	reg := registry.NewRegistry()
	reg.RegisterFunc("echo", echoFactory)
	reg.Register(registry.Descriptor{Type: "echo", Factory: echoFactory, Activity: true})

	d, ok := reg.Lookup("echo")
	require.True(t, ok)
	assert.True(t, d.Activity)
}
