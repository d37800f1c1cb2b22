package node_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingNode(def domain.NodeDef, calls *atomic.Int32) *node.Base {
	return node.New(def, 3, func(ctx context.Context, in node.Inputs) (node.Output, error) {
		calls.Add(1)
		return node.Output{Values: map[string]any{"echo": in["x"]}}, nil
	})
}

func TestBase_ExecuteOnce(t *testing.T) {
	var calls atomic.Int32
	n := countingNode(domain.NodeDef{ID: "node-echo"}, &calls)

	res, err := n.Execute(context.Background(), node.Inputs{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, res.Status)
	require.NotNil(t, res.Payload)
	assert.Equal(t, "node-echo", res.Payload.NodeID)
	assert.Equal(t, 1, res.Payload.Outputs["echo"])
	assert.True(t, n.Executed())

	res, err = n.Execute(context.Background(), node.Inputs{"x": 2})
	require.NoError(t, err, "refusal is a status, not an error")
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Equal(t, domain.ErrCodeNodeAlreadyExecuted, res.ErrorCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBase_RefusesWhenDefinitionExecuted(t *testing.T) {
	var calls atomic.Int32
	n := countingNode(domain.NodeDef{ID: "node-done", Executed: true}, &calls)

	res, err := n.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "NODE_IS_ALREADY_EXECUTED", res.ErrorCode)
	assert.Zero(t, calls.Load(), "logic must not run")
}

func TestBase_LogicFailureIsAnError(t *testing.T) {
	boom := errors.New("boom")
	n := node.New(domain.NodeDef{ID: "node-fail"}, 1, func(ctx context.Context, in node.Inputs) (node.Output, error) {
		return node.Output{}, boom
	})

	_, err := n.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, n.Executed(), "a failed attempt leaves the node executable")
}

func TestBase_ConcurrentExecuteRunsLogicOnce(t *testing.T) {
	var calls atomic.Int32
	n := countingNode(domain.NodeDef{ID: "node-race"}, &calls)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := n.Execute(context.Background(), nil)
			assert.NoError(t, err)
			if res.Status == domain.StatusOK {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), ok.Load())
}

func TestBase_Accessors(t *testing.T) {
	def := domain.NodeDef{ID: "node-ports", Inputs: []domain.Port{{Name: "x", Required: true}}}
	n := node.New(def, 42, func(ctx context.Context, in node.Inputs) (node.Output, error) {
		return node.Output{Next: "node-b", TerminateRun: true}, nil
	})

	assert.Equal(t, int64(42), n.EstimatedCostBeforeExecution())
	assert.Equal(t, def.Inputs, n.ReadInputs())

	res, err := n.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "node-b", res.Next)
	assert.True(t, res.TerminateRun)
	assert.NotNil(t, res.Outputs())
}
