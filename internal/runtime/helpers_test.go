package runtime_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/weave/internal/compiler"
	"github.com/aretw0/weave/internal/runtime"
	"github.com/aretw0/weave/pkg/adapters/memory"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/nodes"
	"github.com/aretw0/weave/pkg/registry"
	"github.com/aretw0/weave/pkg/runstate"
	"github.com/aretw0/weave/pkg/script"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg   *registry.Registry
	store *memory.Store
	joins *memory.JoinCounter

	mu    sync.Mutex
	calls map[string]int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		reg:   nodes.NewRegistry(script.NewEvaluator()),
		store: memory.NewStore(),
		joins: memory.NewJoinCounter(),
		calls: make(map[string]int),
	}
	// count echoes its inputs and adds {"by": id}
	fx.reg.Register(registry.Descriptor{Type: "count", Factory: fx.counting})
	fx.reg.Register(registry.Descriptor{Type: "count_activity", Factory: fx.counting, Activity: true})
	return fx
}

func (fx *fixture) counting(def domain.NodeDef, _ *runstate.State) (node.Node, error) {
	return node.New(def, 1, func(ctx context.Context, in node.Inputs) (node.Output, error) {
		fx.mu.Lock()
		fx.calls[def.ID]++
		fx.mu.Unlock()

		out := map[string]any{"by": def.ID}
		for k, v := range in {
			if k != "by" {
				out[k] = v
			}
		}
		return node.Output{Values: out}, nil
	}), nil
}

func (fx *fixture) callCount(id string) int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.calls[id]
}

func (fx *fixture) compile(t *testing.T, g domain.Graph) *domain.Program {
	t.Helper()
	art := compiler.Compile(g, fx.reg)
	require.True(t, art.Validation.OK, "validation: %+v", art.Validation.Issues)
	require.NotNil(t, art.Program)
	return art.Program
}

func (fx *fixture) machine(opts ...runtime.Option) *runtime.Machine {
	return runtime.New(fx.reg, fx.store, fx.joins, opts...)
}

// runToEnd feeds yielded frames back into the machine, as an executor would.
func runToEnd(t *testing.T, m *runtime.Machine, prog *domain.Program, frame *domain.Frame) runtime.Outcome {
	t.Helper()
	for i := 0; i < 50; i++ {
		out := m.Run(context.Background(), prog, frame)
		if out.Kind != runtime.KindYield {
			return out
		}
		frame = out.Frame
	}
	t.Fatal("program did not finish within 50 windows")
	return runtime.Outcome{}
}

func startFrame(prog *domain.Program, runID string) *domain.Frame {
	return domain.NewFrame(runID, prog.ID, prog.Locals, prog.Graph.GlobalState)
}

func countNode(id string) domain.NodeDef {
	return domain.NodeDef{ID: id, Type: "count"}
}

func edge(from, to string) domain.EdgeDef {
	return domain.EdgeDef{ID: from + "->" + to, From: from, To: to}
}

// rawProgram wraps a handcrafted chunk that calls no nodes.
func rawProgram(locals int, chunk ...domain.Instr) *domain.Program {
	return &domain.Program{ID: "raw", WorkflowID: "raw", Locals: locals, Chunk: chunk}
}
