// Package node defines the execution contract every node type implements.
package node

import (
	"context"
	"sync"

	"github.com/aretw0/weave/pkg/domain"
)

// Inputs maps input port keys to the values bound before execution.
type Inputs map[string]any

// Node is the capability interface of a node type. Instances are created per
// call by a registry factory from a NodeDef and the run's global state.
type Node interface {
	ID() string

	// ReadInputs returns the declared input ports. It has no side effects.
	ReadInputs() []domain.Port

	// EstimatedCostBeforeExecution returns the cost in cost units, before any
	// commitment to execute. It has no side effects.
	EstimatedCostBeforeExecution() int64

	// Execute runs the node logic once. A second call returns an error status
	// with domain.ErrCodeNodeAlreadyExecuted and does not run the logic again.
	// Logic failures are returned as errors.
	Execute(ctx context.Context, in Inputs) (domain.ExecutionResult, error)
}

// Output is what node logic produces.
type Output struct {
	Values       map[string]any
	Next         string
	TerminateRun bool
}

// LogicFunc is the private execution logic of a node.
type LogicFunc func(ctx context.Context, in Inputs) (Output, error)

// Base implements the not-executed -> executed state machine around a LogicFunc.
// Concrete node types embed or wrap it.
type Base struct {
	def   domain.NodeDef
	cost  int64
	logic LogicFunc

	mu       sync.Mutex
	executed bool
}

// New creates a Base for def. The node starts executed when def.Executed is set.
func New(def domain.NodeDef, cost int64, logic LogicFunc) *Base {
	return &Base{
		def:      def,
		cost:     cost,
		logic:    logic,
		executed: def.Executed,
	}
}

func (b *Base) ID() string { return b.def.ID }

func (b *Base) ReadInputs() []domain.Port { return b.def.Inputs }

func (b *Base) EstimatedCostBeforeExecution() int64 { return b.cost }

// Executed reports whether the node already ran.
func (b *Base) Executed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executed
}

func (b *Base) Execute(ctx context.Context, in Inputs) (domain.ExecutionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.executed {
		return AlreadyExecuted(), nil
	}

	out, err := b.logic(ctx, in)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	b.executed = true

	if out.Values == nil {
		out.Values = make(map[string]any)
	}
	return domain.ExecutionResult{
		Status: domain.StatusOK,
		Payload: &domain.ResultPayload{
			NodeID:  b.def.ID,
			Outputs: out.Values,
		},
		Next:         out.Next,
		TerminateRun: out.TerminateRun,
	}, nil
}

// AlreadyExecuted is the result returned when re-execution is refused.
func AlreadyExecuted() domain.ExecutionResult {
	return domain.ExecutionResult{
		Status:    domain.StatusError,
		ErrorCode: domain.ErrCodeNodeAlreadyExecuted,
	}
}
