package dsl

import (
	"fmt"

	"github.com/aretw0/weave/internal/validator"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/nodes"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.NodeDef
	edges   []domain.EdgeDef
	builder *Builder
}

// Type sets the registry tag of the node.
func (n *NodeBuilder) Type(nodeType string) *NodeBuilder {
	n.node.Type = nodeType
	return n
}

// Config sets one config value.
func (n *NodeBuilder) Config(key string, value any) *NodeBuilder {
	if n.node.Config == nil {
		n.node.Config = make(map[string]any)
	}
	n.node.Config[key] = value
	return n
}

// Const makes the node emit values.
func (n *NodeBuilder) Const(values map[string]any) *NodeBuilder {
	return n.Type(nodes.TypeConst).Config("values", values)
}

// SetState makes the node merge values into the run state.
func (n *NodeBuilder) SetState(values map[string]any) *NodeBuilder {
	return n.Type(nodes.TypeSetState).Config("values", values)
}

// Script makes the node run Go source through the interpreter.
func (n *NodeBuilder) Script(code string) *NodeBuilder {
	n.node.Type = nodes.TypeScript
	n.node.Code = code
	return n
}

// Activity marks the node's effect as external; its output is checkpointed.
func (n *NodeBuilder) Activity() *NodeBuilder {
	return n.Config("activity", true)
}

// Cost overrides the admission cost of the node.
func (n *NodeBuilder) Cost(cost int64) *NodeBuilder {
	return n.Config("cost", cost)
}

// Input declares an input port.
func (n *NodeBuilder) Input(name string, required bool) *NodeBuilder {
	n.node.Inputs = append(n.node.Inputs, domain.Port{Name: name, Required: required})
	return n
}

// External declares an input port fed by the run's input source instead of an edge.
func (n *NodeBuilder) External(name string) *NodeBuilder {
	n.Input(name, true)
	ext, _ := n.node.Config[validator.ExternalInputsKey].([]any)
	return n.Config(validator.ExternalInputsKey, append(ext, name))
}

// Output declares an output port.
func (n *NodeBuilder) Output(name string) *NodeBuilder {
	n.node.Outputs = append(n.node.Outputs, domain.Port{Name: name})
	return n
}

// Go adds an unconditional edge to the target node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	return n.Branch("", target)
}

// Branch adds a conditional edge to the target node.
func (n *NodeBuilder) Branch(condition string, target string) *NodeBuilder {
	n.edges = append(n.edges, domain.EdgeDef{
		ID:        fmt.Sprintf("%s->%s", n.node.ID, target),
		From:      n.node.ID,
		To:        target,
		Condition: condition,
	})
	return n
}

// Terminal removes every outgoing edge.
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.edges = nil
	return n
}

// Build returns the underlying domain.NodeDef.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Build() domain.NodeDef {
	return n.node
}
