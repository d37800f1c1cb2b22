package dsl

import (
	"fmt"

	"github.com/aretw0/weave/pkg/domain"
)

// Builder manages the graph construction.
type Builder struct {
	name    string
	version string
	entry   string
	state   map[string]any

	order []string
	nodes map[string]*NodeBuilder
}

// New creates a new graph builder.
func New(name, version string) *Builder {
	return &Builder{
		name:    name,
		version: version,
		nodes:   make(map[string]*NodeBuilder),
	}
}

// Add creates a new node in the graph.
// If the node already exists, it returns the existing builder.
// The first node added is the entry unless Entry says otherwise.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    domain.NodeDef{ID: id},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	if b.entry == "" {
		b.entry = id
	}
	return nb
}

// Entry sets the entry node.
func (b *Builder) Entry(id string) *Builder {
	b.entry = id
	return b
}

// State adds an initial global state value.
func (b *Builder) State(key string, value any) *Builder {
	if b.state == nil {
		b.state = make(map[string]any)
	}
	b.state[key] = value
	return b
}

// Build assembles the graph in declaration order.
// It only checks what the builder itself can get wrong; run the validator
// for everything else.
func (b *Builder) Build() (domain.Graph, error) {
	if len(b.order) == 0 {
		return domain.Graph{}, fmt.Errorf("graph %q has no nodes", b.name)
	}
	g := domain.Graph{
		Name:        b.name,
		Version:     b.version,
		Entry:       b.entry,
		GlobalState: b.state,
	}
	for _, id := range b.order {
		nb := b.nodes[id]
		if nb.node.Type == "" {
			return domain.Graph{}, fmt.Errorf("node %q has no type", id)
		}
		g.Nodes = append(g.Nodes, nb.node)
		g.Edges = append(g.Edges, nb.edges...)
	}
	return g, nil
}
