// Package registry maps node type identifiers to node factories.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/node"
	"github.com/aretw0/weave/pkg/runstate"
)

// Factory builds a node instance from its definition and the run's global state.
type Factory func(def domain.NodeDef, state *runstate.State) (node.Node, error)

// Descriptor describes a registered node type.
type Descriptor struct {
	Type        string
	Description string
	Factory     Factory
	// Activity marks types whose results are durable: the compiler emits
	// CALL_ACTIVITY followed by CHECKPOINT for them.
	Activity bool
}

// Registry manages the available node types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Descriptor
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]Descriptor),
	}
}

// Register adds a node type to the registry.
// If a type with the same name exists, it is overwritten.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[d.Type] = d
}

// RegisterFunc registers a non-activity type with only a factory.
func (r *Registry) RegisterFunc(nodeType string, f Factory) {
	r.Register(Descriptor{Type: nodeType, Factory: f})
}

// Lookup returns the descriptor registered for nodeType.
func (r *Registry) Lookup(nodeType string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[nodeType]
	return d, ok
}

// Has reports whether nodeType is registered.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.Lookup(nodeType)
	return ok
}

// IsActivity reports whether def compiles to an activity call, either because
// its type is declared as one or because its config sets activity: true.
func (r *Registry) IsActivity(def domain.NodeDef) bool {
	if def.ConfigBool("activity") {
		return true
	}
	d, ok := r.Lookup(def.Type)
	return ok && d.Activity
}

// New instantiates the node described by def.
// Returns domain.ErrUnknownNodeType if the type is not registered.
func (r *Registry) New(def domain.NodeDef, state *runstate.State) (node.Node, error) {
	d, ok := r.Lookup(def.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNodeType, def.Type)
	}
	n, err := d.Factory(def, state)
	if err != nil {
		return nil, fmt.Errorf("build node %s (%s): %w", def.ID, def.Type, err)
	}
	return n, nil
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
