package domain

// Graph is the immutable definition of one workflow version.
// A new version is a new Graph.
type Graph struct {
	Name        string         `json:"name" yaml:"name"`
	Version     string         `json:"version" yaml:"version"`
	Nodes       []NodeDef      `json:"nodes" yaml:"nodes"`
	Edges       []EdgeDef      `json:"edges" yaml:"edges"`
	Entry       string         `json:"entry" yaml:"entry"`
	GlobalState map[string]any `json:"globalState,omitempty" yaml:"globalState,omitempty"`
}

// WorkflowID identifies the graph version a program was compiled from.
func (g *Graph) WorkflowID() string {
	if g.Version == "" {
		return g.Name
	}
	return g.Name + "@" + g.Version
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (NodeDef, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeDef{}, false
}

// Outgoing returns the edges leaving id, in declaration order.
func (g *Graph) Outgoing(id string) []EdgeDef {
	var out []EdgeDef
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges entering id, in declaration order.
func (g *Graph) Incoming(id string) []EdgeDef {
	var in []EdgeDef
	for _, e := range g.Edges {
		if e.To == id {
			in = append(in, e)
		}
	}
	return in
}
