package domain

// EdgeDef is a directed connection between two nodes.
type EdgeDef struct {
	ID   string `json:"id" yaml:"id"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`

	// Condition is a boolean expression evaluated against the global run state.
	// If empty, the edge is always traversed.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}
