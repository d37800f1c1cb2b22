package domain

// Port is a typed input or output slot declared by a node.
type Port struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Key returns the name used to address the port in input and output maps.
// The port name wins; the id is the fallback for anonymous ports.
func (p Port) Key() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// NodeDef describes one computation unit of a workflow.
// The run engine only ever flips Executed; every other field is read-only once
// a run starts.
type NodeDef struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"` // registry tag, e.g. "const", "script"
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Config holds static, type-specific settings decoded by the node factory.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Data is an optional free-form payload.
	Data any `json:"data,omitempty" yaml:"data,omitempty"`

	Inputs  []Port `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs []Port `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Executed makes the node refuse any further execution.
	Executed bool `json:"executed,omitempty" yaml:"executed,omitempty"`

	// Code carries script-defined logic for script nodes.
	Code string `json:"code,omitempty" yaml:"code,omitempty"`
}

// ConfigBool reads a boolean flag from the node config.
func (n NodeDef) ConfigBool(key string) bool {
	v, ok := n.Config[key].(bool)
	return ok && v
}
