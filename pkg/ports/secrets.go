package ports

// SecretSource resolves secrets for node logic. Values never enter the Frame.
type SecretSource interface {
	Secret(id string) (string, bool)
}

// InputSource provides values injected into a run from outside the graph,
// e.g. operator-supplied inputs.
type InputSource interface {
	ExternalInput(runID, nodeRef, inputID string) (any, bool)
}
