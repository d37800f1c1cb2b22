package runstate

import (
	"os"
	"strings"
)

// StaticSecrets is an in-memory secret source.
type StaticSecrets map[string]string

func (s StaticSecrets) Secret(id string) (string, bool) {
	v, ok := s[id]
	return v, ok
}

// EnvSecrets resolves secrets from environment variables. The id is upper-cased,
// dashes and dots become underscores, and Prefix is prepended.
type EnvSecrets struct {
	Prefix string
}

func (e EnvSecrets) Secret(id string) (string, bool) {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
	return os.LookupEnv(e.Prefix + key)
}

// StaticInputs provides external inputs keyed by "nodeRef/inputID", shared by all runs.
type StaticInputs map[string]any

func (s StaticInputs) ExternalInput(_ string, nodeRef, inputID string) (any, bool) {
	v, ok := s[nodeRef+"/"+inputID]
	return v, ok
}
