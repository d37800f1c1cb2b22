// Package runstate holds the mutable global state of a single run.
//
// Nodes read and write it through typed helpers. Writers are serialized, and
// concurrent writes to the same key follow last-writer-wins semantics.
package runstate

import (
	"fmt"
	"sync"

	"github.com/aretw0/weave/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// State is the per-run global state shared by every node of a run.
type State struct {
	mu      sync.RWMutex
	runID   string
	data    map[string]any
	secrets ports.SecretSource
	inputs  ports.InputSource
}

// Option configures a State.
type Option func(*State)

// WithSecrets sets the source consulted by Secret.
func WithSecrets(src ports.SecretSource) Option {
	return func(s *State) { s.secrets = src }
}

// WithInputs sets the source consulted by ExternalInput.
func WithInputs(src ports.InputSource) Option {
	return func(s *State) { s.inputs = src }
}

// New creates a State seeded with a copy of initial.
func New(runID string, initial map[string]any, opts ...Option) *State {
	s := &State{
		runID: runID,
		data:  copyMap(initial),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunID returns the run this state belongs to.
func (s *State) RunID() string { return s.runID }

// Get returns a deep copy of the current state.
func (s *State) Get() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.data)
}

// Snapshot is an alias of Get used when persisting the state into a frame.
func (s *State) Snapshot() map[string]any { return s.Get() }

// Value returns a single top-level key.
func (s *State) Value(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return copyValue(v), ok
}

// Set replaces the whole state.
func (s *State) Set(v map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = copyMap(v)
}

// Update applies fn to a copy of the state and stores the result.
func (s *State) Update(fn func(map[string]any) map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := fn(copyMap(s.data))
	if next == nil {
		next = make(map[string]any)
	}
	s.data = next
}

type mergeConfig struct {
	deep bool
}

// MergeOption configures UpdatePartial.
type MergeOption func(*mergeConfig)

// Deep merges nested maps key by key instead of replacing them.
func Deep() MergeOption {
	return func(c *mergeConfig) { c.deep = true }
}

// UpdatePartial merges patch into the state. By default top-level keys are
// replaced. With Deep, nested maps present on both sides are merged and keys
// absent from patch are kept.
func (s *State) UpdatePartial(patch map[string]any, opts ...MergeOption) {
	var cfg mergeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string]any)
	}
	if cfg.deep {
		deepMerge(s.data, patch)
		return
	}
	for k, v := range patch {
		s.data[k] = copyValue(v)
	}
}

// Secret resolves a secret by id.
func (s *State) Secret(id string) (string, bool) {
	if s.secrets == nil {
		return "", false
	}
	return s.secrets.Secret(id)
}

// ExternalInput resolves an input provided from outside the graph.
func (s *State) ExternalInput(nodeRef, inputID string) (any, bool) {
	if s.inputs == nil {
		return nil, false
	}
	return s.inputs.ExternalInput(s.runID, nodeRef, inputID)
}

// GetAs decodes the state into T.
func GetAs[T any](s *State) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(s.Get()); err != nil {
		return out, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}

// SetFrom encodes v and merges its fields into the state.
func SetFrom[T any](s *State, v T) error {
	patch := make(map[string]any)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &patch,
		TagName: "json",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	s.UpdatePartial(patch)
	return nil
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = copyValue(v)
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
