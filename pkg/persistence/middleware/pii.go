package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/ports"
)

// Mask replaces every value whose key matches a PII pattern.
const Mask = "***"

type piiMiddleware struct {
	next     ports.StateStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values of keys matching the
// patterns in the run state and in activity outputs before they are stored.
// Masking is one way: a run resumed from a masked checkpoint sees Mask.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pii pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.StateStore) ports.StateStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	if cp.Frame != nil && cp.Frame.Env != nil {
		// The frame is shared with the running machine; mask a copy.
		frame := *cp.Frame
		env := *cp.Frame.Env
		env.State = m.masked(env.State)
		frame.Env = &env
		cp.Frame = &frame
	}
	return m.next.SaveCheckpoint(ctx, cp)
}

func (m *piiMiddleware) LoadCheckpoint(ctx context.Context, runID string) (domain.Checkpoint, error) {
	return m.next.LoadCheckpoint(ctx, runID)
}

func (m *piiMiddleware) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	rec.Output = m.masked(rec.Output)
	rec.StateSet = m.masked(rec.StateSet)
	return m.next.AppendActivity(ctx, rec)
}

func (m *piiMiddleware) GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error) {
	return m.next.GetActivity(ctx, runID, nodeID, attempt)
}

func (m *piiMiddleware) masked(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := deepCopyMap(in)
	maskMap(out, m.patterns)
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				break
			}
		}
		if subMap, ok := m[k].(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
