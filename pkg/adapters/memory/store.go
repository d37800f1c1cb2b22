package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/weave/pkg/domain"
)

type activityKey struct {
	runID   string
	nodeID  string
	attempt int
}

// Store implements ports.StateStore in memory.
// Values are stored in their JSON encoding, so callers observe the same
// round-trip behavior as with a remote store. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]storedCheckpoint
	activities  map[activityKey][]byte
}

type storedCheckpoint struct {
	atMs int64
	data []byte
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		checkpoints: make(map[string]storedCheckpoint),
		activities:  make(map[activityKey][]byte),
	}
}

// SaveCheckpoint stores cp unless a newer checkpoint of the run exists.
func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.checkpoints[cp.RunID]; ok && cur.atMs > cp.AtMs {
		return nil
	}
	s.checkpoints[cp.RunID] = storedCheckpoint{atMs: cp.AtMs, data: data}
	return nil
}

// LoadCheckpoint returns the latest checkpoint of runID.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (domain.Checkpoint, error) {
	s.mu.RLock()
	cur, ok := s.checkpoints[runID]
	s.mu.RUnlock()
	if !ok {
		return domain.Checkpoint{}, domain.ErrCheckpointNotFound
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(cur.data, &cp); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// AppendActivity records rec. A record for the same attempt is kept as is.
func (s *Store) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	key := activityKey{rec.RunID, rec.NodeID, rec.Attempt}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activities[key]; !exists {
		s.activities[key] = data
	}
	return nil
}

// GetActivity returns the record of one node attempt.
func (s *Store) GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error) {
	s.mu.RLock()
	data, ok := s.activities[activityKey{runID, nodeID, attempt}]
	s.mu.RUnlock()
	if !ok {
		return domain.ActivityRecord{}, domain.ErrActivityNotFound
	}

	var rec domain.ActivityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("failed to unmarshal activity: %w", err)
	}
	return rec, nil
}

// Activities returns the records of a run ordered by start time.
// Intended for inspection and tests.
func (s *Store) Activities(runID string) []domain.ActivityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ActivityRecord
	for k, data := range s.activities {
		if k.runID != runID {
			continue
		}
		var rec domain.ActivityRecord
		if err := json.Unmarshal(data, &rec); err == nil {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].StartedAt.Before(out[b].StartedAt)
		}
		if out[a].NodeID != out[b].NodeID {
			return out[a].NodeID < out[b].NodeID
		}
		return out[a].Attempt < out[b].Attempt
	})
	return out
}

// ProgramStore implements ports.ProgramStore in memory.
type ProgramStore struct {
	mu       sync.RWMutex
	programs map[string][]byte
}

// NewProgramStore creates an empty program store.
func NewProgramStore() *ProgramStore {
	return &ProgramStore{programs: make(map[string][]byte)}
}

// SaveProgram stores p. Programs are immutable: the first version wins.
func (s *ProgramStore) SaveProgram(ctx context.Context, p *domain.Program) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal program: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.programs[p.ID]; !exists {
		s.programs[p.ID] = data
	}
	return nil
}

// LoadProgram returns the program with the given id.
func (s *ProgramStore) LoadProgram(ctx context.Context, id string) (*domain.Program, error) {
	s.mu.RLock()
	data, ok := s.programs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProgramNotFound
	}
	var p domain.Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal program: %w", err)
	}
	return &p, nil
}
