// Package file provides a StateStore and ProgramStore on the local filesystem.
//
// Layout under the base path:
//
//	checkpoints/<run>.json
//	activities/<run>/<node>#<attempt>.json
//	programs/<id>.json
//
// Checkpoints are replaced atomically (temp file, fsync, rename). Activity and
// program files are created exclusively, so the first writer wins.
// Checkpoint monotonicity holds within one process only.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aretw0/weave/pkg/domain"
)

// DefaultPath is used when NewStore gets an empty base path.
var DefaultPath = filepath.Join(".weave", "state")

// Store implements ports.StateStore and ports.ProgramStore.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// NewStore creates a Store rooted at basePath.
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = DefaultPath
	}
	return &Store{BasePath: basePath}
}

func name(id string) string {
	return url.PathEscape(id)
}

func (s *Store) checkpointPath(runID string) string {
	return filepath.Join(s.BasePath, "checkpoints", name(runID)+".json")
}

func (s *Store) activityPath(runID, nodeID string, attempt int) string {
	return filepath.Join(s.BasePath, "activities", name(runID), name(nodeID)+"#"+strconv.Itoa(attempt)+".json")
}

func (s *Store) programPath(id string) string {
	return filepath.Join(s.BasePath, "programs", name(id)+".json")
}

// SaveCheckpoint replaces the checkpoint unless the stored one is newer.
func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	if cp.RunID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.LoadCheckpoint(ctx, cp.RunID)
	switch {
	case err == nil && cur.AtMs > cp.AtMs:
		return nil
	case err != nil && !errors.Is(err, domain.ErrCheckpointNotFound):
		return err
	}
	return writeAtomic(s.checkpointPath(cp.RunID), data)
}

// LoadCheckpoint reads the checkpoint of runID.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := readJSON(s.checkpointPath(runID), &cp); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cp, domain.ErrCheckpointNotFound
		}
		return cp, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return cp, nil
}

// AppendActivity writes the record unless the attempt already exists.
func (s *Store) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return writeExclusive(s.activityPath(rec.RunID, rec.NodeID, rec.Attempt), data)
}

// GetActivity reads a recorded attempt.
func (s *Store) GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error) {
	var rec domain.ActivityRecord
	if err := readJSON(s.activityPath(runID, nodeID, attempt), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, domain.ErrActivityNotFound
		}
		return rec, fmt.Errorf("failed to read activity: %w", err)
	}
	return rec, nil
}

// SaveProgram writes p unless its id already exists.
func (s *Store) SaveProgram(ctx context.Context, p *domain.Program) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal program: %w", err)
	}
	return writeExclusive(s.programPath(p.ID), data)
}

// LoadProgram reads the program stored under id.
func (s *Store) LoadProgram(ctx context.Context, id string) (*domain.Program, error) {
	var p domain.Program
	if err := readJSON(s.programPath(id), &p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrProgramNotFound
		}
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	return &p, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeAtomic replaces path with data through a synced temp file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeExclusive creates path with data; an existing file is left untouched.
func writeExclusive(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to ensure directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
