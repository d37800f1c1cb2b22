package ports

import (
	"context"

	"github.com/aretw0/weave/pkg/domain"
)

// StateStore persists run checkpoints and completed node activities.
// It is the single source of truth for where a run resumes and for whether a
// node attempt already produced output.
type StateStore interface {
	// SaveCheckpoint overwrites the latest checkpoint of the run.
	// A checkpoint older than the stored one (by AtMs) must be ignored.
	SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error

	// LoadCheckpoint returns the latest checkpoint of the run.
	// Returns domain.ErrCheckpointNotFound if the run has none.
	LoadCheckpoint(ctx context.Context, runID string) (domain.Checkpoint, error)

	// AppendActivity records a completed node attempt.
	// Writing the same (runID, nodeID, attempt) twice is a no-op, not an error.
	AppendActivity(ctx context.Context, rec domain.ActivityRecord) error

	// GetActivity returns the record of a node attempt.
	// Returns domain.ErrActivityNotFound if the attempt was never recorded.
	GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error)
}

// ProgramStore keeps compiled programs. Programs are immutable: saving an id
// that already exists keeps the first version.
type ProgramStore interface {
	SaveProgram(ctx context.Context, p *domain.Program) error

	// LoadProgram returns domain.ErrProgramNotFound for unknown ids.
	LoadProgram(ctx context.Context, programID string) (*domain.Program, error)
}
