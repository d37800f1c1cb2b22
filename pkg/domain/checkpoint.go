package domain

import "time"

// Checkpoint is the latest durable restart point of a run.
type Checkpoint struct {
	RunID string `json:"run_id"`
	Frame *Frame `json:"frame"`
	AtMs  int64  `json:"at_ms"`
}

// NewCheckpoint snapshots frame at the given instant.
func NewCheckpoint(frame *Frame, at time.Time) Checkpoint {
	return Checkpoint{RunID: frame.RunID, Frame: frame, AtMs: at.UnixMilli()}
}

// ActivityRecord is the immutable fact that one node attempt of a run
// produced Output.
type ActivityRecord struct {
	RunID     string         `json:"run_id"`
	NodeID    string         `json:"node_id"`
	Attempt   int            `json:"attempt"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Output    map[string]any `json:"output"`

	// Next and Terminate replay the control decisions of the recorded call.
	Next      string `json:"next,omitempty"`
	Terminate bool   `json:"terminate,omitempty"`

	// StateSet and StateUnset replay the run state writes of the call:
	// top-level keys it set or changed, and keys it removed.
	StateSet   map[string]any `json:"state_set,omitempty"`
	StateUnset []string       `json:"state_unset,omitempty"`
}
