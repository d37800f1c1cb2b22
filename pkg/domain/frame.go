package domain

import (
	"encoding/json"
	"fmt"
)

// Env is the ambient snapshot a Frame carries between suspension windows.
type Env struct {
	// State is the global run state shared by every node of the run.
	State map[string]any `json:"state,omitempty"`

	// Config holds run-scoped settings captured when the run started.
	Config map[string]any `json:"config,omitempty"`
}

// Frame is the complete, serializable continuation of a run.
// It references its Program by id and has no hidden state.
type Frame struct {
	RunID     string `json:"run_id"`
	ProgramID string `json:"program_id"`

	IP     int   `json:"ip"`
	Stack  []any `json:"stack"`
	Locals []any `json:"locals"`
	Env    *Env  `json:"env,omitempty"`

	// Executed marks nodes whose call completed within this frame's history.
	Executed map[string]bool `json:"executed,omitempty"`

	// Attempts counts failed attempts per node; the next attempt is Attempts+1.
	Attempts map[string]int `json:"attempts,omitempty"`

	// Seq counts executed instructions across all windows.
	Seq int64 `json:"seq"`

	// Finished is set once the run reached END or was terminated by a node.
	Finished bool `json:"finished,omitempty"`
}

// NewFrame creates a frame at instruction 0 of programID.
func NewFrame(runID, programID string, locals int, state map[string]any) *Frame {
	if state == nil {
		state = make(map[string]any)
	}
	return &Frame{
		RunID:     runID,
		ProgramID: programID,
		Stack:     []any{},
		Locals:    make([]any, locals),
		Env:       &Env{State: state},
		Executed:  make(map[string]bool),
		Attempts:  make(map[string]int),
	}
}

// Attempt returns the attempt number the next call of nodeID will use.
func (f *Frame) Attempt(nodeID string) int {
	return f.Attempts[nodeID] + 1
}

// Clone returns a deep copy of the frame using its wire encoding, so the copy
// holds exactly what a remote worker would receive.
func (f *Frame) Clone() (*Frame, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	var out Frame
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if out.Executed == nil {
		out.Executed = make(map[string]bool)
	}
	if out.Attempts == nil {
		out.Attempts = make(map[string]int)
	}
	return &out, nil
}
