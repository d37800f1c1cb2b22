package domain

// MsgKind discriminates backplane envelopes.
type MsgKind string

// MsgKindFrame is the only envelope kind defined by the core.
const MsgKindFrame MsgKind = "Frame"

// FrameMsg carries a Frame through the backplane.
type FrameMsg struct {
	Kind     MsgKind `json:"kind"`
	RunID    string  `json:"run_id"`
	Frame    *Frame  `json:"frame"`
	Priority int     `json:"priority,omitempty"`
}

// NewFrameMsg wraps frame in an envelope.
func NewFrameMsg(frame *Frame, priority int) FrameMsg {
	return FrameMsg{Kind: MsgKindFrame, RunID: frame.RunID, Frame: frame, Priority: priority}
}
