package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeStart  EventType = "node_start"
	EventNodeFinish EventType = "node_finish"
	EventRunDone    EventType = "run_done"
	EventRunFault   EventType = "run_fault"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
}

// NodeEvent represents the start or the end of a node call.
type NodeEvent struct {
	EventBase
	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type"`
	Attempt  int    `json:"attempt"`
	Replayed bool   `json:"replayed,omitempty"`
	Err      error  `json:"-"`
}

// RunEvent represents a terminal outcome of a run.
type RunEvent struct {
	EventBase
	Terminated bool  `json:"terminated,omitempty"`
	Err        error `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeStart  func(context.Context, *NodeEvent)
	OnNodeFinish func(context.Context, *NodeEvent)
	OnRunDone    func(context.Context, *RunEvent)
	OnRunFault   func(context.Context, *RunEvent)
}
