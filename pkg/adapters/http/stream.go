package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aretw0/weave/pkg/domain"
)

// streamBuffer is the per-subscriber backlog before events are dropped.
const streamBuffer = 16

// StreamManager fans run events out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan string]struct{} // run id -> channels
	logger      *slog.Logger
}

// NewStreamManager creates an empty manager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a listener for runID. The returned func unsubscribes
// and closes the channel.
func (sm *StreamManager) Subscribe(runID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, streamBuffer)
	if _, ok := sm.subscribers[runID]; !ok {
		sm.subscribers[runID] = make(map[chan string]struct{})
	}
	sm.subscribers[runID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[runID]; ok {
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, runID)
			}
		}
	}
}

// Broadcast sends msg to every subscriber of runID without blocking.
func (sm *StreamManager) Broadcast(runID, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[runID] {
		select {
		case ch <- msg:
		default:
			// slow client
			sm.logger.Warn("sse buffer full, dropping event", "run_id", runID)
		}
	}
}

// Hooks returns lifecycle hooks that broadcast every event as JSON to the
// subscribers of its run.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	node := func(_ context.Context, e *domain.NodeEvent) { sm.publish(e.RunID, eventJSON(e, e.Err)) }
	run := func(_ context.Context, e *domain.RunEvent) { sm.publish(e.RunID, eventJSON(e, e.Err)) }
	return domain.LifecycleHooks{OnNodeStart: node, OnNodeFinish: node, OnRunDone: run, OnRunFault: run}
}

func (sm *StreamManager) publish(runID string, data []byte) {
	if data != nil {
		sm.Broadcast(runID, string(data))
	}
}

// eventJSON encodes ev and adds the error text, which the event types keep
// out of their own encoding.
func eventJSON(ev any, err error) []byte {
	raw, mErr := json.Marshal(ev)
	if mErr != nil {
		return nil
	}
	if err == nil {
		return raw
	}
	var fields map[string]any
	if json.Unmarshal(raw, &fields) != nil {
		return raw
	}
	fields["error"] = err.Error()
	if out, mErr := json.Marshal(fields); mErr == nil {
		return out
	}
	return raw
}

// Subscribers returns the number of listeners of runID.
func (sm *StreamManager) Subscribers(runID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[runID])
}
