package memory

import (
	"context"
	"sync"

	"github.com/aretw0/weave/pkg/ports"
)

type joinKey struct {
	runID  string
	joinID string
}

type joinEntry struct {
	arrivals map[string]bool
	active   int
}

// JoinCounter implements ports.JoinCounter in memory.
type JoinCounter struct {
	mu    sync.Mutex
	joins map[joinKey]*joinEntry
}

// NewJoinCounter creates an empty join counter.
func NewJoinCounter() *JoinCounter {
	return &JoinCounter{joins: make(map[joinKey]*joinEntry)}
}

func (j *JoinCounter) Arrive(ctx context.Context, runID, joinID, arrivalID string, active bool, expected int) (ports.JoinState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := joinKey{runID, joinID}
	e, ok := j.joins[key]
	if !ok {
		e = &joinEntry{arrivals: make(map[string]bool)}
		j.joins[key] = e
	}
	if _, dup := e.arrivals[arrivalID]; dup {
		return ports.JoinState{Arrived: len(e.arrivals), Active: e.active}, nil
	}
	e.arrivals[arrivalID] = active
	if active {
		e.active++
	}
	return ports.JoinState{
		Arrived: len(e.arrivals),
		Active:  e.active,
		Last:    len(e.arrivals) == expected,
	}, nil
}

func (j *JoinCounter) State(ctx context.Context, runID, joinID string) (ports.JoinState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.joins[joinKey{runID, joinID}]
	if !ok {
		return ports.JoinState{}, nil
	}
	return ports.JoinState{Arrived: len(e.arrivals), Active: e.active}, nil
}

// Release drops every join entry of runID.
func (j *JoinCounter) Release(ctx context.Context, runID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for k := range j.joins {
		if k.runID == runID {
			delete(j.joins, k)
		}
	}
	return nil
}

// Len returns the number of join entries held.
func (j *JoinCounter) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.joins)
}
