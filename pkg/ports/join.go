package ports

import "context"

// JoinState is the arrival count of one join point.
type JoinState struct {
	// Arrived counts distinct incoming branches registered so far.
	Arrived int
	// Active counts the arrivals whose branch was actually taken.
	Active int
	// Last is true only for the call that registered the final expected arrival.
	Last bool
}

// JoinCounter keeps atomic arrival counters scoped to (runID, joinID).
// Arrivals are identified by arrivalID so that redelivered frames can register
// the same arrival again without inflating the count.
type JoinCounter interface {
	Arrive(ctx context.Context, runID, joinID, arrivalID string, active bool, expected int) (JoinState, error)
	State(ctx context.Context, runID, joinID string) (JoinState, error)
}

// JoinReleaser is implemented by join counters that can drop the counters of
// a finished run.
type JoinReleaser interface {
	Release(ctx context.Context, runID string) error
}
