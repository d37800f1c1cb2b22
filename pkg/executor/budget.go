package executor

import (
	"sync"
	"time"
)

// Budget is a per-tick cost allowance shared by every frame an executor runs.
// A call is refused once spent+cost would exceed the limit of the current
// tick; the allowance resets when a new tick starts.
//
// A call that alone exceeds the limit is admitted when nothing has been spent
// in the tick yet, so oversized nodes are throttled instead of starved.
type Budget struct {
	mu       sync.Mutex
	limit    int64
	interval time.Duration
	now      func() time.Time

	tickStart time.Time
	spent     int64
}

// NewBudget creates a budget of limit cost units per interval.
// A limit <= 0 admits everything.
func NewBudget(limit int64, interval time.Duration) *Budget {
	if interval <= 0 {
		interval = time.Second
	}
	return &Budget{limit: limit, interval: interval, now: time.Now}
}

// roll starts a new tick when the current one is over. Must hold b.mu.
func (b *Budget) roll() time.Time {
	now := b.now()
	if b.tickStart.IsZero() || now.Sub(b.tickStart) >= b.interval {
		b.tickStart = now
		b.spent = 0
	}
	return now
}

// Admit charges cost to the current tick, or refuses the call.
func (b *Budget) Admit(runID, nodeID string, cost int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()

	if b.limit > 0 && b.spent+cost > b.limit && b.spent > 0 {
		return false
	}
	b.spent += cost
	return true
}

// Spent returns the cost charged to the current tick.
func (b *Budget) Spent() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return b.spent
}

// UntilNextTick returns how long until the allowance resets.
func (b *Budget) UntilNextTick() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.roll()
	return b.interval - now.Sub(b.tickStart)
}
