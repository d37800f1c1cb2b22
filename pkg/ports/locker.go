package ports

import (
	"context"
	"time"
)

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker defines the interface for distributed concurrency control.
// Executors use it so that one run is interpreted by a single worker at a time,
// even when the backplane redelivers its frame to another replica.
type DistributedLocker interface {
	// Lock blocks until the lock for key (a run ID) is acquired or ctx is done.
	// The lock expires after ttl if the holder dies.
	// Returns an UnlockFunc that MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
