package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/weave/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// runLocks serializes the frames of one run within a process and, when a
// distributed locker is configured, across processes.
// Entries are reference counted and removed once unused.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	locker ports.DistributedLocker
	ttl    time.Duration
	logger *slog.Logger
}

func newRunLocks(locker ports.DistributedLocker, ttl time.Duration, logger *slog.Logger) *runLocks {
	return &runLocks{
		locks:  make(map[string]*lockEntry),
		locker: locker,
		ttl:    ttl,
		logger: logger,
	}
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must lock entry.mu and call release(runID) after unlocking.
func (l *runLocks) acquire(runID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[runID]
	if !exists {
		entry = &lockEntry{}
		l.locks[runID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (l *runLocks) release(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.locks[runID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, runID)
	}
}

func (l *runLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// WithLock runs fn while holding the locks of runID.
func (l *runLocks) WithLock(ctx context.Context, runID string, fn func(context.Context) error) error {
	entry := l.acquire(runID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		l.release(runID)
	}()

	if l.locker != nil {
		unlock, err := l.locker.Lock(ctx, runID, l.ttl)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				l.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"run_id", runID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
