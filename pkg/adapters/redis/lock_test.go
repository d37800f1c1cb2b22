package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/weave/pkg/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker_ExclusiveUntilUnlocked(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "weave:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "run-1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("weave:lock:run-1"))

	short, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "run-1", 10*time.Second)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("weave:lock:run-1"))

	unlock2, err := locker.Lock(ctx, "run-1", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_StaleHolderCannotRelease(t *testing.T) {
	mr, client := newClient(t)
	locker := redis.NewLocker(client, "weave:")
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "run-2", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Lock(ctx, "run-2", 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("weave:lock:run-2"), "the new holder keeps the lock")
	require.NoError(t, fresh(ctx))
}
