package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/weave/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// arriveScript registers one arrival per arrivalID.
// KEYS[1] join hash; ARGV arrival_id, active (0|1), expected, ttl_ms.
// Returns {arrived, active, last}.
var arriveScript = backend.NewScript(`
if redis.call("HSETNX", KEYS[1], "a:" .. ARGV[1], ARGV[2]) == 0 then
	local arrived = tonumber(redis.call("HGET", KEYS[1], "arrived") or "0")
	local active = tonumber(redis.call("HGET", KEYS[1], "active") or "0")
	return {arrived, active, 0}
end
local arrived = redis.call("HINCRBY", KEYS[1], "arrived", 1)
local active = redis.call("HINCRBY", KEYS[1], "active", tonumber(ARGV[2]))
if tonumber(ARGV[4]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[4])
end
local last = 0
if arrived == tonumber(ARGV[3]) then
	last = 1
end
return {arrived, active, last}
`)

// JoinCounter implements ports.JoinCounter with one hash per join point.
type JoinCounter struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewJoinCounter creates a JoinCounter on client.
func NewJoinCounter(client *backend.Client, opts ...Option) *JoinCounter {
	o := buildOptions(opts)
	return &JoinCounter{client: client, prefix: o.prefix, ttl: o.ttl}
}

func (j *JoinCounter) key(runID, joinID string) string {
	return j.prefix + "join:" + runID + ":" + joinID
}

// Arrive registers arrivalID at the join and returns the updated counts.
func (j *JoinCounter) Arrive(ctx context.Context, runID, joinID, arrivalID string, active bool, expected int) (ports.JoinState, error) {
	flag := 0
	if active {
		flag = 1
	}
	res, err := arriveScript.Run(ctx, j.client, []string{j.key(runID, joinID)},
		arrivalID, flag, expected, j.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return ports.JoinState{}, fmt.Errorf("redis join arrive error: %w", err)
	}
	if len(res) != 3 {
		return ports.JoinState{}, fmt.Errorf("redis join arrive: unexpected reply %v", res)
	}
	return ports.JoinState{Arrived: int(res[0]), Active: int(res[1]), Last: res[2] == 1}, nil
}

// Release deletes every join hash of runID.
func (j *JoinCounter) Release(ctx context.Context, runID string) error {
	iter := j.client.Scan(ctx, 0, j.key(runID, "*"), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis join scan error: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := j.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis join release error: %w", err)
	}
	return nil
}

// State returns the counts of the join; an unknown join has zero arrivals.
func (j *JoinCounter) State(ctx context.Context, runID, joinID string) (ports.JoinState, error) {
	vals, err := j.client.HMGet(ctx, j.key(runID, joinID), "arrived", "active").Result()
	if err != nil && !errors.Is(err, backend.Nil) {
		return ports.JoinState{}, fmt.Errorf("redis join state error: %w", err)
	}
	var st ports.JoinState
	if len(vals) == 2 {
		st.Arrived = atoi(vals[0])
		st.Active = atoi(vals[1])
	}
	return st, nil
}

func atoi(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
