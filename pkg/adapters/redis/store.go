// Package redis provides Redis-backed implementations of the weave ports:
// checkpoints, activity logs, programs, join counters, a Streams backplane and
// a distributed run lock. Every key lives under a configurable prefix.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/weave/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "weave:"

// saveCheckpointScript writes a checkpoint unless the stored one is newer.
// KEYS[1] checkpoint hash; ARGV at_ms, payload, ttl_ms.
var saveCheckpointScript = backend.NewScript(`
local cur = redis.call("HGET", KEYS[1], "at")
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[1], "at", ARGV[1], "data", ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 1
`)

// Store implements ports.StateStore and ports.ProgramStore.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Redis adapters.
type Option func(*options)

type options struct {
	prefix string
	ttl    time.Duration
}

// WithTTL expires checkpoints and activity logs of idle runs. Programs never expire.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

func buildOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New connects to addr and returns a Store.
func New(addr, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	o := buildOptions(opts)
	return &Store{client: client, prefix: o.prefix, ttl: o.ttl}
}

// Client returns the underlying client so the other adapters can share it.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) checkpointKey(runID string) string { return s.prefix + "cp:" + runID }
func (s *Store) activityKey(runID string) string   { return s.prefix + "act:" + runID }
func (s *Store) programKey(id string) string       { return s.prefix + "prog:" + id }

func activityField(nodeID string, attempt int) string {
	return nodeID + "#" + strconv.Itoa(attempt)
}

// SaveCheckpoint stores cp unless a newer checkpoint of the run exists.
func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	err = saveCheckpointScript.Run(ctx, s.client, []string{s.checkpointKey(cp.RunID)},
		cp.AtMs, data, s.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis save checkpoint error: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the latest checkpoint of runID.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (domain.Checkpoint, error) {
	data, err := s.client.HGet(ctx, s.checkpointKey(runID), "data").Bytes()
	if errors.Is(err, backend.Nil) {
		return domain.Checkpoint{}, domain.ErrCheckpointNotFound
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("redis load checkpoint error: %w", err)
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// AppendActivity records rec once; later writes of the same attempt are ignored.
func (s *Store) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	key := s.activityKey(rec.RunID)

	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, activityField(rec.NodeID, rec.Attempt), data)
	if s.ttl > 0 {
		pipe.PExpire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append activity error: %w", err)
	}
	return nil
}

// GetActivity returns the recorded attempt.
func (s *Store) GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error) {
	data, err := s.client.HGet(ctx, s.activityKey(runID), activityField(nodeID, attempt)).Bytes()
	if errors.Is(err, backend.Nil) {
		return domain.ActivityRecord{}, domain.ErrActivityNotFound
	}
	if err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("redis get activity error: %w", err)
	}
	var rec domain.ActivityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ActivityRecord{}, fmt.Errorf("failed to unmarshal activity: %w", err)
	}
	return rec, nil
}

// SaveProgram stores p unless its id is already taken.
func (s *Store) SaveProgram(ctx context.Context, p *domain.Program) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal program: %w", err)
	}
	if err := s.client.SetNX(ctx, s.programKey(p.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis save program error: %w", err)
	}
	return nil
}

// LoadProgram returns the program stored under id.
func (s *Store) LoadProgram(ctx context.Context, id string) (*domain.Program, error) {
	data, err := s.client.Get(ctx, s.programKey(id)).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, domain.ErrProgramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load program error: %w", err)
	}
	var p domain.Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal program: %w", err)
	}
	return &p, nil
}
