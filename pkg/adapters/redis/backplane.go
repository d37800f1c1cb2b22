package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

const (
	// DefaultBlock is how long a consumer blocks on XREADGROUP.
	DefaultBlock = time.Second
	// DefaultClaimIdle is the idle time after which another consumer claims a
	// delivered but unacknowledged message.
	DefaultClaimIdle = 30 * time.Second

	fieldMsg     = "msg"
	fieldAttempt = "attempt"
	fieldGroup   = "group"
)

// Backplane implements ports.Backplane on Redis Streams.
// Frames with a positive priority go to a separate stream read first.
type Backplane struct {
	client    *backend.Client
	prefix    string
	block     time.Duration
	claimIdle time.Duration
	logger    *slog.Logger
}

// BackplaneOption configures a Backplane.
type BackplaneOption func(*Backplane)

// WithBlock sets the XREADGROUP block time.
func WithBlock(d time.Duration) BackplaneOption {
	return func(b *Backplane) {
		if d > 0 {
			b.block = d
		}
	}
}

// WithClaimIdle sets the visibility timeout of deliveries.
func WithClaimIdle(d time.Duration) BackplaneOption {
	return func(b *Backplane) {
		if d > 0 {
			b.claimIdle = d
		}
	}
}

// WithStreamPrefix replaces DefaultPrefix for stream keys.
func WithStreamPrefix(prefix string) BackplaneOption {
	return func(b *Backplane) { b.prefix = prefix }
}

// WithBackplaneLogger sets the logger.
func WithBackplaneLogger(logger *slog.Logger) BackplaneOption {
	return func(b *Backplane) { b.logger = logger }
}

// NewBackplane creates a Streams backplane on client.
func NewBackplane(client *backend.Client, opts ...BackplaneOption) *Backplane {
	b := &Backplane{
		client:    client,
		prefix:    DefaultPrefix,
		block:     DefaultBlock,
		claimIdle: DefaultClaimIdle,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backplane) stream(priority int) string {
	if priority > 0 {
		return b.prefix + "frames:urgent"
	}
	return b.prefix + "frames"
}

// streams lists the urgent stream first.
func (b *Backplane) streams() []string {
	return []string{b.stream(1), b.stream(0)}
}

// add appends an entry. A non-empty group restricts the entry to that
// consumer group; the others acknowledge and skip it.
func (b *Backplane) add(ctx context.Context, stream string, data []byte, attempt int, group string) error {
	values := map[string]any{fieldMsg: data, fieldAttempt: attempt}
	if group != "" {
		values[fieldGroup] = group
	}
	return b.client.XAdd(ctx, &backend.XAddArgs{Stream: stream, Values: values}).Err()
}

// Publish appends msg to its stream.
func (b *Backplane) Publish(ctx context.Context, msg domain.FrameMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame message: %w", err)
	}
	if err := b.add(ctx, b.stream(msg.Priority), data, 1, ""); err != nil {
		return fmt.Errorf("redis publish error: %w", err)
	}
	return nil
}

// Subscribe creates the consumer group if needed and starts one consumer.
func (b *Backplane) Subscribe(ctx context.Context, group string, h ports.Handler) (ports.Subscription, error) {
	for _, stream := range b.streams() {
		err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("redis create group %s on %s: %w", group, stream, err)
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	c := &consumer{b: b, group: group, name: group + "-" + uuid.NewString(), h: h}
	go func() {
		defer close(sub.done)
		c.loop(subCtx)
	}()
	return sub, nil
}

type consumer struct {
	b     *Backplane
	group string
	name  string
	h     ports.Handler
}

func (c *consumer) loop(ctx context.Context) {
	for ctx.Err() == nil {
		if c.claim(ctx) {
			continue
		}

		streams := c.b.streams()
		res, err := c.b.client.XReadGroup(ctx, &backend.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  append(streams, ">", ">"),
			Count:    1,
			Block:    c.b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, backend.Nil) || ctx.Err() != nil {
				continue
			}
			c.b.logger.Warn("redis read error", "group", c.group, "err", err)
			sleep(ctx, c.b.block)
			continue
		}
		for _, s := range res {
			for _, m := range s.Messages {
				c.deliver(ctx, s.Stream, m, 0)
			}
		}
	}
}

// claim takes over messages another consumer left unacknowledged.
// It reports whether anything was claimed.
func (c *consumer) claim(ctx context.Context) bool {
	claimed := false
	for _, stream := range c.b.streams() {
		msgs, _, err := c.b.client.XAutoClaim(ctx, &backend.XAutoClaimArgs{
			Stream:   stream,
			Group:    c.group,
			Consumer: c.name,
			MinIdle:  c.b.claimIdle,
			Start:    "0-0",
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, backend.Nil) {
				c.b.logger.Warn("redis autoclaim error", "group", c.group, "stream", stream, "err", err)
			}
			continue
		}
		for _, m := range msgs {
			c.deliver(ctx, stream, m, c.redeliveries(ctx, stream, m.ID))
			claimed = true
		}
	}
	return claimed
}

// redeliveries returns how many times the group handed id out before the
// current delivery. It falls back to one when the pending entry is gone.
func (c *consumer) redeliveries(ctx context.Context, stream, id string) int {
	pending, err := c.b.client.XPendingExt(ctx, &backend.XPendingExtArgs{
		Stream: stream,
		Group:  c.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 || pending[0].RetryCount < 2 {
		if err != nil && ctx.Err() == nil {
			c.b.logger.Warn("redis xpending error", "group", c.group, "stream", stream, "id", id, "err", err)
		}
		return 1
	}
	return int(pending[0].RetryCount) - 1
}

// deliver decodes one stream entry and calls the handler.
// bump is added to the stored attempt for claimed entries: the number of
// earlier deliveries of the same entry.
func (c *consumer) deliver(ctx context.Context, stream string, m backend.XMessage, bump int) {
	raw, _ := m.Values[fieldMsg].(string)
	attempt, _ := strconv.Atoi(fmt.Sprint(m.Values[fieldAttempt]))
	if attempt < 1 {
		attempt = 1
	}
	d := &delivery{b: c.b, group: c.group, stream: stream, id: m.ID, data: raw, attempt: attempt + bump}

	if target, _ := m.Values[fieldGroup].(string); target != "" && target != c.group {
		_ = d.Ack(ctx)
		return
	}

	var msg domain.FrameMsg
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.b.logger.Error("dropping undecodable message", "group", c.group, "id", m.ID, "err", err)
		_ = d.Ack(ctx)
		return
	}
	c.h(ctx, msg, d)
}

type delivery struct {
	b       *Backplane
	group   string
	stream  string
	id      string
	data    string
	attempt int

	once sync.Once
}

// Ack removes the entry from the pending list of the group.
func (d *delivery) Ack(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		err = d.b.client.XAck(ctx, d.stream, d.group, d.id).Err()
	})
	return err
}

// Nack with requeue appends a copy with a bumped attempt, then acks the original.
func (d *delivery) Nack(ctx context.Context, requeue bool) error {
	var err error
	d.once.Do(func() {
		if requeue {
			if err = d.b.add(ctx, d.stream, []byte(d.data), d.attempt+1, d.group); err != nil {
				return
			}
		}
		err = d.b.client.XAck(ctx, d.stream, d.group, d.id).Err()
	})
	return err
}

func (d *delivery) Attempt() int { return d.attempt }

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
