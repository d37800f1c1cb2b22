package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/ports"
)

// DefaultVisibilityTimeout is how long a delivery may stay unacknowledged
// before it is handed to another consumer.
const DefaultVisibilityTimeout = 30 * time.Second

// Backplane is an in-process ports.Backplane.
//
// Published messages are appended to a shared log; each consumer group keeps
// its own cursor, so every group sees every message and members of a group
// compete for them. Messages with a positive priority go to a separate log
// that is drained first. Entries every group has read are dropped from the
// log, so a group created later starts at the oldest retained message.
type Backplane struct {
	mu         sync.Mutex
	logs       [2][][]byte // 0: normal, 1: urgent
	groups     map[string]*group
	changed    chan struct{}
	visibility time.Duration
	logger     *slog.Logger
	seq        int64
}

type group struct {
	cursors  [2]int
	ready    []*pending
	inflight map[int64]*pending
}

type pending struct {
	id       int64
	data     []byte
	attempt  int
	deadline time.Time
}

// BackplaneOption configures a Backplane.
type BackplaneOption func(*Backplane)

// WithVisibilityTimeout sets the redelivery timeout of unacknowledged messages.
func WithVisibilityTimeout(d time.Duration) BackplaneOption {
	return func(b *Backplane) { b.visibility = d }
}

// WithBackplaneLogger sets the logger.
func WithBackplaneLogger(logger *slog.Logger) BackplaneOption {
	return func(b *Backplane) { b.logger = logger }
}

// NewBackplane creates an empty in-process backplane.
func NewBackplane(opts ...BackplaneOption) *Backplane {
	b := &Backplane{
		groups:     make(map[string]*group),
		changed:    make(chan struct{}),
		visibility: DefaultVisibilityTimeout,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// signal wakes every waiting consumer. Must hold b.mu.
func (b *Backplane) signal() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Publish appends msg to the log.
func (b *Backplane) Publish(ctx context.Context, msg domain.FrameMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	lane := 0
	if msg.Priority > 0 {
		lane = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs[lane] = append(b.logs[lane], data)
	b.signal()
	return nil
}

// Subscribe starts a consumer of group. The handler is called sequentially.
func (b *Backplane) Subscribe(ctx context.Context, groupName string, h ports.Handler) (ports.Subscription, error) {
	b.mu.Lock()
	if _, ok := b.groups[groupName]; !ok {
		b.groups[groupName] = &group{inflight: make(map[int64]*pending)}
	}
	b.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		b.consume(subCtx, groupName, h)
	}()
	return sub, nil
}

func (b *Backplane) consume(ctx context.Context, groupName string, h ports.Handler) {
	poll := b.visibility / 4
	if poll <= 0 || poll > time.Second {
		poll = time.Second
	}

	for {
		p, wait := b.take(groupName)
		if p == nil {
			select {
			case <-ctx.Done():
				return
			case <-wait:
			case <-time.After(poll):
			}
			continue
		}

		var msg domain.FrameMsg
		if err := json.Unmarshal(p.data, &msg); err != nil {
			b.logger.Error("dropping undecodable message", "group", groupName, "err", err)
			b.settle(groupName, p.id, false)
			continue
		}
		h(ctx, msg, &delivery{b: b, group: groupName, p: p})

		if ctx.Err() != nil {
			return
		}
	}
}

// take hands out the next message of a group: redeliveries first, then the
// urgent log, then the normal log. It also requeues expired deliveries.
func (b *Backplane) take(groupName string) (*pending, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.groups[groupName]
	now := time.Now()
	for id, p := range g.inflight {
		if now.After(p.deadline) {
			delete(g.inflight, id)
			g.ready = append(g.ready, &pending{id: p.id, data: p.data, attempt: p.attempt + 1})
		}
	}

	var p *pending
	switch {
	case len(g.ready) > 0:
		p = g.ready[0]
		g.ready = g.ready[1:]
	case g.cursors[1] < len(b.logs[1]):
		b.seq++
		p = &pending{id: b.seq, data: b.logs[1][g.cursors[1]], attempt: 1}
		g.cursors[1]++
		b.compact(1)
	case g.cursors[0] < len(b.logs[0]):
		b.seq++
		p = &pending{id: b.seq, data: b.logs[0][g.cursors[0]], attempt: 1}
		g.cursors[0]++
		b.compact(0)
	default:
		return nil, b.changed
	}

	p.deadline = now.Add(b.visibility)
	g.inflight[p.id] = p
	return p, nil
}

// compact drops the prefix of a log that every group has read once it makes
// up at least half of the log. Must hold b.mu.
func (b *Backplane) compact(lane int) {
	low := -1
	for _, g := range b.groups {
		if low < 0 || g.cursors[lane] < low {
			low = g.cursors[lane]
		}
	}
	if low <= 0 || 2*low < len(b.logs[lane]) {
		return
	}
	b.logs[lane] = append([][]byte(nil), b.logs[lane][low:]...)
	for _, g := range b.groups {
		g.cursors[lane] -= low
	}
}

// Retained returns the number of log entries still held.
func (b *Backplane) Retained() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.logs[0]) + len(b.logs[1])
}

// settle removes an in-flight delivery and optionally requeues it.
// It reports false when the delivery was already settled or expired.
func (b *Backplane) settle(groupName string, id int64, requeue bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	g := b.groups[groupName]
	p, ok := g.inflight[id]
	if !ok {
		return false
	}
	delete(g.inflight, id)
	if requeue {
		g.ready = append(g.ready, &pending{id: p.id, data: p.data, attempt: p.attempt + 1})
		b.signal()
	}
	return true
}

type delivery struct {
	b     *Backplane
	group string
	p     *pending
}

func (d *delivery) Ack(ctx context.Context) error {
	d.b.settle(d.group, d.p.id, false)
	return nil
}

func (d *delivery) Nack(ctx context.Context, requeue bool) error {
	d.b.settle(d.group, d.p.id, requeue)
	return nil
}

func (d *delivery) Attempt() int { return d.p.attempt }

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
