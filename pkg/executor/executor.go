// Package executor consumes frames from a backplane and drives them through
// the runtime until their runs complete or fail.
//
// An Executor is stateless between messages: everything a run needs travels in
// its frame, its checkpoint and its activity log. Any number of executors may
// subscribe to the same group and compete for frames.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/weave/internal/logging"
	"github.com/aretw0/weave/internal/runtime"
	"github.com/aretw0/weave/pkg/domain"
	"github.com/aretw0/weave/pkg/observability"
	"github.com/aretw0/weave/pkg/ports"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultGroup is the consumer group executors join unless told otherwise.
	DefaultGroup = "weave-executors"
	// DefaultMaxParallel bounds the frames one executor interprets at once.
	DefaultMaxParallel = 8
	// DefaultMaxAttempts bounds deliveries of a faulting frame.
	DefaultMaxAttempts = 5
	// DefaultLockTTL is the expiry of the distributed run lock.
	DefaultLockTTL = 30 * time.Second
	// DefaultJoinWait is the pause before a frame waiting on a join is republished.
	DefaultJoinWait = 100 * time.Millisecond
)

// RetryPolicy decides whether a faulted frame is handed back for redelivery.
type RetryPolicy func(err error) bool

// Executor is a backplane consumer running frames on a runtime.Machine.
type Executor struct {
	machine  *runtime.Machine
	programs ports.ProgramStore
	store    ports.StateStore
	bp       ports.Backplane

	group       string
	logger      *slog.Logger
	metrics     *observability.Metrics
	hooks       domain.LifecycleHooks
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	maxParallel int
	maxAttempts int
	retry       RetryPolicy
	budget      *Budget
	joinWait    time.Duration
	now         func() time.Time

	locks *runLocks
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. Default is no-op.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithHooks registers run done/fault callbacks.
func WithHooks(h domain.LifecycleHooks) Option {
	return func(e *Executor) { e.hooks = h }
}

// WithLocker enables cross-process serialization of runs.
func WithLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Executor) {
		e.locker = l
		if ttl > 0 {
			e.lockTTL = ttl
		}
	}
}

// WithGroup sets the consumer group.
func WithGroup(group string) Option {
	return func(e *Executor) {
		if group != "" {
			e.group = group
		}
	}
}

// WithMaxParallel bounds concurrent frames.
func WithMaxParallel(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithMaxAttempts bounds deliveries of a faulting frame.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryPolicy replaces domain.IsRetryable as the retry classifier.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) {
		if p != nil {
			e.retry = p
		}
	}
}

// WithBudget makes deferred frames wait for the next budget tick.
// The same Budget must be installed as the machine's admitter.
func WithBudget(b *Budget) Option {
	return func(e *Executor) { e.budget = b }
}

// WithJoinWait sets the pause before republishing a frame blocked on a join.
func WithJoinWait(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.joinWait = d
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor.
func New(m *runtime.Machine, programs ports.ProgramStore, store ports.StateStore, bp ports.Backplane, opts ...Option) *Executor {
	e := &Executor{
		machine:     m,
		programs:    programs,
		store:       store,
		bp:          bp,
		group:       DefaultGroup,
		logger:      logging.NewNop(),
		lockTTL:     DefaultLockTTL,
		maxParallel: DefaultMaxParallel,
		maxAttempts: DefaultMaxAttempts,
		retry:       domain.IsRetryable,
		joinWait:    DefaultJoinWait,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.locks = newRunLocks(e.locker, e.lockTTL, e.logger)
	return e
}

// Run subscribes to the backplane and processes frames until ctx is done.
// In-flight frames are drained before Run returns.
func (e *Executor) Run(ctx context.Context) error {
	var pool errgroup.Group
	pool.SetLimit(e.maxParallel)

	sub, err := e.bp.Subscribe(ctx, e.group, func(ctx context.Context, msg domain.FrameMsg, d ports.Delivery) {
		// Go blocks while the pool is full, which holds back the subscription.
		pool.Go(func() error {
			e.Handle(ctx, msg, d)
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", e.group, err)
	}
	e.logger.Info("executor started", "group", e.group, "max_parallel", e.maxParallel)

	<-ctx.Done()
	closeErr := sub.Close()
	_ = pool.Wait()
	e.logger.Info("executor stopped", "group", e.group)
	return closeErr
}

// Handle processes one delivery. Every path ends in exactly one Ack or Nack.
func (e *Executor) Handle(ctx context.Context, msg domain.FrameMsg, d ports.Delivery) {
	if msg.Kind != domain.MsgKindFrame || msg.Frame == nil {
		e.logger.WarnContext(ctx, "dropping malformed message", "kind", msg.Kind, "run_id", msg.RunID)
		e.ack(ctx, d, msg.RunID)
		return
	}

	err := e.locks.WithLock(ctx, msg.RunID, func(ctx context.Context) error {
		return e.process(ctx, msg, d)
	})
	if err != nil {
		e.logger.WarnContext(ctx, "frame requeued", "run_id", msg.RunID, "attempt", d.Attempt(), "err", err)
		if nerr := d.Nack(ctx, true); nerr != nil {
			e.logger.ErrorContext(ctx, "nack failed", "run_id", msg.RunID, "err", nerr)
		}
	}
}

// process runs the frame and settles the delivery. A returned error means the
// delivery is still unsettled and must be requeued.
func (e *Executor) process(ctx context.Context, msg domain.FrameMsg, d ports.Delivery) error {
	frame, err := e.latest(ctx, msg.Frame)
	if err != nil {
		return err
	}
	if frame.Finished {
		e.logger.DebugContext(ctx, "dropping frame of finished run", "run_id", frame.RunID)
		e.ack(ctx, d, frame.RunID)
		return nil
	}

	prog, err := e.programs.LoadProgram(ctx, frame.ProgramID)
	if errors.Is(err, domain.ErrProgramNotFound) {
		e.fail(ctx, d, frame, "program_not_found", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load program: %w", err)
	}

	out := e.machine.Run(ctx, prog, frame)
	switch out.Kind {
	case runtime.KindDone:
		out.Frame.Finished = true
		if err := e.checkpoint(ctx, out.Frame); err != nil {
			return err
		}
		e.ack(ctx, d, frame.RunID)
		if err := e.machine.Release(ctx, frame.RunID); err != nil {
			e.logger.WarnContext(ctx, "failed to release run joins", "run_id", frame.RunID, "err", err)
		}
		e.metrics.RunCompleted()
		e.logger.InfoContext(ctx, "run completed", "run_id", frame.RunID, "terminated", out.Terminated)
		if e.hooks.OnRunDone != nil {
			e.hooks.OnRunDone(ctx, &domain.RunEvent{
				EventBase:  domain.EventBase{Timestamp: e.now(), Type: domain.EventRunDone, RunID: frame.RunID},
				Terminated: out.Terminated,
			})
		}
		return nil

	case runtime.KindYield:
		if err := e.wait(ctx, out); err != nil {
			return err
		}
		if err := e.checkpoint(ctx, out.Frame); err != nil {
			return err
		}
		if err := e.bp.Publish(ctx, domain.NewFrameMsg(out.Frame, msg.Priority)); err != nil {
			return fmt.Errorf("publish continuation: %w", err)
		}
		e.ack(ctx, d, frame.RunID)
		e.metrics.FrameYielded()
		return nil

	default:
		if !runtime.IsTerminal(out) && e.retry(out.Err) && d.Attempt() < e.maxAttempts {
			// Keep the incremented attempt counter for the redelivery.
			if err := e.checkpoint(ctx, out.Frame); err != nil {
				e.logger.WarnContext(ctx, "failed to checkpoint faulted frame", "run_id", frame.RunID, "err", err)
			}
			return fmt.Errorf("retryable fault: %w", out.Err)
		}
		if out.Frame != nil {
			if err := e.checkpoint(ctx, out.Frame); err != nil {
				e.logger.WarnContext(ctx, "failed to checkpoint faulted frame", "run_id", frame.RunID, "err", err)
			}
		}
		e.fail(ctx, d, frame, faultReason(out.Err), out.Err)
		return nil
	}
}

// latest returns the newest known continuation of the run: the delivered
// frame, or the stored checkpoint when it is further along.
func (e *Executor) latest(ctx context.Context, frame *domain.Frame) (*domain.Frame, error) {
	cp, err := e.store.LoadCheckpoint(ctx, frame.RunID)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		return frame, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Frame != nil && cp.Frame.ProgramID == frame.ProgramID && cp.Frame.Seq > frame.Seq {
		e.logger.DebugContext(ctx, "resuming from newer checkpoint", "run_id", frame.RunID, "seq", cp.Frame.Seq, "delivered_seq", frame.Seq)
		return cp.Frame, nil
	}
	return frame, nil
}

func (e *Executor) checkpoint(ctx context.Context, frame *domain.Frame) error {
	if err := e.store.SaveCheckpoint(ctx, domain.NewCheckpoint(frame, e.now())); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// wait delays frames that cannot make progress right now.
func (e *Executor) wait(ctx context.Context, out runtime.Outcome) error {
	var d time.Duration
	switch {
	case out.Deferred && e.budget != nil:
		d = e.budget.UntilNextTick()
	case out.Joined:
		d = e.joinWait
	default:
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Executor) ack(ctx context.Context, d ports.Delivery, runID string) {
	if err := d.Ack(ctx); err != nil {
		e.logger.ErrorContext(ctx, "ack failed", "run_id", runID, "err", err)
	}
}

func (e *Executor) fail(ctx context.Context, d ports.Delivery, frame *domain.Frame, reason string, err error) {
	e.ack(ctx, d, frame.RunID)
	e.metrics.RunFailed(reason)
	e.logger.ErrorContext(ctx, "run failed", "run_id", frame.RunID, "reason", reason, "attempt", d.Attempt(), "err", err)
	if e.hooks.OnRunFault != nil {
		e.hooks.OnRunFault(ctx, &domain.RunEvent{
			EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventRunFault, RunID: frame.RunID},
			Err:       err,
		})
	}
}

func faultReason(err error) string {
	var (
		raise *domain.RaiseError
		nf    *domain.NodeFault
		sf    *domain.StoreFault
	)
	switch {
	case errors.As(err, &raise):
		return "raise"
	case errors.Is(err, runtime.ErrInvalidProgram):
		return "invalid_program"
	case errors.As(err, &sf):
		return "store"
	case errors.As(err, &nf):
		return "node"
	default:
		return "other"
	}
}
