package ports

import (
	"context"

	"github.com/aretw0/weave/pkg/domain"
)

// Delivery is one delivery attempt of a message.
// Handlers must Ack only after the message has been durably processed.
// Without an Ack the message is redelivered after a backend-defined timeout.
type Delivery interface {
	Ack(ctx context.Context) error

	// Nack gives the message back. With requeue=false it is dropped.
	Nack(ctx context.Context, requeue bool) error

	// Attempt is 1 on first delivery and grows with each redelivery.
	Attempt() int
}

// Handler processes one delivered message.
type Handler func(ctx context.Context, msg domain.FrameMsg, d Delivery)

// Subscription is an active consumer registration.
type Subscription interface {
	// Close stops delivery to the handler and waits for in-flight handlers.
	Close() error
}

// Backplane distributes frames to competing consumers with at-least-once
// delivery and manual acknowledgment.
type Backplane interface {
	// Publish enqueues msg for every consumer group.
	Publish(ctx context.Context, msg domain.FrameMsg) error

	// Subscribe joins group as one competing consumer.
	Subscribe(ctx context.Context, group string, h Handler) (Subscription, error)
}
