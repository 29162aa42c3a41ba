package transport

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/backoffice-relay/pkg/pubsub"
)

// Publisher is the slice of pkg/pubsub.Client the transport needs.
type Publisher interface {
	Publish(ctx context.Context, msg pubsub.Message) (string, error)
	Close() error
}

// PubSub publishes each event to one topic with its metadata as attributes
// and the tenant as ordering key, so one tenant's events stay in order.
type PubSub struct {
	pub Publisher
}

func NewPubSub(pub Publisher) *PubSub {
	return &PubSub{pub: pub}
}

func (p *PubSub) Name() string { return "pubsub" }

func (p *PubSub) Deliver(ctx context.Context, event Event) Result {
	msg := pubsub.Message{
		Data:        event.Payload,
		Attributes:  event.Attributes(),
		OrderingKey: event.TenantID.String(),
	}
	if _, err := p.pub.Publish(ctx, msg); err != nil {
		return classifyPublishError(err)
	}
	return success(0)
}

func (p *PubSub) Close() error { return p.pub.Close() }

func classifyPublishError(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return retryable(0, "timeout")
	}
	code := status.Code(err)
	switch code {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition:
		return permanent(0, "grpc_"+code.String())
	default:
		return retryable(0, "grpc_"+code.String())
	}
}
