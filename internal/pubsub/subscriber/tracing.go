package subscriber

import (
	"context"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/tracing"
)

// Traced wraps a subscriber with a span per Handle call.
type Traced struct {
	subscriber pubsub.Subscriber
	tracer     *tracing.Tracer
}

func NewTraced(subscriber pubsub.Subscriber, tracer *tracing.Tracer) *Traced {
	return &Traced{
		subscriber: subscriber,
		tracer:     tracer,
	}
}

// Name keeps the wrapped subscriber's name.
func (t *Traced) Name() string {
	return pubsub.SubscriberName(t.subscriber)
}

func (t *Traced) Handle(ctx context.Context, event pubsub.Event) error {
	ctx, span := t.tracer.StartSpan(ctx, "subscriber.handle")
	span.SetAttributes(t.tracer.SubscriberAttributes(event.Type(), t.Name())...)

	err := t.subscriber.Handle(ctx, event)

	t.tracer.End(span, err)
	return err
}
