package dispatcher

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/tracing"
)

// TracedPublisher wraps a pubsub.Publisher with distributed tracing
// Layer order: TracedPublisher -> MetricsPublisher -> Dispatcher (real thing)
type TracedPublisher struct {
	publisher pubsub.Publisher
	tracer    *tracing.Tracer
}

// NewTracedPublisher creates a new traced publisher that wraps a metrics publisher
func NewTracedPublisher(publisher pubsub.Publisher, tracer *tracing.Tracer) pubsub.Publisher {
	return &TracedPublisher{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish implements pubsub.Publisher.Publish with distributed tracing. The
// span covers scheduling only; handler spans are children of it.
func (p *TracedPublisher) Publish(ctx context.Context, event pubsub.Event) (*pubsub.Report, error) {
	ctx, span := p.tracer.StartSpan(ctx, "dispatcher.publish")
	span.SetAttributes(p.tracer.EventAttributes(event.Type(), event.Len())...)

	report, err := p.publisher.Publish(ctx, event)
	if report != nil {
		span.SetAttributes(attribute.Int("etcwatch.fanout", report.Attempted))
	}

	p.tracer.End(span, err)
	return report, err
}
