package dispatcher

import (
	"context"
	"errors"
	"time"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/metrics"
)

// MetricsPublisher wraps a pubsub.Publisher with metrics collection.
// Delivery outcomes are recorded once the report completes.
type MetricsPublisher struct {
	publisher pubsub.Publisher
	registry  *metrics.Registry
}

// NewMetricsPublisher creates a new instrumented publisher
func NewMetricsPublisher(publisher pubsub.Publisher, registry *metrics.Registry) pubsub.Publisher {
	return &MetricsPublisher{
		publisher: publisher,
		registry:  registry,
	}
}

// Publish implements pubsub.Publisher.Publish with metrics collection
func (p *MetricsPublisher) Publish(ctx context.Context, event pubsub.Event) (*pubsub.Report, error) {
	start := time.Now()

	report, err := p.publisher.Publish(ctx, event)
	duration := time.Since(start)

	if err != nil {
		p.registry.RecordPublish(event.Type(), 0, duration, err)
		return report, err
	}

	p.registry.RecordPublish(event.Type(), report.Attempted, duration, nil)
	if report.Attempted == 0 {
		return report, nil
	}

	p.registry.AddDeliveriesInFlight(report.Attempted)
	go func() {
		<-report.Done()
		for _, outcome := range report.Outcomes() {
			p.registry.RecordDelivery(outcome.EventType, outcome.Subscriber, status(outcome.Err), outcome.Duration)
		}
		p.registry.AddDeliveriesInFlight(-report.Attempted)
	}()

	return report, nil
}

func status(err error) string {
	if err == nil {
		return "success"
	}
	var handlerErr *pubsub.HandlerError
	if errors.As(err, &handlerErr) {
		return handlerErr.Kind.String()
	}
	return pubsub.HandlerFailed.String()
}
