package persister

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/tracing"
)

// TracedPersister wraps a Store with a span per operation.
type TracedPersister struct {
	store  Store
	system string
	tracer *tracing.Tracer
}

func NewTracedPersister(store Store, system string, tracer *tracing.Tracer) *TracedPersister {
	return &TracedPersister{
		store:  store,
		system: system,
		tracer: tracer,
	}
}

func (t *TracedPersister) Persist(ctx context.Context, events ...pubsub.Event) error {
	ctx, span := t.tracer.StartSpan(ctx, "persister.persist")
	span.SetAttributes(t.tracer.DatabaseAttributes("persist", t.system)...)
	span.SetAttributes(attribute.Int("etcwatch.batch_size", len(events)))

	err := t.store.Persist(ctx, events...)

	t.tracer.End(span, err)
	return err
}

func (t *TracedPersister) Count(ctx context.Context, eventType string) (uint64, error) {
	ctx, span := t.tracer.StartSpan(ctx, "persister.count")
	span.SetAttributes(t.tracer.DatabaseAttributes("count", t.system)...)
	span.SetAttributes(attribute.String("etcwatch.event_type", eventType))

	n, err := t.store.Count(ctx, eventType)

	t.tracer.End(span, err)
	return n, err
}

func (t *TracedPersister) Load(ctx context.Context, eventType string, limit int) ([]pubsub.Record, error) {
	ctx, span := t.tracer.StartSpan(ctx, "persister.load")
	span.SetAttributes(t.tracer.DatabaseAttributes("load", t.system)...)
	span.SetAttributes(
		attribute.String("etcwatch.event_type", eventType),
		attribute.Int("etcwatch.limit", limit),
	)

	records, err := t.store.Load(ctx, eventType, limit)

	t.tracer.End(span, err)
	return records, err
}
