package persister

import (
	"context"
	"time"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/metrics"
)

// MetricsPersister records batch sizes and operation latency for a Store.
type MetricsPersister struct {
	store    Store
	name     string
	registry *metrics.Registry
}

func NewMetricsPersister(store Store, name string, registry *metrics.Registry) *MetricsPersister {
	return &MetricsPersister{
		store:    store,
		name:     name,
		registry: registry,
	}
}

func (m *MetricsPersister) Persist(ctx context.Context, events ...pubsub.Event) error {
	start := time.Now()

	err := m.store.Persist(ctx, events...)

	m.registry.RecordDatabaseOperation("persist", time.Since(start), err)
	if err == nil {
		m.registry.RecordPersistBatch(m.name, len(events))
	}

	return err
}

func (m *MetricsPersister) Count(ctx context.Context, eventType string) (uint64, error) {
	start := time.Now()

	n, err := m.store.Count(ctx, eventType)

	m.registry.RecordDatabaseOperation("count", time.Since(start), err)
	return n, err
}

func (m *MetricsPersister) Load(ctx context.Context, eventType string, limit int) ([]pubsub.Record, error) {
	start := time.Now()

	records, err := m.store.Load(ctx, eventType, limit)

	m.registry.RecordDatabaseOperation("load", time.Since(start), err)
	return records, err
}
