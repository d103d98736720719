package processor

import (
	"context"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/metrics"
)

// MetricsProcessor counts processed events per processor kind and status.
type MetricsProcessor struct {
	processor Processor
	kind      Kind
	registry  *metrics.Registry
}

func NewMetricsProcessor(processor Processor, kind Kind, registry *metrics.Registry) Processor {
	return &MetricsProcessor{
		processor: processor,
		kind:      kind,
		registry:  registry,
	}
}

func (m *MetricsProcessor) Process(ctx context.Context, event pubsub.Event) error {
	err := m.processor.Process(ctx, event)
	m.registry.RecordProcess(string(m.kind), err)
	return err
}

func (m *MetricsProcessor) Start(ctx context.Context) {
	m.processor.Start(ctx)
}

func (m *MetricsProcessor) Close(ctx context.Context) error {
	return m.processor.Close(ctx)
}
