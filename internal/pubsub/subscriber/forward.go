package subscriber

import (
	"context"
	"fmt"

	"etcwatch/internal/pubsub"
)

// Processor feeds events to a pubsub.Processor.
type Processor struct {
	processor pubsub.Processor
	name      string
}

func NewProcessor(processor pubsub.Processor, name string) *Processor {
	return &Processor{processor: processor, name: name}
}

func (p *Processor) Name() string {
	return "processor:" + p.name
}

func (p *Processor) Handle(ctx context.Context, event pubsub.Event) error {
	if err := p.processor.Process(ctx, event); err != nil {
		return fmt.Errorf("failed to process %s event: %w", event.Type(), err)
	}
	return nil
}

// Persister writes events straight to a pubsub.Persister.
type Persister struct {
	persister pubsub.Persister
	name      string
}

func NewPersister(persister pubsub.Persister, name string) *Persister {
	return &Persister{persister: persister, name: name}
}

func (p *Persister) Name() string {
	return "persister:" + p.name
}

func (p *Persister) Handle(ctx context.Context, event pubsub.Event) error {
	if err := p.persister.Persist(ctx, event); err != nil {
		return fmt.Errorf("failed to persist %s event: %w", event.Type(), err)
	}
	return nil
}
