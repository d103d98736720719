package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/validator"
)

// RealTime persists every event as soon as it is processed.
type RealTime struct {
	persister pubsub.Persister
	logger    *zap.Logger
}

func NewRealTime(persister pubsub.Persister, logger *zap.Logger) (*RealTime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := RealTime{
		persister: persister,
		logger:    logger.Named("processor").With(zap.String("kind", string(KindRealTime))),
	}

	if err := validator.Validate("real-time processor", p.persister); err != nil {
		return nil, fmt.Errorf("failed to validate real-time processor dependencies: %w", err)
	}

	return &p, nil
}

func (p *RealTime) Process(ctx context.Context, event pubsub.Event) error {
	if err := p.persister.Persist(ctx, event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	p.logger.Debug("event persisted", zap.String("eventType", event.Type()))
	return nil
}

func (p *RealTime) Start(context.Context) {}

func (p *RealTime) Close(context.Context) error { return nil }
