// Package processor turns dispatched events into persisted batches. Two
// strategies exist: batching buffers events and flushes them by size or on
// an interval, real-time persists every event as it arrives.
package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"etcwatch/internal/pubsub"
)

// Kind selects a processing strategy.
type Kind string

const (
	KindBatching Kind = "batching"
	KindRealTime Kind = "real_time"
)

// Kinds lists the supported strategies.
func Kinds() []string {
	return []string{string(KindBatching), string(KindRealTime)}
}

// ParseKind validates a processor selection from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindBatching, KindRealTime:
		return k, nil
	default:
		return "", &pubsub.ConfigurationError{Key: "processor_type", Value: s, Supported: Kinds()}
	}
}

type Config struct {
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"100"`
	FlushInterval time.Duration `env:"BATCH_FLUSH_INTERVAL" envDefault:"5s"`
}

// Processor is a pubsub.Processor with a lifecycle. Start launches any
// background work, Close stops it and flushes what is still buffered.
type Processor interface {
	pubsub.Processor
	Start(ctx context.Context)
	Close(ctx context.Context) error
}

func New(kind Kind, cfg Config, persister pubsub.Persister, logger *zap.Logger) (Processor, error) {
	switch kind {
	case KindBatching:
		return NewBatching(persister, cfg, logger)
	case KindRealTime:
		return NewRealTime(persister, logger)
	default:
		return nil, &pubsub.ConfigurationError{Key: "processor_type", Value: string(kind), Supported: Kinds()}
	}
}
