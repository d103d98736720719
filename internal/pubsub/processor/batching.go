package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/validator"
)

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("processor closed")

// Batching buffers events and persists them in batches. A batch is flushed
// when it reaches the configured size, on every flush interval once Start
// is called, and on Close.
type Batching struct {
	persister pubsub.Persister
	logger    *zap.Logger
	size      int
	interval  time.Duration

	mu      sync.Mutex
	pending []pubsub.Event
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewBatching(persister pubsub.Persister, cfg Config, logger *zap.Logger) (*Batching, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := Batching{
		persister: persister,
		logger:    logger.Named("processor").With(zap.String("kind", string(KindBatching))),
		size:      cfg.BatchSize,
		interval:  cfg.FlushInterval,
	}

	if err := validator.Validate("batching processor", b.persister, b.size, b.interval); err != nil {
		return nil, fmt.Errorf("failed to validate batching processor dependencies: %w", err)
	}
	if b.size < 0 || b.interval < 0 {
		return nil, fmt.Errorf("invalid batching config: size %d, interval %s", b.size, b.interval)
	}

	return &b, nil
}

// Process buffers event and flushes the buffer if it is full. Only the call
// that fills the batch pays for the flush.
func (b *Batching) Process(ctx context.Context, event pubsub.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending = append(b.pending, event)
	var batch []pubsub.Event
	if len(b.pending) >= b.size {
		batch = b.take()
	}
	b.mu.Unlock()

	if batch == nil {
		return nil
	}
	return b.flush(ctx, batch)
}

// Pending returns the number of buffered events.
func (b *Batching) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Start launches the interval flush loop. It stops when ctx is done or on Close.
func (b *Batching) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running || b.closed {
		b.mu.Unlock()
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.running = true
	b.wg.Add(1)
	b.mu.Unlock()

	go b.flushLoop(ctx)
}

func (b *Batching) flushLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			batch := b.take()
			b.mu.Unlock()

			if len(batch) == 0 {
				continue
			}
			if err := b.flush(ctx, batch); err != nil {
				b.logger.Error("interval flush failed", zap.Error(err))
			}
		}
	}
}

// Close stops the flush loop and persists whatever is still buffered.
func (b *Batching) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.flush(ctx, batch)
}

// take must be called with mu held.
func (b *Batching) take() []pubsub.Event {
	batch := b.pending
	b.pending = nil
	return batch
}

func (b *Batching) flush(ctx context.Context, batch []pubsub.Event) error {
	if err := b.persister.Persist(ctx, batch...); err != nil {
		return fmt.Errorf("failed to flush batch of %d events: %w", len(batch), err)
	}

	b.logger.Debug("batch flushed", zap.Int("size", len(batch)))
	return nil
}
