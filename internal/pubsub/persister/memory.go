package persister

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"etcwatch/internal/pubsub"
)

// Memory keeps persisted events in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]pubsub.Record
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string][]pubsub.Record),
		now:     time.Now,
	}
}

func (m *Memory) Persist(ctx context.Context, events ...pubsub.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		r := pubsub.NewRecord(uuid.NewString(), e, m.now())
		m.records[e.Type()] = append(m.records[e.Type()], r)
	}

	return nil
}

func (m *Memory) Count(_ context.Context, eventType string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.records[eventType])), nil
}

func (m *Memory) Load(_ context.Context, eventType string, limit int) ([]pubsub.Record, error) {
	m.mu.RLock()
	records := slices.Clone(m.records[eventType])
	m.mu.RUnlock()

	slices.Reverse(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}
