package persister

import (
	"context"

	"etcwatch/internal/pubsub"
)

// Kind selects a persister backend.
type Kind string

const (
	KindDatabase Kind = "database"
	KindMemory   Kind = "memory"
)

// Kinds lists the supported backends.
func Kinds() []string {
	return []string{string(KindDatabase), string(KindMemory)}
}

// ParseKind validates a persister selection from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDatabase, KindMemory:
		return k, nil
	default:
		return "", &pubsub.ConfigurationError{Key: "persister_type", Value: s, Supported: Kinds()}
	}
}

// Store is a persister that can also report what it stored.
type Store interface {
	pubsub.Persister

	// Count returns how many events of eventType were persisted.
	Count(ctx context.Context, eventType string) (uint64, error)

	// Load returns up to limit records of eventType, newest first.
	Load(ctx context.Context, eventType string, limit int) ([]pubsub.Record, error)
}

// New builds the backend selected by kind. The database backend is only
// connected when selected.
func New(kind Kind, database func() (*Database, error)) (Store, error) {
	switch kind {
	case KindDatabase:
		db, err := database()
		if err != nil {
			return nil, err
		}
		return db, nil
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, &pubsub.ConfigurationError{Key: "persister_type", Value: string(kind), Supported: Kinds()}
	}
}
