package persister

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/google/uuid"

	"etcwatch/internal/couchbase"
	"etcwatch/internal/pubsub"
	"etcwatch/internal/validator"
)

const recordExpiry = 7 * 24 * time.Hour

// Database persists events to Couchbase. Every event becomes a record
// document; a per-type counter document is advanced transactionally.
type Database struct {
	records      *couchbase.Store[pubsub.Record]
	counters     *couchbase.Store[pubsub.Counter]
	transactions *couchbase.Transactions

	// keyspace for N1QL, e.g. `bucket`.`scope`.`events`
	keyspace string
}

func NewDatabase(
	records *couchbase.Store[pubsub.Record],
	counters *couchbase.Store[pubsub.Counter],
	transactions *couchbase.Transactions,
	bucket, scope string,
) (*Database, error) {
	d := Database{
		records:      records,
		counters:     counters,
		transactions: transactions,
	}

	if err := validator.Validate("database persister", d.records, d.counters, d.transactions, bucket, scope); err != nil {
		return nil, fmt.Errorf("failed to validate database persister dependencies: %w", err)
	}
	d.keyspace = fmt.Sprintf("`%s`.`%s`.`%s`", bucket, scope, records.Collection().Name())

	return &d, nil
}

// Persist inserts a record per event, then advances the counter of every
// event type in the batch.
func (d *Database) Persist(ctx context.Context, events ...pubsub.Event) error {
	if len(events) == 0 {
		return nil
	}

	now := time.Now()
	counts := make(map[string]uint64)
	for _, e := range events {
		r := pubsub.NewRecord(uuid.NewString(), e, now)
		key := pubsub.RecordKey(r.Type, r.ID)

		err := d.records.Insert(ctx, key, r, &gocb.InsertOptions{Expiry: recordExpiry})
		if err != nil && !errors.Is(err, gocb.ErrDocumentExists) {
			return fmt.Errorf("failed to insert record %s: %w", key, err)
		}
		counts[e.Type()]++
	}

	for eventType, n := range counts {
		if err := d.incrementCounter(eventType, n); err != nil {
			return err
		}
	}

	return nil
}

func (d *Database) incrementCounter(eventType string, n uint64) error {
	key := pubsub.CounterKey(eventType)

	_, err := d.transactions.Transaction(func(r couchbase.TransactionRunner) error {
		retry := true
		for retry {
			retry = false

			res, err := r.Get(d.counters, key)
			switch {
			case err == nil:
			case errors.Is(err, gocb.ErrDocumentNotFound):
				counter := pubsub.Counter{ID: key, Type: eventType, N: n}
				_, err := r.Insert(d.counters, key, counter)
				switch {
				case err == nil:
					return nil
				case errors.Is(err, gocb.ErrDocumentExists):
					// another writer created it first
					retry = true
					continue
				default:
					return fmt.Errorf("failed to insert counter: %w", err)
				}
			default:
				return fmt.Errorf("failed to get counter: %w", err)
			}

			var counter pubsub.Counter
			if err := res.Content(&counter); err != nil {
				return fmt.Errorf("failed to decode counter: %w", err)
			}

			counter.N += n
			if _, err := r.Replace(res, counter); err != nil {
				return fmt.Errorf("failed to replace counter: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment counter for %s: %w", eventType, err)
	}

	return nil
}

// Count returns 0 for event types never persisted.
func (d *Database) Count(ctx context.Context, eventType string) (uint64, error) {
	counter, err := d.counters.Get(ctx, pubsub.CounterKey(eventType), nil)
	switch {
	case err == nil:
		return counter.N, nil
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return 0, nil
	default:
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
}

func (d *Database) Load(ctx context.Context, eventType string, limit int) ([]pubsub.Record, error) {
	statement := fmt.Sprintf(`
		SELECT RAW e
		FROM %s e
		WHERE e.type = $type
		ORDER BY e.persistTime DESC
		LIMIT $limit`,
		d.keyspace,
	)

	records, err := d.records.Query(ctx, statement, &gocb.QueryOptions{
		NamedParameters: map[string]any{
			"type":  eventType,
			"limit": limit,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	return records, nil
}
