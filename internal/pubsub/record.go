package pubsub

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"etcwatch/internal/couchbase"
)

// Record is the stored form of a persisted event.
type Record struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
	PersistTime *time.Time     `json:"persistTime,omitempty"`

	couchbase.Cas `json:"-"`
}

// NewRecord builds the record for event with the given ID.
func NewRecord(id string, event Event, at time.Time) Record {
	at = at.UTC()
	return Record{
		ID:          id,
		Type:        event.Type(),
		Payload:     event.Payload(),
		PersistTime: &at,
	}
}

// Event rebuilds the event a record was created from.
func (r Record) Event() (Event, error) {
	return NewEvent(r.Type, r.Payload)
}

func NewRecordsStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Store[Record], error) {
	collection := bucket.Scope(scope).Collection("events")
	store, err := couchbase.NewStore[Record](cluster, collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func RecordKey(eventType, id string) string {
	return fmt.Sprintf("event::%s::%s", eventType, id)
}

// Counter tracks how many events of a type were persisted.
type Counter struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	N    uint64 `json:"n"`

	couchbase.Cas `json:"-"`
}

func NewCountersStore(cluster *gocb.Cluster, bucket *gocb.Bucket, scope string) (*couchbase.Store[Counter], error) {
	collection := bucket.Scope(scope).Collection("counters")
	store, err := couchbase.NewStore[Counter](cluster, collection)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func CounterKey(eventType string) string {
	return fmt.Sprintf("counter::%s", eventType)
}
