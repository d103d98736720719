package pubsub

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Event is an immutable record of something that happened. Type routes the
// event to its subscribers; Payload carries the details. An Event is shared by
// every subscriber of a publish call, so its payload is copied in and out and
// never exposed for mutation.
type Event struct {
	typ     string
	payload map[string]any
}

// NewEvent builds an Event of the given type. The payload map is copied, so the
// caller may keep using its own map afterwards.
func NewEvent(eventType string, payload map[string]any) (Event, error) {
	if eventType == "" {
		return Event{}, fmt.Errorf("%w: event type must not be empty", ErrInvalidEvent)
	}

	return Event{
		typ:     eventType,
		payload: maps.Clone(payload),
	}, nil
}

// MustEvent is like NewEvent but panics on an invalid type. Intended for
// literals in wiring code and tests.
func MustEvent(eventType string, payload map[string]any) Event {
	e, err := NewEvent(eventType, payload)
	if err != nil {
		panic(err)
	}
	return e
}

// Type returns the event type tag.
func (e Event) Type() string {
	return e.typ
}

// Payload returns a shallow copy of the event payload.
func (e Event) Payload() map[string]any {
	return maps.Clone(e.payload)
}

// Value returns a single payload entry.
func (e Event) Value(key string) (any, bool) {
	v, ok := e.payload[key]
	return v, ok
}

// Len returns the number of payload entries.
func (e Event) Len() int {
	return len(e.payload)
}

// Valid reports whether the event was built through NewEvent.
func (e Event) Valid() bool {
	return e.typ != ""
}

// MarshalJSON encodes the event as {"type": ..., "payload": {...}}.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}{
		Type:    e.typ,
		Payload: e.payload,
	})
}

func (e Event) String() string {
	return fmt.Sprintf("%s%v", e.typ, e.payload)
}
