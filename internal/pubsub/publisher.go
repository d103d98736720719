package pubsub

import "context"

// Publisher dispatches events to their subscribers.
type Publisher interface {
	// Publish schedules delivery of event to every subscription of its type and
	// returns without waiting for the handlers. Handler failures never surface
	// here; they are recorded in the returned Report.
	Publish(ctx context.Context, event Event) (*Report, error)
}

// Processor transforms or accumulates events, e.g. batching or real-time.
type Processor interface {
	Process(ctx context.Context, event Event) error
}

// Persister stores events in a backend.
type Persister interface {
	Persist(ctx context.Context, events ...Event) error
}

// Registry resolves an event type to its subscriptions, in subscription order.
type Registry interface {
	SubscribersFor(eventType string) []Subscription
}
