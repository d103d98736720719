package pubsub

import (
	"context"
	"fmt"
	"time"
)

// Subscriber handles events it was subscribed to. Handle may block; the
// dispatcher runs every subscription on its own goroutine. Implementations own
// whatever state they hold.
type Subscriber interface {
	Handle(ctx context.Context, event Event) error
}

// Named is implemented by subscribers that want a readable name in logs,
// metrics and reports.
type Named interface {
	Name() string
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

func (f SubscriberFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// SubscriberName returns s.Name() when available, otherwise the Go type of s.
func SubscriberName(s Subscriber) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// Subscription is one registration of a subscriber to an event type.
// Subscribing the same subscriber twice yields two subscriptions with
// different IDs, and two invocations per publish.
type Subscription struct {
	ID         string
	EventType  string
	Subscriber Subscriber
	// Timeout bounds each Handle call; zero means the dispatcher default.
	Timeout time.Duration
}

// Name is the subscriber name of the subscription.
func (s Subscription) Name() string {
	return SubscriberName(s.Subscriber)
}
