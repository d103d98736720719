package registry

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"etcwatch/internal/pubsub"
)

// Registry maps event types to their ordered subscriptions.
//
// Lists are copy-on-write: a slice returned by SubscribersFor is never written
// to again, so dispatchers can iterate it while Subscribe and Unsubscribe run.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string][]pubsub.Subscription
	byID   map[string]string // subscription ID -> event type
	logger *zap.Logger

	observer func(eventType string, count int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration events.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver sets a callback invoked with the new subscription count of an
// event type after every Subscribe and Unsubscribe. It runs under the write
// lock and must not call back into the Registry.
func WithObserver(fn func(eventType string, count int)) Option {
	return func(r *Registry) { r.observer = fn }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		subs:   make(map[string][]pubsub.Subscription),
		byID:   make(map[string]string),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("registry")
	return r
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*pubsub.Subscription)

// WithTimeout bounds every Handle call of the subscription.
func WithTimeout(d time.Duration) SubscribeOption {
	return func(s *pubsub.Subscription) { s.Timeout = d }
}

// Subscribe appends s to the subscriptions of eventType. Subscribing the same
// subscriber again adds another subscription, so it is invoked once per
// subscription.
func (r *Registry) Subscribe(eventType string, s pubsub.Subscriber, opts ...SubscribeOption) (pubsub.Subscription, error) {
	switch {
	case eventType == "":
		return pubsub.Subscription{}, &pubsub.RegistryError{EventType: eventType, Err: pubsub.ErrEmptyEventType}
	case s == nil:
		return pubsub.Subscription{}, &pubsub.RegistryError{EventType: eventType, Err: pubsub.ErrNilSubscriber}
	}

	sub := pubsub.Subscription{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Subscriber: s,
	}
	for _, opt := range opts {
		opt(&sub)
	}

	r.mu.Lock()
	current := r.subs[eventType]
	next := make([]pubsub.Subscription, len(current), len(current)+1)
	copy(next, current)
	next = append(next, sub)
	r.subs[eventType] = next
	r.byID[sub.ID] = eventType
	count := len(next)
	r.notify(eventType, count)
	r.mu.Unlock()

	r.logger.Debug("subscribed",
		zap.String("eventType", eventType),
		zap.String("subscriber", sub.Name()),
		zap.String("subscriptionId", sub.ID),
		zap.Int("count", count),
	)

	return sub, nil
}

// Unsubscribe removes the subscription with the given ID. It reports whether
// the subscription existed.
func (r *Registry) Unsubscribe(id string) bool {
	r.mu.Lock()
	eventType, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}

	current := r.subs[eventType]
	next := slices.DeleteFunc(slices.Clone(current), func(s pubsub.Subscription) bool {
		return s.ID == id
	})
	if len(next) == 0 {
		delete(r.subs, eventType)
	} else {
		r.subs[eventType] = next
	}
	delete(r.byID, id)
	count := len(next)
	r.notify(eventType, count)
	r.mu.Unlock()

	r.logger.Debug("unsubscribed",
		zap.String("eventType", eventType),
		zap.String("subscriptionId", id),
		zap.Int("count", count),
	)

	return true
}

// SubscribersFor returns the subscriptions of eventType in subscription
// order. The result may be empty and must not be modified.
func (r *Registry) SubscribersFor(eventType string) []pubsub.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[eventType]
}

// Len returns the number of subscriptions of eventType.
func (r *Registry) Len(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[eventType])
}

// EventTypes returns the sorted event types with at least one subscription.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.subs))
	for t := range r.subs {
		types = append(types, t)
	}
	r.mu.RUnlock()

	sort.Strings(types)
	return types
}

func (r *Registry) notify(eventType string, count int) {
	if r.observer != nil {
		r.observer(eventType, count)
	}
}
