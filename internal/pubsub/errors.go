package pubsub

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidEvent is returned for events with an empty type, including the zero Event.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrDispatcherClosed is returned by Publish after Close, and is the cancellation
	// cause of handler contexts when Close stops waiting.
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrEmptyEventType is wrapped by RegistryError when subscribing to "".
	ErrEmptyEventType = errors.New("event type must not be empty")

	// ErrNilSubscriber is wrapped by RegistryError when subscribing a nil subscriber.
	ErrNilSubscriber = errors.New("subscriber must not be nil")
)

// ConfigurationError reports an unsupported component selection. It is raised
// at startup, before any dispatch happens.
type ConfigurationError struct {
	Key       string
	Value     string
	Supported []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unsupported %s %q (supported: %s)", e.Key, e.Value, strings.Join(e.Supported, ", "))
}

// RegistryError reports invalid registration input.
type RegistryError struct {
	EventType string
	Err       error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("failed to subscribe to event type %q: %v", e.EventType, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// HandlerErrorKind classifies how a handler failed.
type HandlerErrorKind int

const (
	// HandlerFailed means Handle returned an error.
	HandlerFailed HandlerErrorKind = iota
	// HandlerPanicked means Handle panicked; the panic was recovered.
	HandlerPanicked
	// HandlerTimedOut means Handle did not finish within its timeout.
	HandlerTimedOut
	// HandlerCancelled means the dispatcher gave up on Handle during shutdown.
	HandlerCancelled
)

func (k HandlerErrorKind) String() string {
	switch k {
	case HandlerFailed:
		return "failed"
	case HandlerPanicked:
		return "panic"
	case HandlerTimedOut:
		return "timeout"
	case HandlerCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("HandlerErrorKind(%d)", int(k))
	}
}

// HandlerError is the captured failure of one subscription handling one event.
type HandlerError struct {
	SubscriptionID string
	Subscriber     string
	EventType      string
	Kind           HandlerErrorKind
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("subscriber %s (%s) %s handling %q: %v", e.Subscriber, e.SubscriptionID, e.Kind, e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a HandlerError of kind HandlerTimedOut.
func IsTimeout(err error) bool {
	var he *HandlerError
	return errors.As(err, &he) && he.Kind == HandlerTimedOut
}
