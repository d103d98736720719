package pubsub

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"
)

// Outcome is the result of one subscription handling one event.
type Outcome struct {
	SubscriptionID string
	Subscriber     string
	EventType      string
	// Err is nil on success, otherwise a *HandlerError.
	Err      error
	Duration time.Duration
}

// OK reports whether the handler succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Outcomes maps subscription IDs to their outcome for one publish call.
type Outcomes map[string]Outcome

// Succeeded counts successful outcomes.
func (o Outcomes) Succeeded() int {
	var n int
	for _, out := range o {
		if out.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts failed outcomes.
func (o Outcomes) Failed() int {
	return len(o) - o.Succeeded()
}

// Err joins every handler error, or returns nil if all succeeded.
func (o Outcomes) Err() error {
	var errs []error
	for _, out := range o {
		if out.Err != nil {
			errs = append(errs, out.Err)
		}
	}
	return errors.Join(errs...)
}

// Report describes one publish call. Publish returns it immediately; callers
// that need delivery results wait on Done or Wait.
type Report struct {
	EventType string
	// Attempted is the number of handler invocations scheduled.
	Attempted int

	done     chan struct{}
	mu       sync.Mutex
	outcomes Outcomes
}

// NewReport creates a report expecting attempted outcomes. A report with
// nothing attempted is complete on creation.
func NewReport(eventType string, attempted int) *Report {
	r := &Report{
		EventType: eventType,
		Attempted: attempted,
		done:      make(chan struct{}),
		outcomes:  make(Outcomes, max(attempted, 0)),
	}
	if attempted <= 0 {
		close(r.done)
	}
	return r
}

// Record stores the outcome of one scheduled handler. The report completes
// once Attempted outcomes are recorded; extra records are ignored.
func (r *Report) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.outcomes) >= r.Attempted {
		return
	}
	r.outcomes[o.SubscriptionID] = o
	if len(r.outcomes) == r.Attempted {
		close(r.done)
	}
}

// Done is closed when every scheduled handler has finished.
func (r *Report) Done() <-chan struct{} {
	return r.done
}

// Outcomes returns a snapshot of the outcomes recorded so far.
func (r *Report) Outcomes() Outcomes {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.outcomes)
}

// Wait blocks until the report completes or ctx is done. On ctx expiry it
// returns the partial outcomes together with ctx.Err().
func (r *Report) Wait(ctx context.Context) (Outcomes, error) {
	select {
	case <-r.done:
		return r.Outcomes(), nil
	case <-ctx.Done():
		return r.Outcomes(), ctx.Err()
	}
}
