package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/registry"
)

type named struct {
	name string
	fn   func(ctx context.Context, event pubsub.Event) error
}

func (n *named) Name() string { return n.name }

func (n *named) Handle(ctx context.Context, event pubsub.Event) error { return n.fn(ctx, event) }

func ok(name string) *named {
	return &named{name: name, fn: func(context.Context, pubsub.Event) error { return nil }}
}

type payloadRecorder struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (r *payloadRecorder) Handle(_ context.Context, event pubsub.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, event.Payload())
	return nil
}

func (r *payloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

var fileChanged = pubsub.MustEvent("file_changed", map[string]any{
	"file_name": "sample.txt",
	"action":    "updated",
})

func newDispatcher(t *testing.T, reg pubsub.Registry, opts ...Option) *Dispatcher {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	d, err := NewDispatcher(reg, opts...)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func subscribe(t *testing.T, reg *registry.Registry, eventType string, s pubsub.Subscriber, opts ...registry.SubscribeOption) pubsub.Subscription {
	t.Helper()
	sub, err := reg.Subscribe(eventType, s, opts...)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	return sub
}

func wait(t *testing.T, report *pubsub.Report) pubsub.Outcomes {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcomes, err := report.Wait(ctx)
	if err != nil {
		t.Fatalf("report did not complete: %v", err)
	}
	return outcomes
}

func handlerError(t *testing.T, outcomes pubsub.Outcomes, id string) *pubsub.HandlerError {
	t.Helper()
	o, found := outcomes[id]
	if !found {
		t.Fatalf("no outcome for subscription %s", id)
	}
	var handlerErr *pubsub.HandlerError
	if !errors.As(o.Err, &handlerErr) {
		t.Fatalf("expected HandlerError for %s, got %v", o.Subscriber, o.Err)
	}
	return handlerErr
}

func TestNewDispatcherRequiresRegistry(t *testing.T) {
	if _, err := NewDispatcher(nil); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestPublishFanOut(t *testing.T) {
	reg := registry.NewRegistry()
	recorders := []*payloadRecorder{{}, {}, {}}
	for _, r := range recorders {
		subscribe(t, reg, "file_changed", r)
	}
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), fileChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Attempted != 3 {
		t.Fatalf("expected 3 attempted, got %d", report.Attempted)
	}

	outcomes := wait(t, report)
	if outcomes.Succeeded() != 3 || outcomes.Err() != nil {
		t.Fatalf("expected 3 successes, got %d (%v)", outcomes.Succeeded(), outcomes.Err())
	}
	for i, r := range recorders {
		if r.count() != 1 {
			t.Fatalf("subscriber %d: expected 1 invocation, got %d", i, r.count())
		}
		if r.payloads[0]["file_name"] != "sample.txt" || r.payloads[0]["action"] != "updated" {
			t.Fatalf("subscriber %d: unexpected payload %v", i, r.payloads[0])
		}
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	reg := registry.NewRegistry()
	subscribe(t, reg, "file_changed", ok("logger"))
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), pubsub.MustEvent("disk_full", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Attempted != 0 {
		t.Fatalf("expected nothing attempted, got %d", report.Attempted)
	}
	select {
	case <-report.Done():
	default:
		t.Fatal("expected report to be complete")
	}
	if d.InFlight() != 0 {
		t.Fatalf("expected no handlers in flight, got %d", d.InFlight())
	}
}

func TestPublishIsolatesFailures(t *testing.T) {
	reg := registry.NewRegistry()
	boom := errors.New("boom")

	good := subscribe(t, reg, "file_changed", ok("good"))
	failing := subscribe(t, reg, "file_changed", &named{name: "failing", fn: func(context.Context, pubsub.Event) error {
		return boom
	}})
	panicking := subscribe(t, reg, "file_changed", &named{name: "panicking", fn: func(context.Context, pubsub.Event) error {
		panic("nil map write")
	}})
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), fileChanged)
	if err != nil {
		t.Fatalf("publish must not surface handler errors: %v", err)
	}

	outcomes := wait(t, report)
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[good.ID].OK() {
		t.Fatalf("expected good subscriber to succeed, got %v", outcomes[good.ID].Err)
	}

	failed := handlerError(t, outcomes, failing.ID)
	if failed.Kind != pubsub.HandlerFailed || !errors.Is(failed, boom) {
		t.Fatalf("expected failed kind wrapping boom, got %v", failed)
	}
	if failed.Subscriber != "failing" || failed.EventType != "file_changed" || failed.SubscriptionID != failing.ID {
		t.Fatalf("unexpected handler error fields %+v", failed)
	}

	panicked := handlerError(t, outcomes, panicking.ID)
	if panicked.Kind != pubsub.HandlerPanicked {
		t.Fatalf("expected panic kind, got %v", panicked.Kind)
	}

	if outcomes.Failed() != 2 {
		t.Fatalf("expected 2 failures, got %d", outcomes.Failed())
	}
}

func TestHandlerTimeout(t *testing.T) {
	reg := registry.NewRegistry()
	release := make(chan struct{})
	defer close(release)

	respectful := subscribe(t, reg, "file_changed", &named{name: "respectful", fn: func(ctx context.Context, _ pubsub.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	stubborn := subscribe(t, reg, "file_changed", &named{name: "stubborn", fn: func(context.Context, pubsub.Event) error {
		<-release
		return nil
	}})
	patient := subscribe(t, reg, "file_changed", &named{name: "patient", fn: func(context.Context, pubsub.Event) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}}, registry.WithTimeout(time.Second))

	d := newDispatcher(t, reg, WithHandlerTimeout(20*time.Millisecond))

	report, err := d.Publish(context.Background(), fileChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcomes := wait(t, report)

	for _, id := range []string{respectful.ID, stubborn.ID} {
		handlerErr := handlerError(t, outcomes, id)
		if handlerErr.Kind != pubsub.HandlerTimedOut || !pubsub.IsTimeout(handlerErr) {
			t.Fatalf("%s: expected timeout, got %v", handlerErr.Subscriber, handlerErr)
		}
	}
	if !outcomes[patient.ID].OK() {
		t.Fatalf("subscription timeout should override the default, got %v", outcomes[patient.ID].Err)
	}
}

func TestDuplicateSubscription(t *testing.T) {
	reg := registry.NewRegistry()
	r := &payloadRecorder{}
	first := subscribe(t, reg, "file_changed", r)
	second := subscribe(t, reg, "file_changed", r)
	if first.ID == second.ID {
		t.Fatal("expected distinct subscription IDs")
	}
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), fileChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcomes := wait(t, report)

	if r.count() != 2 {
		t.Fatalf("expected 2 invocations, got %d", r.count())
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
}

func TestConcurrentSubscribeDuringPublish(t *testing.T) {
	reg := registry.NewRegistry()
	d := newDispatcher(t, reg)

	var calls, attempted atomic.Int64
	counter := pubsub.SubscriberFunc(func(context.Context, pubsub.Event) error {
		calls.Add(1)
		return nil
	})

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := reg.Subscribe("file_changed", counter); err != nil {
				t.Errorf("subscribe %d: %v", i, err)
			}
		}()
		go func() {
			defer wg.Done()
			report, err := d.Publish(context.Background(), fileChanged)
			if err != nil {
				t.Errorf("publish %d: %v", i, err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := report.Wait(ctx); err != nil {
				t.Errorf("publish %d did not complete: %v", i, err)
			}
			attempted.Add(int64(report.Attempted))
		}()
	}
	wg.Wait()

	if got := reg.Len("file_changed"); got != n {
		t.Fatalf("expected %d subscriptions, got %d", n, got)
	}
	if calls.Load() != attempted.Load() {
		t.Fatalf("expected %d invocations, got %d", attempted.Load(), calls.Load())
	}
}

func TestPublishDetachedFromCaller(t *testing.T) {
	type key struct{}

	reg := registry.NewRegistry()
	started := make(chan struct{})
	proceed := make(chan struct{})
	var seen atomic.Value
	sub := subscribe(t, reg, "file_changed", &named{name: "slow", fn: func(ctx context.Context, _ pubsub.Event) error {
		close(started)
		<-proceed
		seen.Store(fmt.Sprint(ctx.Value(key{})))
		return ctx.Err()
	}})
	d := newDispatcher(t, reg)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "request-1"))
	report, err := d.Publish(ctx, fileChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started
	cancel()
	close(proceed)

	outcomes := wait(t, report)
	if !outcomes[sub.ID].OK() {
		t.Fatalf("cancelling the publish context must not cancel handlers, got %v", outcomes[sub.ID].Err)
	}
	if seen.Load() != "request-1" {
		t.Fatalf("expected context values to be kept, got %v", seen.Load())
	}
}

func TestCloseWaitsForHandlers(t *testing.T) {
	reg := registry.NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	subscribe(t, reg, "file_changed", &named{name: "slow", fn: func(context.Context, pubsub.Event) error {
		close(started)
		<-release
		return nil
	}})
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), fileChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started
	if d.InFlight() != 1 {
		t.Fatalf("expected 1 handler in flight, got %d", d.InFlight())
	}

	closed := make(chan error, 1)
	go func() { closed <- d.Close(context.Background()) }()

	select {
	case err := <-closed:
		t.Fatalf("close returned before handlers finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("unexpected close error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return")
	}

	if wait(t, report).Succeeded() != 1 {
		t.Fatal("expected the in-flight handler to succeed")
	}
	if d.InFlight() != 0 {
		t.Fatalf("expected no handlers in flight, got %d", d.InFlight())
	}
}

func TestCloseCancelsOnDeadline(t *testing.T) {
	reg := registry.NewRegistry()
	sub := subscribe(t, reg, "file_changed", &named{name: "blocked", fn: func(ctx context.Context, _ pubsub.Event) error {
		<-ctx.Done()
		return context.Cause(ctx)
	}})
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), fileChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded from close, got %v", err)
	}

	handlerErr := handlerError(t, wait(t, report), sub.ID)
	if handlerErr.Kind != pubsub.HandlerCancelled || !errors.Is(handlerErr, pubsub.ErrDispatcherClosed) {
		t.Fatalf("expected cancelled by close, got %v", handlerErr)
	}
}

func TestPublishAfterClose(t *testing.T) {
	reg := registry.NewRegistry()
	subscribe(t, reg, "file_changed", ok("logger"))
	d := newDispatcher(t, reg)

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := d.Publish(context.Background(), fileChanged); !errors.Is(err, pubsub.ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestPublishInvalidEvent(t *testing.T) {
	d := newDispatcher(t, registry.NewRegistry())

	if _, err := d.Publish(context.Background(), pubsub.Event{}); !errors.Is(err, pubsub.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestSubscriberFuncName(t *testing.T) {
	reg := registry.NewRegistry()
	sub := subscribe(t, reg, "file_changed", pubsub.SubscriberFunc(func(context.Context, pubsub.Event) error {
		return errors.New("unnamed")
	}))
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), fileChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := handlerError(t, wait(t, report), sub.ID).Subscriber; got != "pubsub.SubscriberFunc" {
		t.Fatalf("expected type name for unnamed subscriber, got %q", got)
	}
}
