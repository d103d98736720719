package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/validator"
)

// Dispatcher delivers published events to the subscriptions of their type.
// Every subscription runs on its own goroutine; Publish returns as soon as the
// handlers are scheduled.
type Dispatcher struct {
	registry pubsub.Registry
	logger   *zap.Logger
	timeout  time.Duration

	// ctx is cancelled with ErrDispatcherClosed when Close stops waiting.
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithHandlerTimeout bounds handlers of subscriptions without their own
// timeout. Zero disables the default bound.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout >= 0 {
			d.timeout = timeout
		}
	}
}

func NewDispatcher(registry pubsub.Registry, opts ...Option) (*Dispatcher, error) {
	d := Dispatcher{
		registry: registry,
		logger:   zap.NewNop(),
	}

	if err := validator.Validate("dispatcher", d.registry); err != nil {
		return nil, fmt.Errorf("failed to validate dispatcher deps: %w", err)
	}

	for _, opt := range opts {
		opt(&d)
	}
	d.logger = d.logger.Named("dispatcher")
	d.ctx, d.cancel = context.WithCancelCause(context.Background())

	return &d, nil
}

// Publish schedules event for every subscription of its type. An event type
// nobody subscribed to is dropped silently and yields a complete report with
// nothing attempted. Only an invalid event or a closed dispatcher is an error.
func (d *Dispatcher) Publish(ctx context.Context, event pubsub.Event) (*pubsub.Report, error) {
	if !event.Valid() {
		return nil, pubsub.ErrInvalidEvent
	}

	// held until every task is registered with wg so Close cannot miss one
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, pubsub.ErrDispatcherClosed
	}

	subs := d.registry.SubscribersFor(event.Type())
	report := pubsub.NewReport(event.Type(), len(subs))

	logger := d.logger.With(zap.String("eventType", event.Type()))
	if len(subs) == 0 {
		logger.Debug("no subscribers, dropping event")
		return report, nil
	}

	// handlers outlive the publish call, so they keep ctx values only
	base := context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, sub := range subs {
		d.inFlight.Add(1)
		g.Go(func() error {
			outcome := d.deliver(base, logger, sub, event)
			d.inFlight.Add(-1)
			report.Record(outcome)
			return nil
		})
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = g.Wait()

		outcomes := report.Outcomes()
		logger.Debug("publish complete",
			zap.Int("succeeded", outcomes.Succeeded()),
			zap.Int("failed", outcomes.Failed()),
		)
	}()

	logger.Debug("scheduled handlers", zap.Int("count", len(subs)))

	return report, nil
}

// deliver runs one handler and turns whatever happens into an Outcome.
func (d *Dispatcher) deliver(ctx context.Context, logger *zap.Logger, sub pubsub.Subscription, event pubsub.Event) pubsub.Outcome {
	start := time.Now()
	name := sub.Name()
	logger = logger.With(zap.String("subscriber", name), zap.String("subscriptionId", sub.ID))

	ctx, cancel := d.handlerContext(ctx, sub)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.invoke(ctx, logger, sub, event)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = &pubsub.HandlerError{Kind: contextKind(ctx), Err: context.Cause(ctx)}
	}

	outcome := pubsub.Outcome{
		SubscriptionID: sub.ID,
		Subscriber:     name,
		EventType:      event.Type(),
		Duration:       time.Since(start),
	}

	if err != nil {
		var handlerErr *pubsub.HandlerError
		if !errors.As(err, &handlerErr) {
			kind := pubsub.HandlerFailed
			if ctx.Err() != nil && (errors.Is(err, ctx.Err()) || errors.Is(err, context.Cause(ctx))) {
				kind = contextKind(ctx)
			}
			handlerErr = &pubsub.HandlerError{Kind: kind, Err: err}
		}
		handlerErr.SubscriptionID = sub.ID
		handlerErr.Subscriber = name
		handlerErr.EventType = event.Type()
		outcome.Err = handlerErr

		logger.Warn("handler failed",
			zap.Stringer("kind", handlerErr.Kind),
			zap.Duration("duration", outcome.Duration),
			zap.Error(handlerErr.Err),
		)
		return outcome
	}

	logger.Debug("handler succeeded", zap.Duration("duration", outcome.Duration))
	return outcome
}

// contextKind tells a handler timeout from a cancellation by Close.
func contextKind(ctx context.Context) pubsub.HandlerErrorKind {
	if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		return pubsub.HandlerTimedOut
	}
	return pubsub.HandlerCancelled
}

// invoke calls Handle, converting a panic into a HandlerError.
func (d *Dispatcher) invoke(ctx context.Context, logger *zap.Logger, sub pubsub.Subscription, event pubsub.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", zap.Any("panic", r), zap.StackSkip("stack", 1))
			err = &pubsub.HandlerError{Kind: pubsub.HandlerPanicked, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	return sub.Subscriber.Handle(ctx, event)
}

// handlerContext derives the context of one handler: cancelled on its timeout
// or when Close gives up on in-flight work.
func (d *Dispatcher) handlerContext(ctx context.Context, sub pubsub.Subscription) (context.Context, context.CancelFunc) {
	ctx, cancelCause := context.WithCancelCause(ctx)
	stop := context.AfterFunc(d.ctx, func() {
		cancelCause(context.Cause(d.ctx))
	})

	cancel := func() {
		stop()
		cancelCause(context.Canceled)
	}

	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	if timeout <= 0 {
		return ctx, cancel
	}

	tctx, tcancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		tcancel()
		cancel()
	}
}

// InFlight returns the number of handlers that have not finished yet.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Close stops accepting events and waits for in-flight handlers. If ctx ends
// first, the remaining handlers are cancelled with ErrDispatcherClosed and
// recorded as such, and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.logger.Info("closing dispatcher", zap.Int("inFlight", d.InFlight()))

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel(pubsub.ErrDispatcherClosed)
		d.logger.Info("dispatcher closed")
		return nil
	case <-ctx.Done():
		d.cancel(pubsub.ErrDispatcherClosed)
		<-done
		d.logger.Warn("dispatcher closed with cancelled handlers", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
