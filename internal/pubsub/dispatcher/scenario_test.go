package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/registry"
	"etcwatch/internal/pubsub/subscriber"
)

type outbox struct {
	mu     sync.Mutex
	emails []subscriber.Email
}

func (o *outbox) Send(_ context.Context, email subscriber.Email) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails = append(o.emails, email)
	return nil
}

func (o *outbox) sent() []subscriber.Email {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]subscriber.Email(nil), o.emails...)
}

func TestFileChangedNotifiesByEmail(t *testing.T) {
	mail := &outbox{}
	notifier, err := subscriber.NewEmailNotifier(mail, "etcwatch@example.com", []string{"ops@example.com"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}

	reg := registry.NewRegistry()
	subscribe(t, reg, "file_changed", notifier)
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), fileChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcomes := wait(t, report)

	if report.Attempted != 1 || outcomes.Succeeded() != 1 {
		t.Fatalf("expected 1 successful delivery, got %d of %d", outcomes.Succeeded(), report.Attempted)
	}
	sent := mail.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sent))
	}
	if sent[0].Subject != "[etcwatch] file_changed" {
		t.Fatalf("unexpected subject %q", sent[0].Subject)
	}
}

func TestUnsubscribedEventIsDropped(t *testing.T) {
	reg := registry.NewRegistry()
	subscribe(t, reg, "file_changed", ok("logger"))
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), pubsub.MustEvent("disk_full", map[string]any{"mount": "/var"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Attempted != 0 || len(wait(t, report)) != 0 {
		t.Fatalf("expected nothing attempted, got %d", report.Attempted)
	}
}

func TestOneFailingSubscriberOfTwo(t *testing.T) {
	reg := registry.NewRegistry()
	audit := subscribe(t, reg, "user_login", ok("audit"))
	mailer := subscribe(t, reg, "user_login", &named{name: "mailer", fn: func(context.Context, pubsub.Event) error {
		return errors.New("mailbox unavailable")
	}})
	d := newDispatcher(t, reg)

	report, err := d.Publish(context.Background(), pubsub.MustEvent("user_login", map[string]any{"user": "alice"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outcomes := wait(t, report)

	if outcomes.Succeeded() != 1 || outcomes.Failed() != 1 {
		t.Fatalf("expected one success and one failure, got %d/%d", outcomes.Succeeded(), outcomes.Failed())
	}
	if !outcomes[audit.ID].OK() {
		t.Fatalf("expected audit to succeed, got %v", outcomes[audit.ID].Err)
	}
	handlerErr := handlerError(t, outcomes, mailer.ID)
	if handlerErr.Kind != pubsub.HandlerFailed || handlerErr.Subscriber != "mailer" {
		t.Fatalf("unexpected handler error %+v", handlerErr)
	}
}
