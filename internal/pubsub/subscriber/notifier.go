package subscriber

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"etcwatch/internal/pubsub"
	"etcwatch/internal/validator"
)

// Email is a rendered notification.
type Email struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer delivers emails.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// EmailNotifier sends one email per event it handles.
type EmailNotifier struct {
	mailer Mailer
	from   string
	to     []string
	logger *zap.Logger
}

func NewEmailNotifier(mailer Mailer, from string, to []string, logger *zap.Logger) (*EmailNotifier, error) {
	n := EmailNotifier{
		mailer: mailer,
		from:   from,
		to:     slices.Clone(to),
		logger: logger,
	}

	if err := validator.Validate("email notifier", n.mailer, n.from, n.to, n.logger); err != nil {
		return nil, fmt.Errorf("failed to validate email notifier deps: %w", err)
	}
	if len(n.to) == 0 {
		return nil, fmt.Errorf("failed to validate email notifier deps: no recipients")
	}
	n.logger = n.logger.Named("email-notifier")

	return &n, nil
}

func (n *EmailNotifier) Name() string {
	return "email-notifier"
}

func (n *EmailNotifier) Handle(ctx context.Context, event pubsub.Event) error {
	email := n.Render(event)

	if err := n.mailer.Send(ctx, email); err != nil {
		return fmt.Errorf("failed to send email for %s event: %w", event.Type(), err)
	}

	n.logger.Debug("email sent",
		zap.String("eventType", event.Type()),
		zap.Strings("to", email.To),
	)
	return nil
}

// Render builds the email for event. Payload entries are listed in key order.
func (n *EmailNotifier) Render(event pubsub.Event) Email {
	payload := event.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var body strings.Builder
	fmt.Fprintf(&body, "A %s event was published.\r\n\r\n", event.Type())
	for _, k := range keys {
		fmt.Fprintf(&body, "%s: %v\r\n", k, payload[k])
	}

	return Email{
		From:    n.from,
		To:      slices.Clone(n.to),
		Subject: "[etcwatch] " + event.Type(),
		Body:    body.String(),
	}
}
