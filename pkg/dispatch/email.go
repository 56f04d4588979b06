package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/resend/resend-go/v2"
)

// EmailNotifier sends transactional email through Resend. Duplicate
// deliveries are suppressed via the shared idempotency store before the
// provider is called.
type EmailNotifier struct {
	client      *resend.Client
	from        string
	idempotency IdempotencyStore
	logger      *slog.Logger
}

// NewEmailNotifier creates an email notifier. from is the sender address
// stamped on every delivery.
func NewEmailNotifier(apiKey, from string, idempotency IdempotencyStore, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		client:      resend.NewClient(apiKey),
		from:        from,
		idempotency: idempotency,
		logger:      logger.With("module", "email_notifier"),
	}
}

// Send dispatches one email, skipping silently when the idempotency key was
// already used.
func (n *EmailNotifier) Send(ctx context.Context, delivery Delivery) error {
	if delivery.IdempotencyKey != "" {
		fresh, err := n.idempotency.Reserve(ctx, delivery.IdempotencyKey, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to check email idempotency: %w", err)
		}

		if !fresh {
			n.logger.InfoContext(ctx, "Skipping duplicate email delivery", "key", delivery.IdempotencyKey)

			return nil
		}
	}

	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{delivery.To},
		Subject: delivery.Subject,
		Html:    delivery.Body,
	}

	sent, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		if delivery.IdempotencyKey != "" {
			// Nothing was sent; free the key so a retry goes out.
			releaseReservation(ctx, n.idempotency, delivery.IdempotencyKey, n.logger)
		}

		return fmt.Errorf("failed to send email to %s: %w", delivery.To, err)
	}

	n.logger.DebugContext(ctx, "Email dispatched", "to", delivery.To, "provider_id", sent.Id)

	return nil
}
