package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WhatsAppNotifier delivers messages through an HTTP gateway (the business
// messaging provider's REST API).
type WhatsAppNotifier struct {
	gatewayURL  string
	token       string
	client      *http.Client
	idempotency IdempotencyStore
	logger      *slog.Logger
}

// NewWhatsAppNotifier creates a WhatsApp notifier against the given gateway.
func NewWhatsAppNotifier(gatewayURL, token string, idempotency IdempotencyStore, logger *slog.Logger) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		gatewayURL:  gatewayURL,
		token:       token,
		client:      &http.Client{Timeout: 15 * time.Second},
		idempotency: idempotency,
		logger:      logger.With("module", "whatsapp_notifier"),
	}
}

// Send posts one message to the gateway, skipping duplicates by idempotency
// key.
func (n *WhatsAppNotifier) Send(ctx context.Context, delivery Delivery) error {
	if delivery.IdempotencyKey != "" {
		fresh, err := n.idempotency.Reserve(ctx, delivery.IdempotencyKey, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to check whatsapp idempotency: %w", err)
		}

		if !fresh {
			n.logger.InfoContext(ctx, "Skipping duplicate whatsapp delivery", "key", delivery.IdempotencyKey)

			return nil
		}
	}

	if err := n.deliver(ctx, delivery); err != nil {
		if delivery.IdempotencyKey != "" {
			// Nothing reached the gateway; free the key so a retry goes out.
			releaseReservation(ctx, n.idempotency, delivery.IdempotencyKey, n.logger)
		}

		return err
	}

	return nil
}

// deliver posts the message payload to the gateway.
func (n *WhatsAppNotifier) deliver(ctx context.Context, delivery Delivery) error {
	payload, err := json.Marshal(map[string]string{
		"to":   delivery.To,
		"body": delivery.Body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.gatewayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create whatsapp request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("whatsapp gateway returned status %d", resp.StatusCode)
	}

	n.logger.DebugContext(ctx, "WhatsApp message dispatched", "to", delivery.To)

	return nil
}
