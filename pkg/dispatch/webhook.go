package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 30 * time.Second

// HTTPWebhookDispatcher performs webhook calls with a per-call timeout.
// Timeouts surface as errors so the executor treats them as step failures
// under the retry policy.
type HTTPWebhookDispatcher struct {
	client      *http.Client
	idempotency IdempotencyStore
	logger      *slog.Logger
}

// NewHTTPWebhookDispatcher creates a webhook dispatcher.
func NewHTTPWebhookDispatcher(idempotency IdempotencyStore, logger *slog.Logger) *HTTPWebhookDispatcher {
	return &HTTPWebhookDispatcher{
		client:      &http.Client{},
		idempotency: idempotency,
		logger:      logger.With("module", "webhook_dispatcher"),
	}
}

// Call performs one outbound HTTP request. A reserved idempotency key short-
// circuits redelivered calls with a synthetic 200.
func (d *HTTPWebhookDispatcher) Call(ctx context.Context, req WebhookRequest) (*WebhookResponse, error) {
	if req.IdempotencyKey != "" {
		fresh, err := d.idempotency.Reserve(ctx, req.IdempotencyKey, 24*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("failed to check webhook idempotency: %w", err)
		}

		if !fresh {
			d.logger.InfoContext(ctx, "Skipping duplicate webhook call", "key", req.IdempotencyKey)

			return &WebhookResponse{StatusCode: http.StatusOK, Body: ""}, nil
		}
	}

	resp, err := d.perform(ctx, req)
	if err != nil && req.IdempotencyKey != "" {
		// The call never took effect; free the key so a retry goes out.
		releaseReservation(ctx, d.idempotency, req.IdempotencyKey, d.logger)
	}

	return resp, err
}

// perform executes the HTTP call itself.
func (d *HTTPWebhookDispatcher) perform(ctx context.Context, req WebhookRequest) (*WebhookResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, method, req.URL, strings.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	if httpReq.Header.Get("Content-Type") == "" && req.Body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook call to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("webhook %s returned status %d", req.URL, resp.StatusCode)
	}

	d.logger.DebugContext(ctx, "Webhook dispatched", "url", req.URL, "status", resp.StatusCode)

	return &WebhookResponse{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
