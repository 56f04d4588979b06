// Package dispatch provides the collaborator interfaces action steps perform
// their external effects through, plus the idempotency guard that makes each
// effect safe to attempt twice for the same enrollment and node.
package dispatch

import (
	"context"
	"time"
)

// Delivery is one outbound notification. IdempotencyKey is derived from
// enrollment id + node id so redelivered invocations do not duplicate the
// send.
type Delivery struct {
	To             string
	Subject        string
	Body           string
	IdempotencyKey string
}

// Notifier sends a notification over one channel (email, whatsapp).
type Notifier interface {
	Send(ctx context.Context, delivery Delivery) error
}

// WebhookRequest is one outbound HTTP call performed by a webhook step.
type WebhookRequest struct {
	URL            string
	Method         string
	Headers        map[string]string
	Body           string
	Timeout        time.Duration
	IdempotencyKey string
}

// WebhookResponse carries the status and body of a webhook call back into the
// enrollment context.
type WebhookResponse struct {
	StatusCode int
	Body       string
}

// WebhookDispatcher performs bounded outbound HTTP calls.
type WebhookDispatcher interface {
	Call(ctx context.Context, req WebhookRequest) (*WebhookResponse, error)
}

// IdempotencyStore reserves effect keys. Reserve returns true exactly once
// per key within the TTL; a false return means the effect already ran.
// Release frees a key whose effect failed so a retry is not deduped against
// an attempt that never happened.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
