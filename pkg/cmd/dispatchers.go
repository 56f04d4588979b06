package cmd

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/cadencehq/cadence/pkg/dispatch"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/workflow"
)

// DispatcherConfig carries the transport settings for action steps.
type DispatcherConfig struct {
	ResendAPIKey       string
	EmailFrom          string
	WhatsAppGatewayURL string
	WhatsAppToken      string
	RedisURL           string
}

// NewIdempotencyStore returns a Redis-backed idempotency store when a URL is
// configured, falling back to the in-process store for single-instance runs.
func NewIdempotencyStore(redisURL string, logger *slog.Logger) dispatch.IdempotencyStore {
	if redisURL == "" {
		return dispatch.NewMemoryIdempotencyStore()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic("invalid redis URL: " + err.Error())
	}

	logger.Info("Using redis idempotency store")

	return dispatch.NewRedisIdempotencyStore(redis.NewClient(opts), "cadence:idem:")
}

// NewDispatchers wires the action-step collaborators over one shared
// idempotency store.
func NewDispatchers(p persistence.Persistence, config DispatcherConfig, idempotency dispatch.IdempotencyStore, logger *slog.Logger) workflow.Dispatchers {
	return workflow.Dispatchers{
		Email:    dispatch.NewEmailNotifier(config.ResendAPIKey, config.EmailFrom, idempotency, logger),
		WhatsApp: dispatch.NewWhatsAppNotifier(config.WhatsAppGatewayURL, config.WhatsAppToken, idempotency, logger),
		Webhooks: dispatch.NewHTTPWebhookDispatcher(idempotency, logger),
		Tasks:    dispatch.NewTaskSink(p.Entities(), logger),
		Assigner: dispatch.NewRoundRobinAssigner(p.RoundRobin(), logger),
	}
}
