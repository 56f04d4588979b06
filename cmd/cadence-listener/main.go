package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/cadencehq/cadence/pkg/cmd"
	"github.com/cadencehq/cadence/pkg/log"
	"github.com/cadencehq/cadence/pkg/otelhelper"
	"github.com/cadencehq/cadence/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "cadence-listener",
		Usage:                 "Start the entity event listener service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listener-id",
				Aliases: []string{"id"},
				Usage:   "Custom listener ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("LISTENER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres:// or memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the shared idempotency store",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "resend-api-key",
				Usage:   "Resend API key for email steps",
				Sources: cli.EnvVars("RESEND_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "email-from",
				Usage:   "From address for email steps",
				Value:   "workflows@cadence.local",
				Sources: cli.EnvVars("EMAIL_FROM"),
			},
			&cli.StringFlag{
				Name:    "whatsapp-gateway-url",
				Usage:   "WhatsApp gateway base URL",
				Sources: cli.EnvVars("WHATSAPP_GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "whatsapp-token",
				Usage:   "WhatsApp gateway bearer token",
				Sources: cli.EnvVars("WHATSAPP_TOKEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			tracerProvider, err := otelhelper.InitTracer(ctx, "cadence-listener")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}
			defer func() {
				if err := tracerProvider.Shutdown(ctx); err != nil {
					slog.Error("Failed to shutdown tracer provider", "error", err)
				}
			}()

			listenerID := command.String("listener-id")
			if listenerID == "" {
				listenerID = fmt.Sprintf("listener-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("cadence-listener").With("listener_id", listenerID)
			logger.InfoContext(ctx, "Initializing Cadence Listener")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "cadence-listener", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			idempotency := cmd.NewIdempotencyStore(command.String("redis-url"), logger)
			dispatchers := cmd.NewDispatchers(persistence, cmd.DispatcherConfig{
				ResendAPIKey:       command.String("resend-api-key"),
				EmailFrom:          command.String("email-from"),
				WhatsAppGatewayURL: command.String("whatsapp-gateway-url"),
				WhatsAppToken:      command.String("whatsapp-token"),
				RedisURL:           command.String("redis-url"),
			}, idempotency, logger)

			engine := workflow.NewEngine(persistence, dispatchers, idempotency, eventBus, logger)
			listener := NewListener(listenerID, engine, eventBus, logger)

			return listener.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
