// Package main provides the cadence listener service, which consumes entity
// change events and turns them into enrollments.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cadencehq/cadence/pkg/eventbus"
	"github.com/cadencehq/cadence/pkg/events"
	"github.com/cadencehq/cadence/pkg/workflow"
)

type Listener struct {
	id       string
	engine   *workflow.Engine
	eventBus eventbus.EventBus
	logger   *slog.Logger
}

func NewListener(id string, engine *workflow.Engine, eventBus eventbus.EventBus, logger *slog.Logger) *Listener {
	return &Listener{
		id:       id,
		engine:   engine,
		eventBus: eventBus,
		logger:   logger.With("listener_id", id),
	}
}

// Start subscribes to the entity event topic and blocks until SIGINT or
// SIGTERM.
func (l *Listener) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := l.eventBus.Handle(events.EntityChangedEvent, l.handleEntityChanged); err != nil {
		return err
	}

	if err := l.eventBus.Subscribe(ctx, events.EntityTopic); err != nil {
		return err
	}

	l.logger.InfoContext(ctx, "Listener started", "topic", events.EntityTopic)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	l.logger.Info("Shutting down listener...")
	cancel()

	return nil
}

// handleEntityChanged runs one event through the engine. Errors are returned
// so the bus nacks and redelivers; the enrollment dedup absorbs the retry.
func (l *Listener) handleEntityChanged(ctx context.Context, event any) error {
	changed, ok := event.(*events.EntityChanged)
	if !ok {
		l.logger.Error("Invalid event type for EntityChanged")

		return nil
	}

	l.logger.InfoContext(ctx, "Processing entity change",
		"event_id", changed.Event.ID,
		"entity_type", changed.Event.EntityType,
		"entity_id", changed.Event.EntityID)

	return l.engine.HandleEntityEvent(ctx, &changed.Event)
}
