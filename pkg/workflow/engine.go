package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadencehq/cadence/pkg/dispatch"
	"github.com/cadencehq/cadence/pkg/eventbus"
	"github.com/cadencehq/cadence/pkg/events"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/otelhelper"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// Engine is the event-facing entry point: one entity-change event in, zero or
// more enrollments matched, created, and advanced. The listener service and
// the HTTP event endpoint both funnel through it.
type Engine struct {
	persistence persistence.Persistence
	matcher     *Matcher
	enroller    *Enroller
	executor    *Executor
	bus         eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewEngine wires the matching, enrollment, and execution stages over shared
// stores. The event publisher may be nil.
func NewEngine(p persistence.Persistence, dispatchers Dispatchers, idempotency dispatch.IdempotencyStore, bus eventbus.EventPublisher, logger *slog.Logger) *Engine {
	return &Engine{
		persistence: p,
		matcher:     NewMatcher(logger),
		enroller:    NewEnroller(p.Enrollments(), idempotency, logger),
		executor:    NewExecutor(p, dispatchers, bus, logger),
		bus:         bus,
		tracer:      otelhelper.Tracer("cadence.engine"),
		logger:      logger.With("module", "engine"),
	}
}

// Executor exposes the engine's step executor for components that advance
// enrollments outside event handling, such as the watcher.
func (e *Engine) Executor() *Executor {
	return e.executor
}

// HandleEntityEvent runs the full ingestion path for one entity-change event:
// validate, match active workflows, enroll atomically, then advance the new
// enrollments until they park or finish. Redelivered events dedup inside the
// enroller, so the whole path tolerates at-least-once delivery.
func (e *Engine) HandleEntityEvent(ctx context.Context, event *models.EntityEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("rejecting malformed entity event: %w", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.handle_entity_event",
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.TargetTypeKey, string(event.EntityType)),
		attribute.String(otelhelper.TargetIDKey, event.EntityID),
	)
	defer span.End()

	// Materialize the event's after snapshot so action steps read current
	// entity state even when the record never passed through this API.
	// List membership is engine-owned state, not part of the snapshot, so a
	// stored record keeps its lists through the overwrite.
	snapshot := &models.Entity{
		ID:         event.EntityID,
		Type:       event.EntityType,
		Properties: event.After,
	}

	existing, err := e.persistence.Entities().EntityByID(ctx, event.EntityType, event.EntityID)
	switch {
	case err == nil:
		snapshot.Lists = existing.Lists
	case !persistence.IsNotFound(err):
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to load entity for snapshot: %w", err)
	}

	if err := e.persistence.Entities().SaveEntity(ctx, snapshot); err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to store entity snapshot: %w", err)
	}

	status := models.WorkflowStatusActive

	definitions, err := e.persistence.Definitions().Definitions(ctx, &status)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to list active workflows: %w", err)
	}

	matches := e.matcher.Match(event, definitions)
	if len(matches) == 0 {
		return nil
	}

	enrollments, err := e.enroller.Enroll(ctx, event, matches)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	span.SetAttributes(attribute.Int("cadence.enrollments.created", len(enrollments)))

	for _, enrollment := range enrollments {
		e.publishCreated(ctx, enrollment)

		if enrollment.IsTerminal() {
			continue
		}

		if err := e.executor.Advance(ctx, enrollment); err != nil {
			e.logger.ErrorContext(ctx, "Failed to advance fresh enrollment",
				"enrollment_id", enrollment.ID, "error", err)
		}
	}

	return nil
}

func (e *Engine) publishCreated(ctx context.Context, enrollment *models.Enrollment) {
	if e.bus == nil {
		return
	}

	created := events.EnrollmentCreated{
		BaseEvent:    events.NewBaseEvent(events.EnrollmentCreatedEvent),
		EnrollmentID: enrollment.ID,
		WorkflowID:   enrollment.WorkflowID,
		TargetType:   enrollment.TargetType,
		TargetID:     enrollment.TargetID,
	}

	if err := e.bus.Publish(ctx, events.Topic, enrollment.ID, created); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish enrollment created event",
			"enrollment_id", enrollment.ID, "error", err)
	}
}
