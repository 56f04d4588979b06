package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// TaskSink creates tasks and activity-log entries attached to entities
// through the entity store. Activity ids embed the idempotency key when one
// is supplied, so the store's insert-if-absent makes redelivery harmless.
type TaskSink struct {
	entities persistence.EntityRepository
	logger   *slog.Logger
}

// NewTaskSink creates a store-backed task sink.
func NewTaskSink(entities persistence.EntityRepository, logger *slog.Logger) *TaskSink {
	return &TaskSink{
		entities: entities,
		logger:   logger.With("module", "task_sink"),
	}
}

// CreateTask attaches a task to an entity.
func (s *TaskSink) CreateTask(ctx context.Context, entityType models.EntityType, entityID, title, description string, dueAt *time.Time, idempotencyKey string) error {
	activity := &models.Activity{
		ID:          activityID(idempotencyKey),
		Kind:        models.ActivityKindTask,
		EntityType:  entityType,
		EntityID:    entityID,
		Title:       title,
		Description: description,
		DueAt:       dueAt,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.entities.AppendActivity(ctx, activity); err != nil {
		return fmt.Errorf("failed to create task for %s/%s: %w", entityType, entityID, err)
	}

	s.logger.DebugContext(ctx, "Task created", "entity_id", entityID, "title", title)

	return nil
}

// LogActivity appends a log entry to an entity's history.
func (s *TaskSink) LogActivity(ctx context.Context, entityType models.EntityType, entityID, message, idempotencyKey string) error {
	activity := &models.Activity{
		ID:         activityID(idempotencyKey),
		Kind:       models.ActivityKindLog,
		EntityType: entityType,
		EntityID:   entityID,
		Title:      message,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.entities.AppendActivity(ctx, activity); err != nil {
		return fmt.Errorf("failed to log activity for %s/%s: %w", entityType, entityID, err)
	}

	return nil
}

func activityID(idempotencyKey string) string {
	if idempotencyKey != "" {
		return "act-" + idempotencyKey
	}

	return "act-" + xid.New().String()
}
