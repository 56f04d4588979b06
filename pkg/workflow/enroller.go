package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/pkg/dispatch"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// enrollDedupTTL bounds how long an event id blocks re-enrollment into the
// same workflow. Event redelivery happens within seconds; a day is generous.
const enrollDedupTTL = 24 * time.Hour

// Enroller turns trigger matches into persisted enrollments. The whole batch
// for one event commits atomically, and an idempotency reservation per
// (event, workflow) pair keeps at-least-once event delivery from enrolling
// the same entity twice.
type Enroller struct {
	enrollments persistence.EnrollmentRepository
	idempotency dispatch.IdempotencyStore
	logger      *slog.Logger
}

// NewEnroller creates an enroller over the enrollment store.
func NewEnroller(enrollments persistence.EnrollmentRepository, idempotency dispatch.IdempotencyStore, logger *slog.Logger) *Enroller {
	return &Enroller{
		enrollments: enrollments,
		idempotency: idempotency,
		logger:      logger.With("module", "enroller"),
	}
}

// Enroll creates one enrollment per match and commits them in a single atomic
// batch. Matches already seen for this event id are skipped. The returned
// slice holds only the enrollments actually created.
func (e *Enroller) Enroll(ctx context.Context, event *models.EntityEvent, matches []Match) ([]*models.Enrollment, error) {
	now := time.Now().UTC()
	enrollments := make([]*models.Enrollment, 0, len(matches))
	reserved := make([]string, 0, len(matches))

	for _, match := range matches {
		key := fmt.Sprintf("enroll:%s:%s", event.ID, match.Workflow.ID)

		fresh, err := e.idempotency.Reserve(ctx, key, enrollDedupTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve enrollment key %s: %w", key, err)
		}

		if !fresh {
			e.logger.InfoContext(ctx, "Skipping duplicate enrollment",
				"event_id", event.ID, "workflow_id", match.Workflow.ID)

			continue
		}

		reserved = append(reserved, key)

		enrollment, err := NewEnrollment(match.Workflow, event, now)
		if err != nil {
			e.logger.WarnContext(ctx, "Skipping workflow that cannot enroll",
				"workflow_id", match.Workflow.ID, "error", err)

			continue
		}

		enrollments = append(enrollments, enrollment)
	}

	if len(enrollments) == 0 {
		return enrollments, nil
	}

	if err := e.enrollments.CreateBatch(ctx, enrollments); err != nil {
		// Nothing committed; free the reservations so event redelivery can
		// enroll instead of being deduped against a batch that never landed.
		for _, key := range reserved {
			if relErr := e.idempotency.Release(ctx, key); relErr != nil {
				e.logger.WarnContext(ctx, "Failed to release enrollment key", "key", key, "error", relErr)
			}
		}

		return nil, fmt.Errorf("failed to persist enrollment batch for event %s: %w", event.ID, err)
	}

	e.logger.InfoContext(ctx, "Enrollments created",
		"event_id", event.ID, "count", len(enrollments))

	return enrollments, nil
}

// NewEnrollment builds the initial enrollment state for one workflow and
// event: cursor on the first node after the trigger, the trigger node already
// visited and recorded in the execution path. A workflow whose trigger has no
// successor produces an enrollment that is born completed.
func NewEnrollment(def *models.WorkflowDefinition, event *models.EntityEvent, now time.Time) (*models.Enrollment, error) {
	start, err := def.StartNode()
	if err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{
		ID:             uuid.New().String(),
		WorkflowID:     def.ID,
		TargetType:     event.EntityType,
		TargetID:       event.EntityID,
		Status:         models.EnrollmentStatusActive,
		CurrentNodeID:  start.ID,
		VisitedNodes:   []string{start.ID},
		Context: map[string]any{
			"trigger_type": string(def.Trigger.Type),
			"triggered_at": event.OccurredAt.UTC().Format(time.RFC3339),
		},
		StartedAt:      now,
		LastExecutedAt: now,
		Version:        1,
	}
	enrollment.Record(start.ID, models.ExecutionResultSuccess, "enrolled by trigger", now)

	if start.NextID == nil {
		enrollment.Status = models.EnrollmentStatusCompleted

		return enrollment, nil
	}

	enrollment.CurrentNodeID = *start.NextID

	return enrollment, nil
}
