package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/dispatch"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/memory"
)

func persistenceFilterAll() persistence.EnrollmentFilter {
	return persistence.EnrollmentFilter{}
}

func TestEnroller_CreatesOneEnrollmentPerMatch(t *testing.T) {
	p := memory.NewPersistence()
	enroller := NewEnroller(p.Enrollments(), dispatch.NewMemoryIdempotencyStore(), testLogger())

	defA := activeDefinition("wf-a", models.TriggerSpec{Type: models.TriggerEntityCreated, EntityType: models.EntityTypeDeal})
	defB := activeDefinition("wf-b", models.TriggerSpec{Type: models.TriggerEntityCreated, EntityType: models.EntityTypeDeal})

	event := dealUpdatedEvent(nil, map[string]any{"stage": "new"})
	matches := []Match{{Workflow: defA}, {Workflow: defB}}

	enrollments, err := enroller.Enroll(context.Background(), event, matches)
	require.NoError(t, err)
	require.Len(t, enrollments, 2)

	for _, e := range enrollments {
		assert.Equal(t, models.EnrollmentStatusActive, e.Status)
		assert.Equal(t, models.EntityTypeDeal, e.TargetType)
		assert.Equal(t, "deal-1", e.TargetID)
		assert.Equal(t, "log", e.CurrentNodeID)
		assert.Equal(t, []string{"start"}, e.VisitedNodes)
		require.Len(t, e.ExecutionPath, 1)
		assert.Equal(t, "start", e.ExecutionPath[0].NodeID)
	}
}

func TestEnroller_RedeliveredEventEnrollsOnce(t *testing.T) {
	p := memory.NewPersistence()
	enroller := NewEnroller(p.Enrollments(), dispatch.NewMemoryIdempotencyStore(), testLogger())

	def := activeDefinition("wf-a", models.TriggerSpec{Type: models.TriggerEntityCreated, EntityType: models.EntityTypeDeal})
	event := dealUpdatedEvent(nil, map[string]any{"stage": "new"})
	matches := []Match{{Workflow: def}}

	first, err := enroller.Enroll(context.Background(), event, matches)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The broker redelivers the same event id.
	second, err := enroller.Enroll(context.Background(), event, matches)
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := p.Enrollments().ListEnrollments(context.Background(), persistenceFilterAll())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEnroller_DistinctEventsEnrollSeparately(t *testing.T) {
	p := memory.NewPersistence()
	enroller := NewEnroller(p.Enrollments(), dispatch.NewMemoryIdempotencyStore(), testLogger())

	def := activeDefinition("wf-a", models.TriggerSpec{Type: models.TriggerFieldChanged, EntityType: models.EntityTypeDeal, Field: "stage"})

	won := dealUpdatedEvent(map[string]any{"stage": "new"}, map[string]any{"stage": "won"})
	lost := dealUpdatedEvent(map[string]any{"stage": "won"}, map[string]any{"stage": "lost"})
	lost.ID = "evt-2"

	_, err := enroller.Enroll(context.Background(), won, []Match{{Workflow: def}})
	require.NoError(t, err)

	_, err = enroller.Enroll(context.Background(), lost, []Match{{Workflow: def}})
	require.NoError(t, err)

	all, err := p.Enrollments().ListEnrollments(context.Background(), persistenceFilterAll())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNewEnrollment_TriggerWithoutSuccessorCompletesImmediately(t *testing.T) {
	def := activeDefinition("wf-empty", models.TriggerSpec{Type: models.TriggerEntityCreated, EntityType: models.EntityTypeDeal})
	def.Nodes = map[string]*models.StepNode{
		"start": {ID: "start", Type: models.StepTypeTrigger},
	}

	event := dealUpdatedEvent(nil, map[string]any{"stage": "new"})

	enrollment, err := NewEnrollment(def, event, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.Equal(t, []string{"start"}, enrollment.VisitedNodes)
}

// flakyEnrollmentRepo fails CreateBatch a fixed number of times before
// delegating, mimicking a store that drops a connection mid-write.
type flakyEnrollmentRepo struct {
	persistence.EnrollmentRepository
	failures int
}

func (r *flakyEnrollmentRepo) CreateBatch(ctx context.Context, enrollments []*models.Enrollment) error {
	if r.failures > 0 {
		r.failures--

		return errors.New("connection reset")
	}

	return r.EnrollmentRepository.CreateBatch(ctx, enrollments)
}

func TestEnroller_FailedBatchDoesNotPoisonRedelivery(t *testing.T) {
	p := memory.NewPersistence()
	repo := &flakyEnrollmentRepo{EnrollmentRepository: p.Enrollments(), failures: 1}
	enroller := NewEnroller(repo, dispatch.NewMemoryIdempotencyStore(), testLogger())

	def := activeDefinition("wf-a", models.TriggerSpec{Type: models.TriggerEntityCreated, EntityType: models.EntityTypeDeal})
	event := dealUpdatedEvent(nil, map[string]any{"stage": "new"})
	matches := []Match{{Workflow: def}}

	_, err := enroller.Enroll(context.Background(), event, matches)
	require.Error(t, err)

	// The listener nacks the event and the broker redelivers it. The retry
	// must enroll instead of being deduped against the failed batch.
	second, err := enroller.Enroll(context.Background(), event, matches)
	require.NoError(t, err)
	require.Len(t, second, 1)

	all, err := p.Enrollments().ListEnrollments(context.Background(), persistenceFilterAll())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
