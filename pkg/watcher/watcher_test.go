package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/dispatch"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/memory"
	"github.com/cadencehq/cadence/pkg/workflow"
)

func persistenceFilter(status models.EnrollmentStatus) persistence.EnrollmentFilter {
	return persistence.EnrollmentFilter{Status: &status}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func strPtr(s string) *string { return &s }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []dispatch.Delivery
}

func (r *recordingNotifier) Send(_ context.Context, delivery dispatch.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, delivery)

	return nil
}

func delayedEmailDefinition(id string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:     id,
		Name:   "Won Deal Follow Up",
		Status: models.WorkflowStatusActive,
		Trigger: models.TriggerSpec{
			Type:        models.TriggerFieldChanged,
			EntityType:  models.EntityTypeDeal,
			Field:       "stage",
			TargetValue: "won",
		},
		StartNodeID: "start",
		Nodes: map[string]*models.StepNode{
			"start": {ID: "start", Type: models.StepTypeTrigger, NextID: strPtr("wait")},
			"wait":  {ID: "wait", Type: models.StepTypeDelay, Config: map[string]any{"duration": "48h"}, NextID: strPtr("email")},
			"email": {ID: "email", Type: models.StepTypeSendEmail, Config: map[string]any{"subject": "Congrats", "body": "Well done"}},
		},
	}
}

// seedWaiting stores one waiting enrollment parked on the given node with a
// deadline already in the past.
func seedWaiting(t *testing.T, p *memory.Persistence, workflowID, nodeID string, n int) []*models.Enrollment {
	t.Helper()

	now := time.Now().UTC()
	enrollments := make([]*models.Enrollment, 0, n)

	for i := range n {
		due := now.Add(-time.Duration(n-i) * time.Minute)
		enrollments = append(enrollments, &models.Enrollment{
			ID:              fmt.Sprintf("enr-%d", i),
			WorkflowID:      workflowID,
			TargetType:      models.EntityTypeDeal,
			TargetID:        "deal-1",
			Status:          models.EnrollmentStatusWaiting,
			CurrentNodeID:   nodeID,
			VisitedNodes:    []string{"start"},
			NextExecutionAt: &due,
			StartedAt:       now.Add(-time.Hour),
			LastExecutedAt:  now.Add(-time.Hour),
		})
	}

	require.NoError(t, p.Enrollments().CreateBatch(context.Background(), enrollments))

	return enrollments
}

func TestWatcher_SweepAdvancesPastDelayNode(t *testing.T) {
	p := memory.NewPersistence()
	def := delayedEmailDefinition("wf-1")
	require.NoError(t, p.Definitions().SaveDefinition(context.Background(), def))

	seedWaiting(t, p, "wf-1", "wait", 1)

	w := NewWatcher(p, nil, "", testLogger())

	result, err := w.Sweep(context.Background(), DefaultSweepLimit)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReactivatedCount)

	stored, err := p.Enrollments().EnrollmentByID(context.Background(), "enr-0")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	assert.Nil(t, stored.NextExecutionAt)

	// The finished delay is behind the cursor now.
	assert.Equal(t, "email", stored.CurrentNodeID)
	assert.Contains(t, stored.VisitedNodes, "wait")
}

func TestWatcher_SweepKeepsCursorOnRetryWait(t *testing.T) {
	p := memory.NewPersistence()
	def := delayedEmailDefinition("wf-1")
	require.NoError(t, p.Definitions().SaveDefinition(context.Background(), def))

	// Parked on the email node itself, i.e. a failure backoff rather than a
	// finished delay.
	seedWaiting(t, p, "wf-1", "email", 1)

	w := NewWatcher(p, nil, "", testLogger())

	result, err := w.Sweep(context.Background(), DefaultSweepLimit)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReactivatedCount)

	stored, err := p.Enrollments().EnrollmentByID(context.Background(), "enr-0")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, stored.Status)
	assert.Equal(t, "email", stored.CurrentNodeID)
	assert.NotContains(t, stored.VisitedNodes, "email")
}

func TestWatcher_SweepHonorsLimitAndDrainsBacklog(t *testing.T) {
	p := memory.NewPersistence()
	def := delayedEmailDefinition("wf-1")
	require.NoError(t, p.Definitions().SaveDefinition(context.Background(), def))

	seedWaiting(t, p, "wf-1", "wait", DefaultSweepLimit+5)

	w := NewWatcher(p, nil, "", testLogger())
	ctx := context.Background()

	first, err := w.Sweep(ctx, DefaultSweepLimit)
	require.NoError(t, err)
	assert.Equal(t, DefaultSweepLimit, first.ReactivatedCount)

	second, err := w.Sweep(ctx, DefaultSweepLimit)
	require.NoError(t, err)
	assert.Equal(t, 5, second.ReactivatedCount)

	// Everything due is active now; a re-run reactivates nothing.
	third, err := w.Sweep(ctx, DefaultSweepLimit)
	require.NoError(t, err)
	assert.Zero(t, third.ReactivatedCount)
}

func TestWatcher_SweepSkipsFutureDeadlines(t *testing.T) {
	p := memory.NewPersistence()
	def := delayedEmailDefinition("wf-1")
	require.NoError(t, p.Definitions().SaveDefinition(context.Background(), def))

	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, p.Enrollments().CreateBatch(context.Background(), []*models.Enrollment{{
		ID:              "enr-future",
		WorkflowID:      "wf-1",
		TargetType:      models.EntityTypeDeal,
		TargetID:        "deal-1",
		Status:          models.EnrollmentStatusWaiting,
		CurrentNodeID:   "wait",
		NextExecutionAt: &future,
	}}))

	w := NewWatcher(p, nil, "", testLogger())

	result, err := w.Sweep(context.Background(), DefaultSweepLimit)
	require.NoError(t, err)
	assert.Zero(t, result.ReactivatedCount)
}

func TestWatcher_SweepSkipsEnrollmentsWithMissingDefinitions(t *testing.T) {
	p := memory.NewPersistence()
	seedWaiting(t, p, "wf-gone", "wait", 1)

	w := NewWatcher(p, nil, "", testLogger())

	result, err := w.Sweep(context.Background(), DefaultSweepLimit)
	require.NoError(t, err)
	assert.Zero(t, result.ReactivatedCount)

	// The enrollment is untouched, not failed: a later sweep may find the
	// definition restored.
	stored, err := p.Enrollments().EnrollmentByID(context.Background(), "enr-0")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWaiting, stored.Status)
}

// TestWatcher_WonDealDelayedEmailRoundTrip runs the full path: a stage change
// enrolls a deal, the delay parks it, the sweep resumes it, and the drain
// sends the follow-up email.
func TestWatcher_WonDealDelayedEmailRoundTrip(t *testing.T) {
	p := memory.NewPersistence()
	logger := testLogger()
	email := &recordingNotifier{}

	require.NoError(t, p.Definitions().SaveDefinition(context.Background(), delayedEmailDefinition("wf-won")))

	dispatchers := workflow.Dispatchers{
		Email:    email,
		WhatsApp: &recordingNotifier{},
		Webhooks: dispatch.NewHTTPWebhookDispatcher(dispatch.NewMemoryIdempotencyStore(), logger),
		Tasks:    dispatch.NewTaskSink(p.Entities(), logger),
		Assigner: dispatch.NewRoundRobinAssigner(p.RoundRobin(), logger),
	}
	engine := workflow.NewEngine(p, dispatchers, dispatch.NewMemoryIdempotencyStore(), nil, logger)

	ctx := context.Background()

	err := engine.HandleEntityEvent(ctx, &models.EntityEvent{
		ID:         "evt-won",
		Type:       models.EntityEventUpdated,
		EntityType: models.EntityTypeDeal,
		EntityID:   "deal-1",
		Before:     map[string]any{"stage": "negotiation", "email": "winner@example.com"},
		After:      map[string]any{"stage": "won", "email": "winner@example.com"},
		OccurredAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	waiting, err := p.Enrollments().ListEnrollments(ctx, persistenceFilter(models.EnrollmentStatusWaiting))
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "wait", waiting[0].CurrentNodeID)
	assert.Empty(t, email.sent)

	// 48 hours pass.
	past := time.Now().UTC().Add(-time.Minute)
	waiting[0].NextExecutionAt = &past
	require.NoError(t, p.Enrollments().UpdateEnrollment(ctx, waiting[0]))

	w := NewWatcher(p, engine.Executor(), "", logger)

	result, err := w.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReactivatedCount)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "winner@example.com", email.sent[0].To)

	stored, err := p.Enrollments().EnrollmentByID(ctx, waiting[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	assert.Equal(t, []string{"start", "wait", "email"}, stored.VisitedNodes)
}
