package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/memory"
)

func strPtr(s string) *string { return &s }

func draftDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name: "Won deal follow-up",
		Trigger: models.TriggerSpec{
			Type:        models.TriggerFieldChanged,
			EntityType:  models.EntityTypeDeal,
			Field:       "stage",
			TargetValue: "won",
		},
		StartNodeID: "start",
		Nodes: map[string]*models.StepNode{
			"start": {ID: "start", Type: models.StepTypeTrigger, NextID: strPtr("log")},
			"log":   {ID: "log", Type: models.StepTypeLogActivity, Config: map[string]any{"message": "won"}},
		},
	}
}

func TestWorkflow_CreateForcesDraftStatus(t *testing.T) {
	svc := NewWorkflow(memory.NewPersistence())

	def := draftDefinition()
	def.Status = models.WorkflowStatusActive

	created, err := svc.CreateWorkflow(context.Background(), def)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
}

func TestWorkflow_CreateAcceptsHalfBuiltGraph(t *testing.T) {
	svc := NewWorkflow(memory.NewPersistence())

	def := draftDefinition()
	def.Nodes["start"].NextID = strPtr("ghost")

	_, err := svc.CreateWorkflow(context.Background(), def)
	assert.NoError(t, err)
}

func TestWorkflow_ActivateValidatesGraph(t *testing.T) {
	svc := NewWorkflow(memory.NewPersistence())
	ctx := context.Background()

	def := draftDefinition()
	def.Nodes["start"].NextID = strPtr("ghost")

	created, err := svc.CreateWorkflow(ctx, def)
	require.NoError(t, err)

	_, err = svc.ActivateWorkflow(ctx, created.ID)
	require.ErrorIs(t, err, ErrInvalidGraph)
	assert.True(t, IsValidationError(err))
}

func TestWorkflow_ActivateValidatesStepConfigs(t *testing.T) {
	svc := NewWorkflow(memory.NewPersistence())
	ctx := context.Background()

	def := draftDefinition()
	def.Nodes["log"].Config = map[string]any{} // message is required

	created, err := svc.CreateWorkflow(ctx, def)
	require.NoError(t, err)

	_, err = svc.ActivateWorkflow(ctx, created.ID)
	assert.ErrorIs(t, err, ErrInvalidStepConfig)
}

func TestWorkflow_LifecycleRoundTrip(t *testing.T) {
	svc := NewWorkflow(memory.NewPersistence())
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, draftDefinition())
	require.NoError(t, err)

	activated, err := svc.ActivateWorkflow(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)

	paused, err := svc.PauseWorkflow(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, paused.Status)

	// Paused definitions may be edited and re-activated.
	update := draftDefinition()
	update.Name = "Won deal follow-up v2"

	updated, err := svc.UpdateWorkflow(ctx, created.ID, update)
	require.NoError(t, err)
	assert.Equal(t, "Won deal follow-up v2", updated.Name)

	reactivated, err := svc.ActivateWorkflow(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, reactivated.Status)
}

func TestWorkflow_UpdateActiveIsRejected(t *testing.T) {
	svc := NewWorkflow(memory.NewPersistence())
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, draftDefinition())
	require.NoError(t, err)

	_, err = svc.ActivateWorkflow(ctx, created.ID)
	require.NoError(t, err)

	_, err = svc.UpdateWorkflow(ctx, created.ID, draftDefinition())
	require.ErrorIs(t, err, ErrNotEditable)
	assert.True(t, IsConflictError(err))
}

func TestWorkflow_PauseDraftIsRejected(t *testing.T) {
	svc := NewWorkflow(memory.NewPersistence())
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, draftDefinition())
	require.NoError(t, err)

	_, err = svc.PauseWorkflow(ctx, created.ID)
	assert.ErrorIs(t, err, ErrInvalidLifecycle)
}

func TestWorkflow_ArchiveStopsListingButKeepsRecord(t *testing.T) {
	p := memory.NewPersistence()
	svc := NewWorkflow(p)
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, draftDefinition())
	require.NoError(t, err)

	require.NoError(t, svc.ArchiveWorkflow(ctx, created.ID))

	archived, err := svc.GetWorkflow(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusArchived, archived.Status)

	active := models.WorkflowStatusActive

	listed, err := svc.ListWorkflows(ctx, ListWorkflowsRequest{Status: &active})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestWorkflow_GetMissingMapsToNotFound(t *testing.T) {
	svc := NewWorkflow(memory.NewPersistence())

	_, err := svc.GetWorkflow(context.Background(), "missing")
	assert.True(t, persistence.IsNotFound(err))
}

func TestEnrollment_ListFiltersByWorkflowAndStatus(t *testing.T) {
	p := memory.NewPersistence()
	svc := NewEnrollment(p)
	ctx := context.Background()

	require.NoError(t, p.Enrollments().CreateBatch(ctx, []*models.Enrollment{
		{ID: "enr-1", WorkflowID: "wf-1", TargetType: models.EntityTypeDeal, TargetID: "deal-1", Status: models.EnrollmentStatusActive},
		{ID: "enr-2", WorkflowID: "wf-2", TargetType: models.EntityTypeDeal, TargetID: "deal-1", Status: models.EnrollmentStatusCompleted},
		{ID: "enr-3", WorkflowID: "wf-1", TargetType: models.EntityTypeContact, TargetID: "contact-1", Status: models.EnrollmentStatusCompleted},
	}))

	completed := models.EnrollmentStatusCompleted

	listed, err := svc.ListEnrollments(ctx, ListEnrollmentsRequest{WorkflowID: "wf-1", Status: &completed})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "enr-3", listed[0].ID)

	_, err = svc.GetEnrollment(ctx, "enr-2")
	assert.NoError(t, err)

	_, err = svc.GetEnrollment(ctx, "missing")
	assert.True(t, persistence.IsNotFound(err))
}
