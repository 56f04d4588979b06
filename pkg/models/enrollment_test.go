package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeEnrollment() *Enrollment {
	now := time.Now().UTC()

	return &Enrollment{
		ID:             "enr-1",
		WorkflowID:     "wf-1",
		TargetType:     EntityTypeDeal,
		TargetID:       "deal-1",
		Status:         EnrollmentStatusActive,
		CurrentNodeID:  "email",
		VisitedNodes:   []string{"start"},
		StartedAt:      now,
		LastExecutedAt: now,
		Version:        1,
	}
}

func TestEnrollment_WaitingCarriesDeadline(t *testing.T) {
	e := activeEnrollment()
	until := time.Now().UTC().Add(time.Hour)

	require.NoError(t, e.MarkWaiting(until))
	assert.Equal(t, EnrollmentStatusWaiting, e.Status)
	require.NotNil(t, e.NextExecutionAt)
	assert.Equal(t, until, *e.NextExecutionAt)

	require.NoError(t, e.MarkActive(time.Now().UTC()))
	assert.Equal(t, EnrollmentStatusActive, e.Status)
	assert.Nil(t, e.NextExecutionAt)
}

func TestEnrollment_TerminalStatesAreFinal(t *testing.T) {
	now := time.Now().UTC()

	completed := activeEnrollment()
	require.NoError(t, completed.MarkCompleted(now))
	assert.ErrorIs(t, completed.MarkWaiting(now.Add(time.Hour)), ErrInvalidTransition)
	assert.ErrorIs(t, completed.MarkActive(now), ErrInvalidTransition)
	assert.ErrorIs(t, completed.MarkFailed(now), ErrInvalidTransition)

	failed := activeEnrollment()
	require.NoError(t, failed.MarkFailed(now))
	assert.ErrorIs(t, failed.MarkCompleted(now), ErrInvalidTransition)
	assert.True(t, failed.IsTerminal())
}

func TestEnrollment_IllegalTransitions(t *testing.T) {
	now := time.Now().UTC()

	e := activeEnrollment()
	assert.ErrorIs(t, e.MarkActive(now), ErrInvalidTransition)

	require.NoError(t, e.MarkWaiting(now.Add(time.Minute)))
	assert.ErrorIs(t, e.MarkCompleted(now), ErrInvalidTransition)
	assert.ErrorIs(t, e.MarkFailed(now), ErrInvalidTransition)
}

func TestEnrollment_RecordAppendsInOrder(t *testing.T) {
	e := activeEnrollment()
	now := time.Now().UTC()

	e.Record("email", ExecutionResultSuccess, "sent", now)
	e.Record("log", ExecutionResultFailure, "boom", now.Add(time.Second))

	require.Len(t, e.ExecutionPath, 2)
	assert.Equal(t, "email", e.ExecutionPath[0].NodeID)
	assert.Equal(t, ExecutionResultSuccess, e.ExecutionPath[0].Result)
	assert.Equal(t, "log", e.ExecutionPath[1].NodeID)
	assert.Equal(t, "boom", e.ExecutionPath[1].Detail)
}

func TestEntityEvent_Validate(t *testing.T) {
	created := &EntityEvent{
		ID:         "evt-1",
		Type:       EntityEventCreated,
		EntityType: EntityTypeContact,
		EntityID:   "c-1",
		After:      map[string]any{"email": "a@b.com"},
	}
	assert.NoError(t, created.Validate())
	assert.True(t, created.IsCreation())

	created.Before = map[string]any{}
	assert.ErrorIs(t, created.Validate(), ErrEventCreatedBefore)

	updated := &EntityEvent{
		ID:         "evt-2",
		Type:       EntityEventUpdated,
		EntityType: EntityTypeDeal,
		EntityID:   "d-1",
		After:      map[string]any{"stage": "won"},
	}
	assert.ErrorIs(t, updated.Validate(), ErrEventUpdatedNoBefore)

	updated.Before = map[string]any{"stage": "negotiation"}
	assert.NoError(t, updated.Validate())
}

func TestEntityEvent_FieldChangedStages(t *testing.T) {
	event := &EntityEvent{
		Before: map[string]any{"stage": "negotiation", "amount": 100.0},
		After:  map[string]any{"stage": "won", "amount": 100.0},
	}

	assert.True(t, event.FieldChanged("stage"))
	assert.False(t, event.FieldChanged("amount"))
	assert.False(t, event.FieldChanged("missing"))

	creation := &EntityEvent{After: map[string]any{"stage": "new"}}
	assert.True(t, creation.FieldChanged("stage"))
}

func TestRoundRobinState_AdvanceWrapsAround(t *testing.T) {
	state := &RoundRobinState{
		TeamID:     "team-1",
		PlannerIDs: []string{"alice", "bob", "carol"},
	}

	order := make([]string, 0, 4)

	for range 4 {
		assignee, err := state.Next()
		require.NoError(t, err)

		state.Advance(assignee, time.Now().UTC())
		order = append(order, assignee)
	}

	assert.Equal(t, []string{"alice", "bob", "carol", "alice"}, order)
	assert.Equal(t, "alice", state.LastAssignedTo)
}

func TestRoundRobinState_NoEligiblePlanners(t *testing.T) {
	state := &RoundRobinState{TeamID: "team-1"}

	_, err := state.Next()
	assert.ErrorIs(t, err, ErrNoEligiblePlanners)
}
