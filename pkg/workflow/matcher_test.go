package workflow

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func strPtr(s string) *string { return &s }

func activeDefinition(id string, trigger models.TriggerSpec) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          id,
		Name:        "Definition " + id,
		Status:      models.WorkflowStatusActive,
		Trigger:     trigger,
		StartNodeID: "start",
		Nodes: map[string]*models.StepNode{
			"start": {ID: "start", Type: models.StepTypeTrigger, NextID: strPtr("log")},
			"log":   {ID: "log", Type: models.StepTypeLogActivity, Config: map[string]any{"message": "hi"}},
		},
	}
}

func dealUpdatedEvent(before, after map[string]any) *models.EntityEvent {
	eventType := models.EntityEventUpdated
	if before == nil {
		eventType = models.EntityEventCreated
	}

	return &models.EntityEvent{
		ID:         "evt-1",
		Type:       eventType,
		EntityType: models.EntityTypeDeal,
		EntityID:   "deal-1",
		Before:     before,
		After:      after,
		OccurredAt: time.Now().UTC(),
	}
}

func TestMatcher_EntityCreated(t *testing.T) {
	matcher := NewMatcher(testLogger())

	created := activeDefinition("wf-created", models.TriggerSpec{
		Type:       models.TriggerEntityCreated,
		EntityType: models.EntityTypeDeal,
	})
	updated := activeDefinition("wf-updated", models.TriggerSpec{
		Type:       models.TriggerEntityUpdated,
		EntityType: models.EntityTypeDeal,
	})

	event := dealUpdatedEvent(nil, map[string]any{"stage": "new"})

	matches := matcher.Match(event, []*models.WorkflowDefinition{created, updated})
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-created", matches[0].Workflow.ID)
}

func TestMatcher_EntityUpdatedExcludesCreations(t *testing.T) {
	matcher := NewMatcher(testLogger())

	updated := activeDefinition("wf-updated", models.TriggerSpec{
		Type:       models.TriggerEntityUpdated,
		EntityType: models.EntityTypeDeal,
	})

	event := dealUpdatedEvent(map[string]any{"stage": "new"}, map[string]any{"stage": "won"})
	assert.Len(t, matcher.Match(event, []*models.WorkflowDefinition{updated}), 1)

	creation := dealUpdatedEvent(nil, map[string]any{"stage": "new"})
	assert.Empty(t, matcher.Match(creation, []*models.WorkflowDefinition{updated}))
}

func TestMatcher_FieldChanged(t *testing.T) {
	matcher := NewMatcher(testLogger())

	anyChange := activeDefinition("wf-any", models.TriggerSpec{
		Type:       models.TriggerFieldChanged,
		EntityType: models.EntityTypeDeal,
		Field:      "stage",
	})
	wonOnly := activeDefinition("wf-won", models.TriggerSpec{
		Type:        models.TriggerFieldChanged,
		EntityType:  models.EntityTypeDeal,
		Field:       "stage",
		TargetValue: "won",
	})
	defs := []*models.WorkflowDefinition{anyChange, wonOnly}

	lost := dealUpdatedEvent(map[string]any{"stage": "negotiation"}, map[string]any{"stage": "lost"})
	matches := matcher.Match(lost, defs)
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-any", matches[0].Workflow.ID)

	won := dealUpdatedEvent(map[string]any{"stage": "negotiation"}, map[string]any{"stage": "won"})
	assert.Len(t, matcher.Match(won, defs), 2)

	unchanged := dealUpdatedEvent(map[string]any{"stage": "won", "amount": 1.0}, map[string]any{"stage": "won", "amount": 2.0})
	assert.Empty(t, matcher.Match(unchanged, defs))
}

func TestMatcher_EntityTypeMustMatch(t *testing.T) {
	matcher := NewMatcher(testLogger())

	contactFlow := activeDefinition("wf-contact", models.TriggerSpec{
		Type:       models.TriggerEntityCreated,
		EntityType: models.EntityTypeContact,
	})

	event := dealUpdatedEvent(nil, map[string]any{"stage": "new"})
	assert.Empty(t, matcher.Match(event, []*models.WorkflowDefinition{contactFlow}))
}

func TestMatcher_SkipsInactiveAndMalformed(t *testing.T) {
	matcher := NewMatcher(testLogger())

	paused := activeDefinition("wf-paused", models.TriggerSpec{
		Type:       models.TriggerEntityCreated,
		EntityType: models.EntityTypeDeal,
	})
	paused.Status = models.WorkflowStatusPaused

	malformed := activeDefinition("wf-broken", models.TriggerSpec{
		Type:       models.TriggerEntityCreated,
		EntityType: models.EntityTypeDeal,
	})
	malformed.StartNodeID = "missing"

	healthy := activeDefinition("wf-ok", models.TriggerSpec{
		Type:       models.TriggerEntityCreated,
		EntityType: models.EntityTypeDeal,
	})

	event := dealUpdatedEvent(nil, map[string]any{"stage": "new"})

	matches := matcher.Match(event, []*models.WorkflowDefinition{paused, malformed, healthy})
	require.Len(t, matches, 1)
	assert.Equal(t, "wf-ok", matches[0].Workflow.ID)
}

func TestMatcher_FieldChangedHandlesNestedValues(t *testing.T) {
	matcher := NewMatcher(testLogger())

	addressFlow := activeDefinition("wf-address", models.TriggerSpec{
		Type:       models.TriggerFieldChanged,
		EntityType: models.EntityTypeDeal,
		Field:      "address",
	})
	defs := []*models.WorkflowDefinition{addressFlow}

	// JSON-decoded snapshots carry nested maps; matching must compare them
	// without panicking.
	moved := dealUpdatedEvent(
		map[string]any{"address": map[string]any{"city": "Lisbon"}},
		map[string]any{"address": map[string]any{"city": "Porto"}},
	)
	require.Len(t, matcher.Match(moved, defs), 1)

	same := dealUpdatedEvent(
		map[string]any{"address": map[string]any{"city": "Porto"}},
		map[string]any{"address": map[string]any{"city": "Porto"}},
	)
	assert.Empty(t, matcher.Match(same, defs))
}
