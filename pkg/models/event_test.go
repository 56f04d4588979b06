package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func updatedEvent(before, after map[string]any) *EntityEvent {
	return &EntityEvent{
		ID:         "evt-1",
		Type:       EntityEventUpdated,
		EntityType: EntityTypeDeal,
		EntityID:   "deal-1",
		Before:     before,
		After:      after,
		OccurredAt: time.Now().UTC(),
	}
}

func TestEntityEvent_FieldChanged(t *testing.T) {
	event := updatedEvent(
		map[string]any{"stage": "negotiation", "amount": 100.0},
		map[string]any{"stage": "won", "amount": 100.0},
	)

	assert.True(t, event.FieldChanged("stage"))
	assert.False(t, event.FieldChanged("amount"))
	assert.False(t, event.FieldChanged("owner"))
}

func TestEntityEvent_FieldChangedComparesNestedValues(t *testing.T) {
	// Snapshot values decoded from JSON carry nested maps and slices; the
	// comparison must handle them instead of panicking.
	event := updatedEvent(
		map[string]any{
			"address": map[string]any{"city": "Lisbon"},
			"tags":    []any{"inbound"},
		},
		map[string]any{
			"address": map[string]any{"city": "Porto"},
			"tags":    []any{"inbound"},
		},
	)

	assert.True(t, event.FieldChanged("address"))
	assert.False(t, event.FieldChanged("tags"))
}

func TestEntityEvent_FieldChangedOnCreation(t *testing.T) {
	event := updatedEvent(nil, map[string]any{"stage": "new"})
	event.Type = EntityEventCreated

	assert.True(t, event.FieldChanged("stage"))
	assert.False(t, event.FieldChanged("owner"))
}
