// Package events defines event types for entity changes and enrollment
// lifecycle notifications.
package events

import (
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

type EventType string

// Topics.
const (
	EntityTopic = "cadence.entity.events" // Entity-change events consumed by the listener
	Topic       = "cadence.events"        // Enrollment lifecycle events
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	EntityChangedEvent EventType = "entity.changed"

	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentFailedEvent    EventType = "enrollment.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a typed event envelope.
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EntityChanged wraps an entity mutation with before/after snapshots for
// trigger evaluation.
type EntityChanged struct {
	BaseEvent

	Event models.EntityEvent `json:"event"`
}

func (e EntityChanged) GetType() EventType {
	return EntityChangedEvent
}

// EnrollmentCreated announces a new enrollment produced by trigger matching.
type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string            `json:"enrollment_id"`
	WorkflowID   string            `json:"workflow_id"`
	TargetType   models.EntityType `json:"target_type"`
	TargetID     string            `json:"target_id"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

// EnrollmentCompleted announces an enrollment reaching a terminal node.
type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	WorkflowID   string `json:"workflow_id"`
	StepCount    int    `json:"step_count"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

// EnrollmentFailed announces an enrollment stopped by an exhausted retry
// budget.
type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	WorkflowID   string `json:"workflow_id"`
	NodeID       string `json:"node_id"`
	Error        string `json:"error"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}
