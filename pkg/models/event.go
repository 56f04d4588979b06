package models

import (
	"errors"
	"reflect"
	"time"
)

// EntityEventType identifies the kind of entity mutation an event reports.
type EntityEventType string

const (
	EntityEventCreated EntityEventType = "entity_created"
	EntityEventUpdated EntityEventType = "entity_updated"
)

// Entity event validation errors.
var (
	ErrEventMissingID       = errors.New("entity event requires an id")
	ErrEventMissingEntity   = errors.New("entity event requires an entity type and id")
	ErrEventMissingAfter    = errors.New("entity event requires an after snapshot")
	ErrEventCreatedBefore   = errors.New("entity_created event must not carry a before snapshot")
	ErrEventUpdatedNoBefore = errors.New("entity_updated event requires a before snapshot")
)

// EntityEvent is an entity-change notification carrying before and after
// snapshots so delta predicates can be evaluated. Before is nil exactly when
// the entity was created. ID is stable across redeliveries and keys the
// enrollment dedup.
type EntityEvent struct {
	ID         string          `json:"id"`
	Type       EntityEventType `json:"type"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     map[string]any  `json:"before,omitempty"`
	After      map[string]any  `json:"after"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// IsCreation reports whether the event describes a newly created entity.
func (e *EntityEvent) IsCreation() bool {
	return e.Before == nil
}

// Validate enforces the before/after snapshot contract.
func (e *EntityEvent) Validate() error {
	if e.ID == "" {
		return ErrEventMissingID
	}

	if e.EntityType == "" || e.EntityID == "" {
		return ErrEventMissingEntity
	}

	if e.After == nil {
		return ErrEventMissingAfter
	}

	switch e.Type {
	case EntityEventCreated:
		if e.Before != nil {
			return ErrEventCreatedBefore
		}
	case EntityEventUpdated:
		if e.Before == nil {
			return ErrEventUpdatedNoBefore
		}
	}

	return nil
}

// FieldChanged reports whether the named field differs between the before and
// after snapshots. Creations count as a change for any field present after.
func (e *EntityEvent) FieldChanged(field string) bool {
	after, ok := e.After[field]
	if !ok {
		return false
	}

	if e.Before == nil {
		return true
	}

	// Deep comparison; snapshot values decoded from JSON can be maps or
	// slices, which a plain interface compare would panic on.
	return !reflect.DeepEqual(e.Before[field], after)
}
