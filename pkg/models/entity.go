package models

import "time"

// Entity is a CRM record (deal or contact) as the engine sees it: a bag of
// properties plus list memberships. The engine reads and writes entities only
// through the entity store, never through a concrete database client.
type Entity struct {
	ID         string         `json:"id"`
	Type       EntityType     `json:"type"`
	Properties map[string]any `json:"properties"`
	Lists      []string       `json:"lists,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Property returns the named property and whether it is set.
func (e *Entity) Property(name string) (any, bool) {
	if e.Properties == nil {
		return nil, false
	}

	v, ok := e.Properties[name]

	return v, ok
}

// SetProperty sets the named property, allocating the map on first use.
func (e *Entity) SetProperty(name string, value any) {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}

	e.Properties[name] = value
}

// InList reports whether the entity is a member of the given list.
func (e *Entity) InList(listID string) bool {
	for _, id := range e.Lists {
		if id == listID {
			return true
		}
	}

	return false
}

// AddToList adds the entity to a list; adding twice is a no-op.
func (e *Entity) AddToList(listID string) {
	if e.InList(listID) {
		return
	}

	e.Lists = append(e.Lists, listID)
}

// RemoveFromList removes the entity from a list; removing a non-member is a
// no-op.
func (e *Entity) RemoveFromList(listID string) {
	for i, id := range e.Lists {
		if id == listID {
			e.Lists = append(e.Lists[:i], e.Lists[i+1:]...)

			return
		}
	}
}

// ActivityKind distinguishes task records from plain activity log entries.
type ActivityKind string

const (
	ActivityKindTask ActivityKind = "task"
	ActivityKindLog  ActivityKind = "log"
)

// Activity is a task or log entry attached to an entity by an action step.
type Activity struct {
	ID          string       `json:"id"`
	Kind        ActivityKind `json:"kind"`
	EntityType  EntityType   `json:"entity_type"`
	EntityID    string       `json:"entity_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	DueAt       *time.Time   `json:"due_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
