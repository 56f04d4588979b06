package models

// TriggerType identifies the kind of entity-change event a workflow reacts to.
type TriggerType string

const (
	TriggerEntityCreated TriggerType = "entity_created"
	TriggerEntityUpdated TriggerType = "entity_updated"
	TriggerFieldChanged  TriggerType = "field_changed"
)

// EntityType identifies the kind of CRM record a workflow targets.
type EntityType string

const (
	EntityTypeDeal    EntityType = "deal"
	EntityTypeContact EntityType = "contact"
)

// TriggerSpec is the predicate that causes enrollment creation. For
// field_changed triggers, Field names the watched property and TargetValue
// optionally narrows the match to a specific new value.
type TriggerSpec struct {
	Type        TriggerType `json:"type"        validate:"required,oneof=entity_created entity_updated field_changed"`
	EntityType  EntityType  `json:"entity_type" validate:"required,oneof=deal contact"`
	Field       string      `json:"field,omitempty"`
	TargetValue string      `json:"target_value,omitempty"`
}
