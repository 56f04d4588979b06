// Package web provides HTTP request and response types for the enrollment
// engine API.
package web

import (
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// CreateWorkflowRequest is the request body for creating a draft workflow.
type CreateWorkflowRequest struct {
	Name        string                      `json:"name"          validate:"required,min=3"`
	Description string                      `json:"description"`
	Trigger     models.TriggerSpec          `json:"trigger"       validate:"required"`
	Nodes       map[string]*models.StepNode `json:"nodes"         validate:"required,min=1,dive,required"`
	StartNodeID string                      `json:"start_node_id" validate:"required"`
}

// UpdateWorkflowRequest is the request body for replacing an editable
// workflow's content.
type UpdateWorkflowRequest struct {
	Name        string                      `json:"name"          validate:"required,min=3"`
	Description string                      `json:"description"`
	Trigger     models.TriggerSpec          `json:"trigger"       validate:"required"`
	Nodes       map[string]*models.StepNode `json:"nodes"         validate:"required,min=1,dive,required"`
	StartNodeID string                      `json:"start_node_id" validate:"required"`
}

// IngestEventRequest is the request body for submitting an entity-change
// event over HTTP instead of the broker.
type IngestEventRequest struct {
	ID         string                `json:"id"          validate:"required"`
	Type       models.EntityEventType `json:"type"       validate:"required,oneof=entity_created entity_updated"`
	EntityType models.EntityType     `json:"entity_type" validate:"required,oneof=deal contact"`
	EntityID   string                `json:"entity_id"   validate:"required"`
	Before     map[string]any        `json:"before,omitempty"`
	After      map[string]any        `json:"after"       validate:"required"`
	OccurredAt *time.Time            `json:"occurred_at,omitempty"`
}

// SweepRequest is the optional request body for an on-demand sweep.
type SweepRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=500"`
}

// SweepResponse reports an on-demand sweep pass.
type SweepResponse struct {
	Success          bool      `json:"success"`
	Message          string    `json:"message"`
	ReactivatedCount int       `json:"reactivated_count"`
	Timestamp        time.Time `json:"timestamp"`
}
