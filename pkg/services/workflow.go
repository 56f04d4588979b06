package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// Workflow provides business operations over workflow definitions: CRUD for
// drafts plus the activate/pause/archive lifecycle. Activation is the
// validation gate; a definition that activates is guaranteed structurally
// sound and every node config passes its schema.
type Workflow struct {
	persistence persistence.Persistence
}

// NewWorkflow creates a workflow service.
func NewWorkflow(p persistence.Persistence) *Workflow {
	return &Workflow{persistence: p}
}

// ListWorkflowsRequest filters workflow listings.
type ListWorkflowsRequest struct {
	Status *models.WorkflowStatus
}

// ListWorkflows returns definitions, optionally filtered by status.
func (s *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) ([]*models.WorkflowDefinition, error) {
	definitions, err := s.persistence.Definitions().Definitions(ctx, req.Status)
	if err != nil {
		return nil, &ServiceError{Op: "ListWorkflows", Err: err}
	}

	return definitions, nil
}

// GetWorkflow returns one definition by id.
func (s *Workflow) GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().DefinitionByID(ctx, id)
	if err != nil {
		return nil, &ServiceError{Op: "GetWorkflow", Err: err}
	}

	return definition, nil
}

// CreateWorkflow persists a new draft definition. The graph is not validated
// yet; drafts may be saved half-built and are only checked at activation.
func (s *Workflow) CreateWorkflow(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	now := time.Now().UTC()

	def.ID = uuid.New().String()
	def.Status = models.WorkflowStatusDraft
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := s.persistence.Definitions().SaveDefinition(ctx, def); err != nil {
		return nil, &ServiceError{Op: "CreateWorkflow", Err: err}
	}

	return def, nil
}

// UpdateWorkflow replaces an editable definition's content. Active and
// archived definitions are immutable.
func (s *Workflow) UpdateWorkflow(ctx context.Context, id string, update *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	existing, err := s.persistence.Definitions().DefinitionByID(ctx, id)
	if err != nil {
		return nil, &ServiceError{Op: "UpdateWorkflow", Err: err}
	}

	if !existing.Editable() {
		return nil, &ServiceError{Op: "UpdateWorkflow", Message: string(existing.Status), Err: ErrNotEditable}
	}

	existing.Name = update.Name
	existing.Description = update.Description
	existing.Trigger = update.Trigger
	existing.Nodes = update.Nodes
	existing.StartNodeID = update.StartNodeID
	existing.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Definitions().SaveDefinition(ctx, existing); err != nil {
		return nil, &ServiceError{Op: "UpdateWorkflow", Err: err}
	}

	return existing, nil
}

// ActivateWorkflow validates and publishes a draft or paused definition.
func (s *Workflow) ActivateWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().DefinitionByID(ctx, id)
	if err != nil {
		return nil, &ServiceError{Op: "ActivateWorkflow", Err: err}
	}

	if !definition.Editable() {
		return nil, &ServiceError{Op: "ActivateWorkflow", Message: string(definition.Status), Err: ErrInvalidLifecycle}
	}

	if err := definition.ValidateGraph(); err != nil {
		return nil, &ServiceError{Op: "ActivateWorkflow", Message: err.Error(), Err: ErrInvalidGraph}
	}

	for _, node := range definition.Nodes {
		if err := models.ValidateStepConfig(node); err != nil {
			return nil, &ServiceError{Op: "ActivateWorkflow", Message: err.Error(), Err: ErrInvalidStepConfig}
		}
	}

	definition.Status = models.WorkflowStatusActive
	definition.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Definitions().SaveDefinition(ctx, definition); err != nil {
		return nil, &ServiceError{Op: "ActivateWorkflow", Err: err}
	}

	return definition, nil
}

// PauseWorkflow stops an active definition from matching new events. Running
// enrollments keep executing against the published graph.
func (s *Workflow) PauseWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	definition, err := s.persistence.Definitions().DefinitionByID(ctx, id)
	if err != nil {
		return nil, &ServiceError{Op: "PauseWorkflow", Err: err}
	}

	if definition.Status != models.WorkflowStatusActive {
		return nil, &ServiceError{
			Op:      "PauseWorkflow",
			Message: fmt.Sprintf("cannot pause a %s workflow", definition.Status),
			Err:     ErrInvalidLifecycle,
		}
	}

	definition.Status = models.WorkflowStatusPaused
	definition.UpdatedAt = time.Now().UTC()

	if err := s.persistence.Definitions().SaveDefinition(ctx, definition); err != nil {
		return nil, &ServiceError{Op: "PauseWorkflow", Err: err}
	}

	return definition, nil
}

// ArchiveWorkflow soft-deletes a definition. The record stays readable so
// in-flight enrollments keep resolving node ids.
func (s *Workflow) ArchiveWorkflow(ctx context.Context, id string) error {
	if err := s.persistence.Definitions().ArchiveDefinition(ctx, id); err != nil {
		return &ServiceError{Op: "ArchiveWorkflow", Err: err}
	}

	return nil
}
