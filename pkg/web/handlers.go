// Package web provides the HTTP handlers for workflow management, enrollment
// inspection, event ingestion, and on-demand sweeps.
package web

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/services"
	"github.com/cadencehq/cadence/pkg/watcher"
	"github.com/cadencehq/cadence/pkg/workflow"
)

// OnDemandSweepLimit caps a sweep triggered over HTTP. It is looser than the
// periodic limit because an operator asked for it explicitly.
const OnDemandSweepLimit = 500

type APIHandlers struct {
	workflowService   *services.Workflow
	enrollmentService *services.Enrollment
	engine            *workflow.Engine
	watcher           *watcher.Watcher
	validator         *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	enrollmentService *services.Enrollment,
	engine *workflow.Engine,
	w *watcher.Watcher,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:   workflowService,
		enrollmentService: enrollmentService,
		engine:            engine,
		watcher:           w,
		validator:         validate,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	definitions, err := h.workflowService.ListWorkflows(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   definitions,
		"total_count": len(definitions),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	definition, err := h.workflowService.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest

	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.workflowService.CreateWorkflow(c.Context(), &models.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		Trigger:     req.Trigger,
		Nodes:       req.Nodes,
		StartNodeID: req.StartNodeID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest

	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.workflowService.UpdateWorkflow(c.Context(), c.Params("id"), &models.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		Trigger:     req.Trigger,
		Nodes:       req.Nodes,
		StartNodeID: req.StartNodeID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	definition, err := h.workflowService.ActivateWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	definition, err := h.workflowService.PauseWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.ArchiveWorkflow(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetEnrollments(c fiber.Ctx) error {
	req := services.ListEnrollmentsRequest{
		WorkflowID: c.Query("workflow_id"),
		TargetType: models.EntityType(c.Query("target_type")),
		TargetID:   c.Query("target_id"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.EnrollmentStatus(statusStr)
		req.Status = &status
	}

	enrollments, err := h.enrollmentService.ListEnrollments(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"enrollments": enrollments,
		"total_count": len(enrollments),
	})
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	enrollment, err := h.enrollmentService.GetEnrollment(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

// IngestEvent accepts one entity-change event and runs the full matching and
// enrollment path synchronously. The broker path through the listener is the
// production route; this endpoint serves integrations without Kafka access.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest

	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "Invalid JSON body: "+err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		return badRequest(c, err.Error())
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	event := &models.EntityEvent{
		ID:         req.ID,
		Type:       req.Type,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Before:     req.Before,
		After:      req.After,
		OccurredAt: occurredAt,
	}

	if err := h.engine.HandleEntityEvent(c.Context(), event); err != nil {
		return badRequest(c, err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":  true,
		"event_id": event.ID,
	})
}

// TriggerSweep runs one sweep pass immediately, outside the periodic
// schedule. Re-running it right away finds nothing due, so the endpoint is
// safe to call repeatedly.
func (h *APIHandlers) TriggerSweep(c fiber.Ctx) error {
	req := SweepRequest{Limit: OnDemandSweepLimit}

	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return badRequest(c, "Invalid JSON body: "+err.Error())
		}

		if err := h.validator.Struct(&req); err != nil {
			return badRequest(c, err.Error())
		}

		if req.Limit == 0 {
			req.Limit = OnDemandSweepLimit
		}
	}

	result, err := h.watcher.Sweep(c.Context(), req.Limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(SweepResponse{
		Success:          true,
		Message:          "sweep completed",
		ReactivatedCount: result.ReactivatedCount,
		Timestamp:        result.Timestamp,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}
