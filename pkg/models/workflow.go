// Package models defines the core domain models for the workflow enrollment engine.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not matched against events
	WorkflowStatusActive   WorkflowStatus = "active"   // Matched against events, not editable
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Editable, not matched against events
	WorkflowStatusArchived WorkflowStatus = "archived" // Soft-deleted, kept while enrollments reference it
)

// Graph validation errors.
var (
	ErrNoStartNode         = errors.New("workflow has no start node")
	ErrStartNotTrigger     = errors.New("workflow start node is not a trigger node")
	ErrMultipleTriggers    = errors.New("workflow has more than one trigger node")
	ErrDanglingReference   = errors.New("workflow node references a missing node")
	ErrMissingBranchTarget = errors.New("branch node must reference both true and false successors")
	ErrWorkflowNotEditable = errors.New("workflow can only be edited in draft or paused status")
)

// WorkflowDefinition is an immutable-once-active template describing a trigger
// and a graph of typed steps. Nodes form an arena indexed by node id; branch
// nodes carry two successor ids, every other non-terminal node carries one.
type WorkflowDefinition struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"          validate:"required,min=3"`
	Description string               `json:"description,omitempty"`
	Status      WorkflowStatus       `json:"status"        validate:"required,oneof=draft active paused archived"`
	Trigger     TriggerSpec          `json:"trigger"       validate:"required"`
	Nodes       map[string]*StepNode `json:"nodes"         validate:"required,min=1"`
	StartNodeID string               `json:"start_node_id" validate:"required"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	ArchivedAt  *time.Time           `json:"archived_at,omitempty"`
}

// Editable reports whether the definition may still be mutated. Once a
// workflow is active, edits would retroactively corrupt in-flight
// enrollments that hold node ids from the published graph.
func (w *WorkflowDefinition) Editable() bool {
	return w.Status == WorkflowStatusDraft || w.Status == WorkflowStatusPaused
}

// StartNode returns the trigger node the graph starts from.
func (w *WorkflowDefinition) StartNode() (*StepNode, error) {
	node, ok := w.Nodes[w.StartNodeID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", w.ID, ErrNoStartNode)
	}

	if node.Type != StepTypeTrigger {
		return nil, fmt.Errorf("workflow %s: %w", w.ID, ErrStartNotTrigger)
	}

	return node, nil
}

// Node returns the node with the given id.
func (w *WorkflowDefinition) Node(id string) (*StepNode, error) {
	node, ok := w.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s node %s: %w", w.ID, id, ErrDanglingReference)
	}

	return node, nil
}

// ValidateGraph checks the structural invariants of the step graph: exactly
// one trigger node (the start node), every successor reference resolves, and
// branch nodes carry both successors.
func (w *WorkflowDefinition) ValidateGraph() error {
	if _, err := w.StartNode(); err != nil {
		return err
	}

	triggers := 0

	for id, node := range w.Nodes {
		if node.Type == StepTypeTrigger {
			triggers++
		}

		if node.Type == StepTypeBranch {
			if node.TrueNextID == nil || node.FalseNextID == nil {
				return fmt.Errorf("node %s: %w", id, ErrMissingBranchTarget)
			}
		}

		for _, next := range node.Successors() {
			if _, ok := w.Nodes[next]; !ok {
				return fmt.Errorf("node %s -> %s: %w", id, next, ErrDanglingReference)
			}
		}
	}

	if triggers > 1 {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrMultipleTriggers)
	}

	return nil
}
