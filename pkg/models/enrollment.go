package models

import (
	"errors"
	"fmt"
	"time"
)

// EnrollmentStatus represents the execution state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"    // Ready to execute the current node
	EnrollmentStatusWaiting   EnrollmentStatus = "waiting"   // Parked until NextExecutionAt
	EnrollmentStatusCompleted EnrollmentStatus = "completed" // Reached a terminal node
	EnrollmentStatusFailed    EnrollmentStatus = "failed"    // Retry budget exhausted
)

// ErrInvalidTransition is returned when an enrollment status change would
// violate the lifecycle: active→waiting, waiting→active, active→completed,
// active→failed; terminal states are final.
var ErrInvalidTransition = errors.New("invalid enrollment status transition")

// ExecutionResult classifies one execution-path entry.
type ExecutionResult string

const (
	ExecutionResultSuccess ExecutionResult = "success"
	ExecutionResultFailure ExecutionResult = "failure"
	ExecutionResultSkipped ExecutionResult = "skipped"
)

// ExecutionEntry is one record in an enrollment's append-only audit trail.
type ExecutionEntry struct {
	NodeID    string          `json:"node_id"`
	Timestamp time.Time       `json:"timestamp"`
	Result    ExecutionResult `json:"result"`
	Detail    string          `json:"detail,omitempty"`
}

// Enrollment is a running instance of a workflow definition against one
// target entity: a mutable execution cursor over the definition's node graph.
// Version is an optimistic-concurrency token; every committed update
// increments it, and concurrent writers lose with a version conflict.
type Enrollment struct {
	ID              string           `json:"id"`
	WorkflowID      string           `json:"workflow_id"`
	TargetType      EntityType       `json:"target_type"`
	TargetID        string           `json:"target_id"`
	Status          EnrollmentStatus `json:"status"`
	CurrentNodeID   string           `json:"current_node_id"`
	VisitedNodes    []string         `json:"visited_nodes"`
	ExecutionPath   []ExecutionEntry `json:"execution_path"`
	Context         map[string]any   `json:"context,omitempty"`
	ErrorCount      int              `json:"error_count"`
	NextExecutionAt *time.Time       `json:"next_execution_at,omitempty"` // Set iff status is waiting
	StartedAt       time.Time        `json:"started_at"`
	LastExecutedAt  time.Time        `json:"last_executed_at"`
	Version         int64            `json:"version"`
}

// IsTerminal reports whether the enrollment reached a final status.
func (e *Enrollment) IsTerminal() bool {
	return e.Status == EnrollmentStatusCompleted || e.Status == EnrollmentStatusFailed
}

// Visit appends a node id to the visited audit trail.
func (e *Enrollment) Visit(nodeID string) {
	e.VisitedNodes = append(e.VisitedNodes, nodeID)
}

// Record appends an execution-path entry stamped at the given time.
func (e *Enrollment) Record(nodeID string, result ExecutionResult, detail string, at time.Time) {
	e.ExecutionPath = append(e.ExecutionPath, ExecutionEntry{
		NodeID:    nodeID,
		Timestamp: at,
		Result:    result,
		Detail:    detail,
	})
}

// MarkWaiting parks the enrollment until the given deadline.
func (e *Enrollment) MarkWaiting(until time.Time) error {
	if e.Status != EnrollmentStatusActive {
		return fmt.Errorf("%s -> waiting: %w", e.Status, ErrInvalidTransition)
	}

	e.Status = EnrollmentStatusWaiting
	e.NextExecutionAt = &until

	return nil
}

// MarkActive reactivates a waiting enrollment, clearing its deadline and
// stamping the execution time.
func (e *Enrollment) MarkActive(now time.Time) error {
	if e.Status != EnrollmentStatusWaiting {
		return fmt.Errorf("%s -> active: %w", e.Status, ErrInvalidTransition)
	}

	e.Status = EnrollmentStatusActive
	e.NextExecutionAt = nil
	e.LastExecutedAt = now

	return nil
}

// MarkCompleted finishes the enrollment at a terminal node.
func (e *Enrollment) MarkCompleted(now time.Time) error {
	if e.Status != EnrollmentStatusActive {
		return fmt.Errorf("%s -> completed: %w", e.Status, ErrInvalidTransition)
	}

	e.Status = EnrollmentStatusCompleted
	e.NextExecutionAt = nil
	e.LastExecutedAt = now

	return nil
}

// MarkFailed permanently stops the enrollment, keeping the audit trail.
func (e *Enrollment) MarkFailed(now time.Time) error {
	if e.Status != EnrollmentStatusActive {
		return fmt.Errorf("%s -> failed: %w", e.Status, ErrInvalidTransition)
	}

	e.Status = EnrollmentStatusFailed
	e.NextExecutionAt = nil
	e.LastExecutedAt = now

	return nil
}
