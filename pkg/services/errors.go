// Package services provides the business layer between the HTTP handlers and
// the stores, with standardized error types for API mapping.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors mapping to client errors (4xx responses).
var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidStatus     = errors.New("invalid workflow status")
	ErrInvalidGraph      = errors.New("invalid workflow graph")
	ErrInvalidStepConfig = errors.New("invalid step configuration")

	// Business logic conflicts (409 Conflict).
	ErrNotEditable      = errors.New("workflow is not editable in its current status")
	ErrInvalidLifecycle = errors.New("invalid workflow status change")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string // Operation name
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidGraph) ||
		errors.Is(err, ErrInvalidStepConfig)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrNotEditable) ||
		errors.Is(err, ErrInvalidLifecycle)
}
