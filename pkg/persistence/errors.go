// Package persistence provides standardized error types for store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDefinitionNotFound indicates a workflow definition was not found.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrEntityNotFound indicates a CRM entity was not found.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrRoundRobinNotFound indicates no rotation state exists for a team.
	ErrRoundRobinNotFound = errors.New("round-robin state not found")

	// ErrEnrollmentExists indicates an enrollment with the same id already exists.
	ErrEnrollmentExists = errors.New("enrollment already exists")

	// ErrVersionConflict indicates a compare-and-set update lost a race to a
	// concurrent writer. The caller must re-read or drop the write.
	ErrVersionConflict = errors.New("version conflict")
)

// StoreError wraps store-level errors with operation context.
type StoreError struct {
	Op  string // Operation being performed (e.g., "CreateBatch", "Update")
	Key string // Record identifier if applicable
	Err error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Key, e.Err)
	}

	return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{
		Op:  op,
		Key: key,
		Err: err,
	}
}

// IsNotFound checks if an error indicates any record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrRoundRobinNotFound)
}

// IsVersionConflict checks if an error indicates a lost compare-and-set race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
