package services

import (
	"context"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// Enrollment provides read access to enrollment state for the API. All
// writes go through the engine and the watcher; the HTTP surface only
// observes.
type Enrollment struct {
	persistence persistence.Persistence
}

// NewEnrollment creates an enrollment service.
func NewEnrollment(p persistence.Persistence) *Enrollment {
	return &Enrollment{persistence: p}
}

// ListEnrollmentsRequest filters enrollment listings.
type ListEnrollmentsRequest struct {
	WorkflowID string
	TargetType models.EntityType
	TargetID   string
	Status     *models.EnrollmentStatus
	Limit      int
}

// ListEnrollments returns enrollments matching the filter.
func (s *Enrollment) ListEnrollments(ctx context.Context, req ListEnrollmentsRequest) ([]*models.Enrollment, error) {
	enrollments, err := s.persistence.Enrollments().ListEnrollments(ctx, persistence.EnrollmentFilter{
		WorkflowID: req.WorkflowID,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Status:     req.Status,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, &ServiceError{Op: "ListEnrollments", Err: err}
	}

	return enrollments, nil
}

// GetEnrollment returns one enrollment with its full execution path.
func (s *Enrollment) GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.persistence.Enrollments().EnrollmentByID(ctx, id)
	if err != nil {
		return nil, &ServiceError{Op: "GetEnrollment", Err: err}
	}

	return enrollment, nil
}
