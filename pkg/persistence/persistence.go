// Package persistence provides the data storage abstraction consumed by the
// enrollment engine. Core logic depends only on these repository interfaces;
// no component may reach for a concrete store's query or transaction API.
package persistence

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// Persistence is the store handle opened at process start and closed at
// shutdown. Implementations must provide atomic batched writes where the
// repository contracts demand them.
type Persistence interface {
	Definitions() DefinitionRepository
	Enrollments() EnrollmentRepository
	Entities() EntityRepository
	RoundRobin() RoundRobinRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions. Definitions are never
// hard-deleted; Archive flips them to archived so in-flight enrollments keep
// resolving their node ids.
type DefinitionRepository interface {
	Definitions(ctx context.Context, status *models.WorkflowStatus) ([]*models.WorkflowDefinition, error)
	DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	SaveDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	ArchiveDefinition(ctx context.Context, id string) error
}

// EnrollmentFilter narrows enrollment listings.
type EnrollmentFilter struct {
	WorkflowID string
	TargetType models.EntityType
	TargetID   string
	Status     *models.EnrollmentStatus
	Limit      int
}

// EnrollmentRepository stores enrollments. CreateBatch is all-or-nothing so a
// multi-workflow fan-out from one event never partially commits. Update is a
// compare-and-set on Version: a stale writer gets ErrVersionConflict and must
// treat the race as lost.
type EnrollmentRepository interface {
	CreateBatch(ctx context.Context, enrollments []*models.Enrollment) error
	EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]*models.Enrollment, error)
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error)
	ActiveEnrollments(ctx context.Context, limit int) ([]*models.Enrollment, error)
	UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	UpdateEnrollmentBatch(ctx context.Context, enrollments []*models.Enrollment) error
}

// EntityRepository reads and writes CRM entities and their attached
// activities.
type EntityRepository interface {
	EntityByID(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error)
	SaveEntity(ctx context.Context, entity *models.Entity) error
	AppendActivity(ctx context.Context, activity *models.Activity) error
	ActivitiesByEntity(ctx context.Context, entityType models.EntityType, id string) ([]*models.Activity, error)
}

// RoundRobinRepository stores per-team rotation state. UpdateState is a
// compare-and-set on Version like enrollment updates.
type RoundRobinRepository interface {
	StateByTeam(ctx context.Context, teamID string) (*models.RoundRobinState, error)
	SaveState(ctx context.Context, state *models.RoundRobinState) error
	UpdateState(ctx context.Context, state *models.RoundRobinState) error
}
