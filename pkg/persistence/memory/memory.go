// Package memory provides an in-memory persistence implementation used by
// tests and local development. All repositories share one mutex, which makes
// every batched write trivially atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// Persistence implements persistence.Persistence with mutex-guarded maps.
type Persistence struct {
	mu sync.RWMutex

	definitions map[string]*models.WorkflowDefinition
	enrollments map[string]*models.Enrollment
	entities    map[string]*models.Entity
	activities  map[string][]*models.Activity
	roundRobin  map[string]*models.RoundRobinState
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.WorkflowDefinition),
		enrollments: make(map[string]*models.Enrollment),
		entities:    make(map[string]*models.Entity),
		activities:  make(map[string][]*models.Activity),
		roundRobin:  make(map[string]*models.RoundRobinState),
	}
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return &definitionRepo{p} }
func (p *Persistence) Enrollments() persistence.EnrollmentRepository { return &enrollmentRepo{p} }
func (p *Persistence) Entities() persistence.EntityRepository        { return &entityRepo{p} }
func (p *Persistence) RoundRobin() persistence.RoundRobinRepository  { return &roundRobinRepo{p} }

// HealthCheck always succeeds for the in-memory store.
func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

// Close discards nothing; the store lives and dies with the process.
func (p *Persistence) Close(_ context.Context) error { return nil }

func entityKey(entityType models.EntityType, id string) string {
	return string(entityType) + "/" + id
}

// Definitions

type definitionRepo struct {
	p *Persistence
}

func (r *definitionRepo) Definitions(_ context.Context, status *models.WorkflowStatus) ([]*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	defs := make([]*models.WorkflowDefinition, 0, len(r.p.definitions))

	for _, def := range r.p.definitions {
		if status != nil && def.Status != *status {
			continue
		}

		defs = append(defs, cloneDefinition(def))
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	return defs, nil
}

func (r *definitionRepo) DefinitionByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	def, ok := r.p.definitions[id]
	if !ok {
		return nil, persistence.NewStoreError("DefinitionByID", id, persistence.ErrDefinitionNotFound)
	}

	return cloneDefinition(def), nil
}

func (r *definitionRepo) SaveDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.definitions[def.ID] = cloneDefinition(def)

	return nil
}

func (r *definitionRepo) ArchiveDefinition(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	def, ok := r.p.definitions[id]
	if !ok {
		return persistence.NewStoreError("ArchiveDefinition", id, persistence.ErrDefinitionNotFound)
	}

	now := time.Now().UTC()
	def.Status = models.WorkflowStatusArchived
	def.ArchivedAt = &now
	def.UpdatedAt = now

	return nil
}

// Enrollments

type enrollmentRepo struct {
	p *Persistence
}

func (r *enrollmentRepo) CreateBatch(_ context.Context, enrollments []*models.Enrollment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	// Validate the whole batch before touching the map so the write is
	// all-or-nothing.
	for _, e := range enrollments {
		if _, exists := r.p.enrollments[e.ID]; exists {
			return persistence.NewStoreError("CreateBatch", e.ID, persistence.ErrEnrollmentExists)
		}
	}

	for _, e := range enrollments {
		stored := cloneEnrollment(e)
		stored.Version = 1
		r.p.enrollments[e.ID] = stored
		e.Version = 1
	}

	return nil
}

func (r *enrollmentRepo) EnrollmentByID(_ context.Context, id string) (*models.Enrollment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	e, ok := r.p.enrollments[id]
	if !ok {
		return nil, persistence.NewStoreError("EnrollmentByID", id, persistence.ErrEnrollmentNotFound)
	}

	return cloneEnrollment(e), nil
}

func (r *enrollmentRepo) ListEnrollments(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.Enrollment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	matches := make([]*models.Enrollment, 0)

	for _, e := range r.p.enrollments {
		if filter.WorkflowID != "" && e.WorkflowID != filter.WorkflowID {
			continue
		}

		if filter.TargetType != "" && e.TargetType != filter.TargetType {
			continue
		}

		if filter.TargetID != "" && e.TargetID != filter.TargetID {
			continue
		}

		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}

		matches = append(matches, cloneEnrollment(e))
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].StartedAt.Before(matches[j].StartedAt) })

	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}

	return matches, nil
}

func (r *enrollmentRepo) DueEnrollments(_ context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	due := make([]*models.Enrollment, 0)

	for _, e := range r.p.enrollments {
		if e.Status != models.EnrollmentStatusWaiting {
			continue
		}

		if e.NextExecutionAt == nil || e.NextExecutionAt.After(now) {
			continue
		}

		due = append(due, cloneEnrollment(e))
	}

	// Oldest deadline first so backlog drains in order across capped sweeps.
	sort.Slice(due, func(i, j int) bool { return due[i].NextExecutionAt.Before(*due[j].NextExecutionAt) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *enrollmentRepo) ActiveEnrollments(ctx context.Context, limit int) ([]*models.Enrollment, error) {
	status := models.EnrollmentStatusActive

	return r.ListEnrollments(ctx, persistence.EnrollmentFilter{Status: &status, Limit: limit})
}

func (r *enrollmentRepo) UpdateEnrollment(_ context.Context, enrollment *models.Enrollment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	return r.updateLocked(enrollment)
}

func (r *enrollmentRepo) UpdateEnrollmentBatch(_ context.Context, enrollments []*models.Enrollment) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	// Re-validate every version before committing any write so a full-batch
	// failure never partially reactivates enrollments.
	for _, e := range enrollments {
		stored, ok := r.p.enrollments[e.ID]
		if !ok {
			return persistence.NewStoreError("UpdateEnrollmentBatch", e.ID, persistence.ErrEnrollmentNotFound)
		}

		if stored.Version != e.Version {
			return persistence.NewStoreError("UpdateEnrollmentBatch", e.ID, persistence.ErrVersionConflict)
		}
	}

	for _, e := range enrollments {
		if err := r.updateLocked(e); err != nil {
			return err
		}
	}

	return nil
}

func (r *enrollmentRepo) updateLocked(enrollment *models.Enrollment) error {
	stored, ok := r.p.enrollments[enrollment.ID]
	if !ok {
		return persistence.NewStoreError("UpdateEnrollment", enrollment.ID, persistence.ErrEnrollmentNotFound)
	}

	if stored.Version != enrollment.Version {
		return persistence.NewStoreError("UpdateEnrollment", enrollment.ID, persistence.ErrVersionConflict)
	}

	updated := cloneEnrollment(enrollment)
	updated.Version = stored.Version + 1
	r.p.enrollments[enrollment.ID] = updated
	enrollment.Version = updated.Version

	return nil
}

// Entities

type entityRepo struct {
	p *Persistence
}

func (r *entityRepo) EntityByID(_ context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	entity, ok := r.p.entities[entityKey(entityType, id)]
	if !ok {
		return nil, persistence.NewStoreError("EntityByID", id, persistence.ErrEntityNotFound)
	}

	return cloneEntity(entity), nil
}

func (r *entityRepo) SaveEntity(_ context.Context, entity *models.Entity) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := cloneEntity(entity)
	stored.UpdatedAt = time.Now().UTC()
	r.p.entities[entityKey(entity.Type, entity.ID)] = stored

	return nil
}

func (r *entityRepo) AppendActivity(_ context.Context, activity *models.Activity) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	key := entityKey(activity.EntityType, activity.EntityID)

	// Insert-if-absent on activity id so redelivered steps with deterministic
	// ids do not duplicate entries.
	for _, existing := range r.p.activities[key] {
		if existing.ID == activity.ID {
			return nil
		}
	}

	stored := *activity
	r.p.activities[key] = append(r.p.activities[key], &stored)

	return nil
}

func (r *entityRepo) ActivitiesByEntity(_ context.Context, entityType models.EntityType, id string) ([]*models.Activity, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	stored := r.p.activities[entityKey(entityType, id)]
	activities := make([]*models.Activity, 0, len(stored))

	for _, a := range stored {
		copied := *a
		activities = append(activities, &copied)
	}

	return activities, nil
}

// Round robin

type roundRobinRepo struct {
	p *Persistence
}

func (r *roundRobinRepo) StateByTeam(_ context.Context, teamID string) (*models.RoundRobinState, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	state, ok := r.p.roundRobin[teamID]
	if !ok {
		return nil, persistence.NewStoreError("StateByTeam", teamID, persistence.ErrRoundRobinNotFound)
	}

	return cloneRoundRobin(state), nil
}

func (r *roundRobinRepo) SaveState(_ context.Context, state *models.RoundRobinState) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := cloneRoundRobin(state)
	stored.Version = 1
	r.p.roundRobin[state.TeamID] = stored
	state.Version = 1

	return nil
}

func (r *roundRobinRepo) UpdateState(_ context.Context, state *models.RoundRobinState) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, ok := r.p.roundRobin[state.TeamID]
	if !ok {
		return persistence.NewStoreError("UpdateState", state.TeamID, persistence.ErrRoundRobinNotFound)
	}

	if stored.Version != state.Version {
		return persistence.NewStoreError("UpdateState", state.TeamID, persistence.ErrVersionConflict)
	}

	updated := cloneRoundRobin(state)
	updated.Version = stored.Version + 1
	r.p.roundRobin[state.TeamID] = updated
	state.Version = updated.Version

	return nil
}
