package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// EnrollmentRepository stores enrollments. Single-row updates and batch
// updates both guard on the version column so concurrent advances of the same
// enrollment cannot both commit.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const enrollmentColumns = `
	id, workflow_id, target_type, target_id, status, current_node_id,
	visited_nodes, execution_path, context, error_count, next_execution_at,
	started_at, last_executed_at, version
`

func (r *EnrollmentRepository) CreateBatch(ctx context.Context, enrollments []*models.Enrollment) error {
	if len(enrollments) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enrollment batch: %w", err)
	}

	for _, e := range enrollments {
		e.Version = 1

		visitedJSON, pathJSON, contextJSON, err := marshalEnrollmentPayloads(e)
		if err != nil {
			_ = tx.Rollback()

			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO enrollments (`+enrollmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			e.ID, e.WorkflowID, string(e.TargetType), e.TargetID, string(e.Status),
			e.CurrentNodeID, visitedJSON, pathJSON, contextJSON, e.ErrorCount,
			e.NextExecutionAt, e.StartedAt, e.LastExecutedAt, e.Version,
		)
		if err != nil {
			_ = tx.Rollback()

			return persistence.NewStoreError("CreateBatch", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrollment batch: %w", err)
	}

	return nil
}

func (r *EnrollmentRepository) EnrollmentByID(ctx context.Context, id string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE id = $1
	`, id)

	e, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("EnrollmentByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, err
	}

	return e, nil
}

func (r *EnrollmentRepository) ListEnrollments(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE 1=1`
	args := make([]any, 0, 5)

	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if filter.TargetType != "" {
		args = append(args, string(filter.TargetType))
		query += fmt.Sprintf(" AND target_type = $%d", len(args))
	}

	if filter.TargetID != "" {
		args = append(args, filter.TargetID)
		query += fmt.Sprintf(" AND target_id = $%d", len(args))
	}

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY started_at"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryEnrollments(ctx, query, args...)
}

func (r *EnrollmentRepository) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.Enrollment, error) {
	return r.queryEnrollments(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE status = $1 AND next_execution_at <= $2
		ORDER BY next_execution_at
		LIMIT $3
	`, string(models.EnrollmentStatusWaiting), now, limit)
}

func (r *EnrollmentRepository) ActiveEnrollments(ctx context.Context, limit int) ([]*models.Enrollment, error) {
	return r.queryEnrollments(ctx, `
		SELECT `+enrollmentColumns+`
		FROM enrollments
		WHERE status = $1
		ORDER BY started_at
		LIMIT $2
	`, string(models.EnrollmentStatusActive), limit)
}

func (r *EnrollmentRepository) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if err := r.updateIn(ctx, r.db, enrollment); err != nil {
		return err
	}

	enrollment.Version++

	return nil
}

func (r *EnrollmentRepository) UpdateEnrollmentBatch(ctx context.Context, enrollments []*models.Enrollment) error {
	if len(enrollments) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin enrollment update batch: %w", err)
	}

	for _, e := range enrollments {
		if err := r.updateIn(ctx, tx, e); err != nil {
			_ = tx.Rollback()

			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrollment update batch: %w", err)
	}

	// Versions move only once the transaction is durable; a rolled-back
	// batch leaves every caller struct matching the stored rows.
	for _, e := range enrollments {
		e.Version++
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *EnrollmentRepository) updateIn(ctx context.Context, db execer, e *models.Enrollment) error {
	visitedJSON, pathJSON, contextJSON, err := marshalEnrollmentPayloads(e)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE enrollments
		SET status = $1, current_node_id = $2, visited_nodes = $3,
		    execution_path = $4, context = $5, error_count = $6,
		    next_execution_at = $7, last_executed_at = $8, version = version + 1
		WHERE id = $9 AND version = $10
	`,
		string(e.Status), e.CurrentNodeID, visitedJSON, pathJSON, contextJSON,
		e.ErrorCount, e.NextExecutionAt, e.LastExecutedAt, e.ID, e.Version,
	)
	if err != nil {
		return persistence.NewStoreError("UpdateEnrollment", e.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}

	if affected == 0 {
		// Either the row moved under us or it does not exist; both read as a
		// lost race to the caller.
		return persistence.NewStoreError("UpdateEnrollment", e.ID, persistence.ErrVersionConflict)
	}

	return nil
}

func (r *EnrollmentRepository) queryEnrollments(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}

		enrollments = append(enrollments, e)
	}

	return enrollments, rows.Err()
}

func marshalEnrollmentPayloads(e *models.Enrollment) (visited, path, context []byte, err error) {
	visited, err = json.Marshal(e.VisitedNodes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal visited nodes: %w", err)
	}

	path, err = json.Marshal(e.ExecutionPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal execution path: %w", err)
	}

	context, err = json.Marshal(e.Context)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	return visited, path, context, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		e           models.Enrollment
		targetType  string
		status      string
		visitedJSON []byte
		pathJSON    []byte
		contextJSON []byte
	)

	err := row.Scan(
		&e.ID, &e.WorkflowID, &targetType, &e.TargetID, &status, &e.CurrentNodeID,
		&visitedJSON, &pathJSON, &contextJSON, &e.ErrorCount, &e.NextExecutionAt,
		&e.StartedAt, &e.LastExecutedAt, &e.Version,
	)
	if err != nil {
		return nil, err
	}

	e.TargetType = models.EntityType(targetType)
	e.Status = models.EnrollmentStatus(status)

	if err := json.Unmarshal(visitedJSON, &e.VisitedNodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visited nodes: %w", err)
	}

	if err := json.Unmarshal(pathJSON, &e.ExecutionPath); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution path: %w", err)
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	return &e, nil
}
