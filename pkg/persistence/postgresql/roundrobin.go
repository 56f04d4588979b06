package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/persistence"
)

// RoundRobinRepository stores per-team rotation state with optimistic
// versioning, mirroring the enrollment update contract.
type RoundRobinRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *RoundRobinRepository) StateByTeam(ctx context.Context, teamID string) (*models.RoundRobinState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT team_id, rotation_index, planner_ids, last_assigned_to, last_assigned_at, version
		FROM round_robin_states
		WHERE team_id = $1
	`, teamID)

	var (
		state        models.RoundRobinState
		plannersJSON []byte
		assignedAt   sql.NullTime
	)

	err := row.Scan(&state.TeamID, &state.RotationIndex, &plannersJSON, &state.LastAssignedTo, &assignedAt, &state.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("StateByTeam", teamID, persistence.ErrRoundRobinNotFound)
		}

		return nil, fmt.Errorf("failed to scan round-robin state: %w", err)
	}

	if assignedAt.Valid {
		state.LastAssignedAt = assignedAt.Time
	}

	if err := json.Unmarshal(plannersJSON, &state.PlannerIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal planner ids: %w", err)
	}

	return &state, nil
}

func (r *RoundRobinRepository) SaveState(ctx context.Context, state *models.RoundRobinState) error {
	plannersJSON, err := json.Marshal(state.PlannerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal planner ids: %w", err)
	}

	state.Version = 1

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO round_robin_states (team_id, rotation_index, planner_ids, last_assigned_to, last_assigned_at, version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (team_id)
		DO UPDATE SET
			rotation_index = EXCLUDED.rotation_index,
			planner_ids = EXCLUDED.planner_ids,
			last_assigned_to = EXCLUDED.last_assigned_to,
			last_assigned_at = EXCLUDED.last_assigned_at,
			version = EXCLUDED.version
	`, state.TeamID, state.RotationIndex, plannersJSON, state.LastAssignedTo, state.LastAssignedAt, state.Version)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save round-robin state", "team_id", state.TeamID, "error", err)

		return fmt.Errorf("failed to save round-robin state: %w", err)
	}

	return nil
}

func (r *RoundRobinRepository) UpdateState(ctx context.Context, state *models.RoundRobinState) error {
	plannersJSON, err := json.Marshal(state.PlannerIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal planner ids: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE round_robin_states
		SET rotation_index = $1, planner_ids = $2, last_assigned_to = $3,
		    last_assigned_at = $4, version = version + 1
		WHERE team_id = $5 AND version = $6
	`, state.RotationIndex, plannersJSON, state.LastAssignedTo, state.LastAssignedAt, state.TeamID, state.Version)
	if err != nil {
		return persistence.NewStoreError("UpdateState", state.TeamID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("UpdateState", state.TeamID, persistence.ErrVersionConflict)
	}

	state.Version++

	return nil
}
