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

// DefinitionRepository stores workflow definitions with the step graph as a
// single JSONB document.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *DefinitionRepository) Definitions(ctx context.Context, status *models.WorkflowStatus) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT id, name, description, status, trigger_spec, nodes, start_node_id,
		       created_at, updated_at, archived_at
		FROM workflow_definitions
	`

	var (
		rows *sql.Rows
		err  error
	)

	if status != nil {
		rows, err = r.db.QueryContext(ctx, query+" WHERE status = $1 ORDER BY id", string(*status))
	} else {
		rows, err = r.db.QueryContext(ctx, query+" ORDER BY id")
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query workflow definitions: %w", err)
	}
	defer rows.Close()

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}

		defs = append(defs, def)
	}

	return defs, rows.Err()
}

func (r *DefinitionRepository) DefinitionByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, status, trigger_spec, nodes, start_node_id,
		       created_at, updated_at, archived_at
		FROM workflow_definitions
		WHERE id = $1
	`, id)

	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("DefinitionByID", id, persistence.ErrDefinitionNotFound)
		}

		return nil, err
	}

	return def, nil
}

func (r *DefinitionRepository) SaveDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	triggerJSON, err := json.Marshal(def.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger spec: %w", err)
	}

	nodesJSON, err := json.Marshal(def.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (
			id, name, description, status, trigger_spec, nodes, start_node_id,
			created_at, updated_at, archived_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger_spec = EXCLUDED.trigger_spec,
			nodes = EXCLUDED.nodes,
			start_node_id = EXCLUDED.start_node_id,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at
	`,
		def.ID, def.Name, def.Description, string(def.Status), triggerJSON, nodesJSON,
		def.StartNodeID, def.CreatedAt, def.UpdatedAt, def.ArchivedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save workflow definition", "workflow_id", def.ID, "error", err)

		return fmt.Errorf("failed to save workflow definition: %w", err)
	}

	return nil
}

func (r *DefinitionRepository) ArchiveDefinition(ctx context.Context, id string) error {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_definitions
		SET status = $1, archived_at = $2, updated_at = $2
		WHERE id = $3
	`, string(models.WorkflowStatusArchived), now, id)
	if err != nil {
		return fmt.Errorf("failed to archive workflow definition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read archive result: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("ArchiveDefinition", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		def         models.WorkflowDefinition
		status      string
		triggerJSON []byte
		nodesJSON   []byte
	)

	err := row.Scan(
		&def.ID, &def.Name, &def.Description, &status, &triggerJSON, &nodesJSON,
		&def.StartNodeID, &def.CreatedAt, &def.UpdatedAt, &def.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}

	def.Status = models.WorkflowStatus(status)

	if err := json.Unmarshal(triggerJSON, &def.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger spec: %w", err)
	}

	if err := json.Unmarshal(nodesJSON, &def.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	return &def, nil
}
