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

// EntityRepository stores CRM entities and their attached activities.
type EntityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *EntityRepository) EntityByID(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT entity_type, id, properties, lists, updated_at
		FROM entities
		WHERE entity_type = $1 AND id = $2
	`, string(entityType), id)

	var (
		entity         models.Entity
		entityTypeCol  string
		propertiesJSON []byte
		listsJSON      []byte
	)

	err := row.Scan(&entityTypeCol, &entity.ID, &propertiesJSON, &listsJSON, &entity.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("EntityByID", id, persistence.ErrEntityNotFound)
		}

		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	entity.Type = models.EntityType(entityTypeCol)

	if err := json.Unmarshal(propertiesJSON, &entity.Properties); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity properties: %w", err)
	}

	if err := json.Unmarshal(listsJSON, &entity.Lists); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity lists: %w", err)
	}

	return &entity, nil
}

func (r *EntityRepository) SaveEntity(ctx context.Context, entity *models.Entity) error {
	propertiesJSON, err := json.Marshal(entity.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal entity properties: %w", err)
	}

	listsJSON, err := json.Marshal(entity.Lists)
	if err != nil {
		return fmt.Errorf("failed to marshal entity lists: %w", err)
	}

	entity.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, properties, lists, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_type, id)
		DO UPDATE SET
			properties = EXCLUDED.properties,
			lists = EXCLUDED.lists,
			updated_at = EXCLUDED.updated_at
	`, string(entity.Type), entity.ID, propertiesJSON, listsJSON, entity.UpdatedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save entity", "entity_id", entity.ID, "error", err)

		return fmt.Errorf("failed to save entity: %w", err)
	}

	return nil
}

func (r *EntityRepository) AppendActivity(ctx context.Context, activity *models.Activity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities (id, kind, entity_type, entity_id, title, description, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`,
		activity.ID, string(activity.Kind), string(activity.EntityType), activity.EntityID,
		activity.Title, activity.Description, activity.DueAt, activity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	return nil
}

func (r *EntityRepository) ActivitiesByEntity(ctx context.Context, entityType models.EntityType, id string) ([]*models.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, entity_type, entity_id, title, description, due_at, created_at
		FROM activities
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at
	`, string(entityType), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*models.Activity, 0)

	for rows.Next() {
		var (
			activity      models.Activity
			kind          string
			entityTypeCol string
		)

		err := rows.Scan(
			&activity.ID, &kind, &entityTypeCol, &activity.EntityID,
			&activity.Title, &activity.Description, &activity.DueAt, &activity.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}

		activity.Kind = models.ActivityKind(kind)
		activity.EntityType = models.EntityType(entityTypeCol)
		activities = append(activities, &activity)
	}

	return activities, rows.Err()
}
