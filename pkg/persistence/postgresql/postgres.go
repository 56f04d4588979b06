// Package postgresql provides PostgreSQL persistence for the enrollment
// engine. Graph, context and audit payloads are stored as JSONB; enrollment
// and round-robin updates use optimistic versioning rather than row locks.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/sqlbase"
)

// Persistence implements persistence.Persistence over PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	definitionRepo *DefinitionRepository
	enrollmentRepo *EnrollmentRepository
	entityRepo     *EntityRepository
	roundRobinRepo *RoundRobinRepository
}

// NewPersistence opens a connection, runs migrations and returns the store
// handle. The handle must be closed at shutdown.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p := &Persistence{
		db:     database,
		logger: logger.With("component", "postgres_persistence"),
	}
	p.definitionRepo = &DefinitionRepository{db: database, logger: p.logger}
	p.enrollmentRepo = &EnrollmentRepository{db: database, logger: p.logger}
	p.entityRepo = &EntityRepository{db: database, logger: p.logger}
	p.roundRobinRepo = &RoundRobinRepository{db: database, logger: p.logger}

	logger.InfoContext(ctx, "PostgreSQL persistence initialized successfully")

	return p, nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository { return p.definitionRepo }
func (p *Persistence) Enrollments() persistence.EnrollmentRepository { return p.enrollmentRepo }
func (p *Persistence) Entities() persistence.EntityRepository        { return p.entityRepo }
func (p *Persistence) RoundRobin() persistence.RoundRobinRepository  { return p.roundRobinRepo }

// HealthCheck pings the database.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				trigger_spec JSONB NOT NULL,
				nodes JSONB NOT NULL,
				start_node_id TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_definitions_status
				ON workflow_definitions (status);

			CREATE TABLE IF NOT EXISTS enrollments (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				target_type TEXT NOT NULL,
				target_id TEXT NOT NULL,
				status TEXT NOT NULL,
				current_node_id TEXT NOT NULL,
				visited_nodes JSONB NOT NULL DEFAULT '[]',
				execution_path JSONB NOT NULL DEFAULT '[]',
				context JSONB,
				error_count INTEGER NOT NULL DEFAULT 0,
				next_execution_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_executed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				version BIGINT NOT NULL DEFAULT 1
			);

			CREATE INDEX IF NOT EXISTS idx_enrollments_due
				ON enrollments (next_execution_at)
				WHERE status = 'waiting';

			CREATE INDEX IF NOT EXISTS idx_enrollments_status
				ON enrollments (status);

			CREATE INDEX IF NOT EXISTS idx_enrollments_target
				ON enrollments (target_type, target_id);

			CREATE TABLE IF NOT EXISTS entities (
				entity_type TEXT NOT NULL,
				id TEXT NOT NULL,
				properties JSONB NOT NULL DEFAULT '{}',
				lists JSONB NOT NULL DEFAULT '[]',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (entity_type, id)
			);

			CREATE TABLE IF NOT EXISTS activities (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				due_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_activities_entity
				ON activities (entity_type, entity_id);

			CREATE TABLE IF NOT EXISTS round_robin_states (
				team_id TEXT PRIMARY KEY,
				rotation_index INTEGER NOT NULL DEFAULT 0,
				planner_ids JSONB NOT NULL DEFAULT '[]',
				last_assigned_to TEXT NOT NULL DEFAULT '',
				last_assigned_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 1
			);
		`,
	}
}
