// Package cmd provides shared construction helpers for the cadence binaries:
// persistence, event bus, and dispatcher wiring driven by CLI configuration.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cadencehq/cadence/pkg/persistence"
	"github.com/cadencehq/cadence/pkg/persistence/memory"
	"github.com/cadencehq/cadence/pkg/persistence/postgresql"
)

// NewPersistence selects a store implementation from the database URL scheme:
// postgres:// for the production store, memory:// for tests and local runs.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic("failed to initialize postgres persistence: " + err.Error())
		}

		return p
	default:
		return memory.NewPersistence()
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "memory"
	}

	return provider
}
