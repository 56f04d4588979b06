package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadencehq/cadence/pkg/persistence"
)

const maxAssignAttempts = 5

// ErrAssignContention is returned when the rotation state keeps moving under
// the assigner for the whole retry budget.
var ErrAssignContention = errors.New("round-robin assignment lost every compare-and-set attempt")

// RoundRobinAssigner atomically returns-and-advances the next eligible
// planner for a team. Multiple enrollments may contend for the same team, so
// each advance is a compare-and-set retried on conflict with a fresh read.
type RoundRobinAssigner struct {
	states persistence.RoundRobinRepository
	logger *slog.Logger
}

// NewRoundRobinAssigner creates an assigner over the rotation store.
func NewRoundRobinAssigner(states persistence.RoundRobinRepository, logger *slog.Logger) *RoundRobinAssigner {
	return &RoundRobinAssigner{
		states: states,
		logger: logger.With("module", "round_robin"),
	}
}

// NextAssignee returns the next planner in the team's rotation and advances
// the cursor.
func (a *RoundRobinAssigner) NextAssignee(ctx context.Context, teamID string) (string, error) {
	for attempt := 0; attempt < maxAssignAttempts; attempt++ {
		state, err := a.states.StateByTeam(ctx, teamID)
		if err != nil {
			return "", fmt.Errorf("failed to load round-robin state for team %s: %w", teamID, err)
		}

		assignee, err := state.Next()
		if err != nil {
			return "", fmt.Errorf("team %s: %w", teamID, err)
		}

		state.Advance(assignee, time.Now().UTC())

		err = a.states.UpdateState(ctx, state)
		if err == nil {
			return assignee, nil
		}

		if !persistence.IsVersionConflict(err) {
			return "", fmt.Errorf("failed to advance round-robin state for team %s: %w", teamID, err)
		}

		a.logger.DebugContext(ctx, "Round-robin advance lost a race, retrying", "team_id", teamID, "attempt", attempt+1)
	}

	return "", fmt.Errorf("team %s: %w", teamID, ErrAssignContention)
}
