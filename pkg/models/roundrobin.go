package models

import (
	"errors"
	"time"
)

// ErrNoEligiblePlanners is returned when a team's rotation has no members.
var ErrNoEligiblePlanners = errors.New("round-robin state has no eligible planners")

// RoundRobinState tracks the rotating assignment cursor for one team. Version
// guards the rotation index against concurrent advances: multiple enrollments
// may contend for the same team, and only one advance per contention window
// commits.
type RoundRobinState struct {
	TeamID         string    `json:"team_id"`
	RotationIndex  int       `json:"rotation_index"`
	PlannerIDs     []string  `json:"planner_ids"`
	LastAssignedTo string    `json:"last_assigned_to,omitempty"`
	LastAssignedAt time.Time `json:"last_assigned_at"`
	Version        int64     `json:"version"`
}

// Next returns the planner at the rotation cursor without advancing.
func (s *RoundRobinState) Next() (string, error) {
	if len(s.PlannerIDs) == 0 {
		return "", ErrNoEligiblePlanners
	}

	return s.PlannerIDs[s.RotationIndex%len(s.PlannerIDs)], nil
}

// Advance moves the cursor past the planner it just assigned, wrapping at the
// end of the rotation.
func (s *RoundRobinState) Advance(assignedTo string, at time.Time) {
	s.RotationIndex = (s.RotationIndex + 1) % len(s.PlannerIDs)
	s.LastAssignedTo = assignedTo
	s.LastAssignedAt = at
}
