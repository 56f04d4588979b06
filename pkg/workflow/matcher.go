// Package workflow implements the enrollment engine core: trigger matching,
// enrollment creation, and the step interpreter that advances enrollments
// through a definition's node graph.
package workflow

import (
	"fmt"
	"log/slog"

	"github.com/cadencehq/cadence/pkg/models"
)

// Match pairs a workflow definition with the trigger that matched an event.
type Match struct {
	Workflow *models.WorkflowDefinition
	Trigger  models.TriggerSpec
}

// Matcher evaluates entity-change events against workflow trigger
// specifications. Matching is pure predicate evaluation with no side effects;
// enrollment creation belongs to the Enroller.
type Matcher struct {
	logger *slog.Logger
}

// NewMatcher creates a trigger matcher.
func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// Match returns the subset of definitions whose trigger the event satisfies.
// Only active definitions match; definitions with a malformed graph are
// logged and skipped, never fatal to the batch. No ordering between matched
// workflows is guaranteed.
func (m *Matcher) Match(event *models.EntityEvent, definitions []*models.WorkflowDefinition) []Match {
	matches := make([]Match, 0)

	for _, def := range definitions {
		if def.Status != models.WorkflowStatusActive {
			continue
		}

		if _, err := def.StartNode(); err != nil {
			m.logger.Warn("Skipping workflow with malformed trigger graph",
				"workflow_id", def.ID, "error", err)

			continue
		}

		if m.triggerMatches(event, def.Trigger) {
			matches = append(matches, Match{Workflow: def, Trigger: def.Trigger})
			m.logger.Debug("Workflow matched event",
				"workflow_id", def.ID, "event_id", event.ID, "trigger_type", def.Trigger.Type)
		}
	}

	m.logger.Info("Completed trigger matching",
		"event_id", event.ID, "event_type", event.Type, "matches_found", len(matches))

	return matches
}

func (m *Matcher) triggerMatches(event *models.EntityEvent, trigger models.TriggerSpec) bool {
	if trigger.EntityType != event.EntityType {
		return false
	}

	switch trigger.Type {
	case models.TriggerEntityCreated:
		return event.IsCreation()

	case models.TriggerEntityUpdated:
		return !event.IsCreation()

	case models.TriggerFieldChanged:
		if !event.FieldChanged(trigger.Field) {
			return false
		}

		if trigger.TargetValue == "" {
			return true
		}

		return fmt.Sprintf("%v", event.After[trigger.Field]) == trigger.TargetValue

	default:
		m.logger.Warn("Unknown trigger type", "type", trigger.Type)

		return false
	}
}
