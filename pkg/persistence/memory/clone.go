package memory

import "github.com/cadencehq/cadence/pkg/models"

// The store hands out deep copies so callers can never mutate stored records
// without going through a compare-and-set update.

func cloneDefinition(def *models.WorkflowDefinition) *models.WorkflowDefinition {
	copied := *def
	copied.Nodes = make(map[string]*models.StepNode, len(def.Nodes))

	for id, node := range def.Nodes {
		copied.Nodes[id] = cloneNode(node)
	}

	return &copied
}

func cloneNode(node *models.StepNode) *models.StepNode {
	copied := *node
	copied.Config = cloneMap(node.Config)

	return &copied
}

func cloneEnrollment(e *models.Enrollment) *models.Enrollment {
	copied := *e
	copied.VisitedNodes = append([]string(nil), e.VisitedNodes...)
	copied.ExecutionPath = append([]models.ExecutionEntry(nil), e.ExecutionPath...)
	copied.Context = cloneMap(e.Context)

	if e.NextExecutionAt != nil {
		next := *e.NextExecutionAt
		copied.NextExecutionAt = &next
	}

	return &copied
}

func cloneEntity(entity *models.Entity) *models.Entity {
	copied := *entity
	copied.Properties = cloneMap(entity.Properties)
	copied.Lists = append([]string(nil), entity.Lists...)

	return &copied
}

func cloneRoundRobin(state *models.RoundRobinState) *models.RoundRobinState {
	copied := *state
	copied.PlannerIDs = append([]string(nil), state.PlannerIDs...)

	return &copied
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}

	return copied
}
