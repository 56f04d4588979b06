package models

// StepType identifies the behavior of a node in the workflow graph.
type StepType string

// Step-type catalog. Trigger nodes only start the graph and are never
// executed; delay parks the enrollment; branch routes; everything else
// performs an external effect through a collaborator interface.
const (
	StepTypeTrigger          StepType = "trigger"
	StepTypeDelay            StepType = "delay"
	StepTypeSendEmail        StepType = "send_email"
	StepTypeSendWhatsApp     StepType = "send_whatsapp"
	StepTypeCreateTask       StepType = "create_task"
	StepTypeUpdateProperty   StepType = "update_property"
	StepTypeMoveStage        StepType = "move_stage"
	StepTypeBranch           StepType = "branch"
	StepTypeWebhook          StepType = "webhook"
	StepTypeAddToList        StepType = "add_to_list"
	StepTypeRemoveFromList   StepType = "remove_from_list"
	StepTypeAssignRoundRobin StepType = "assign_round_robin"
	StepTypeIncrementCounter StepType = "increment_counter"
	StepTypeLogActivity      StepType = "log_activity"
)

// StepNode is one unit of work in a workflow graph: a tagged variant over the
// step-type catalog, holding type-specific configuration plus successor
// references. Terminal nodes carry no successor at all.
type StepNode struct {
	ID          string         `json:"id"     validate:"required"`
	Type        StepType       `json:"type"   validate:"required"`
	Name        string         `json:"name,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	NextID      *string        `json:"next_id,omitempty"`
	TrueNextID  *string        `json:"true_next_id,omitempty"`  // Branch nodes only
	FalseNextID *string        `json:"false_next_id,omitempty"` // Branch nodes only
}

// IsTerminal reports whether the node ends the workflow.
func (n *StepNode) IsTerminal() bool {
	return len(n.Successors()) == 0
}

// Successors returns every successor node id the node references.
func (n *StepNode) Successors() []string {
	if n.Type == StepTypeBranch {
		ids := make([]string, 0, 2)
		if n.TrueNextID != nil {
			ids = append(ids, *n.TrueNextID)
		}

		if n.FalseNextID != nil {
			ids = append(ids, *n.FalseNextID)
		}

		return ids
	}

	if n.NextID != nil {
		return []string{*n.NextID}
	}

	return nil
}

// IsActionStep reports whether executing the node performs an external effect.
func (n *StepNode) IsActionStep() bool {
	switch n.Type {
	case StepTypeTrigger, StepTypeDelay, StepTypeBranch:
		return false
	default:
		return true
	}
}
