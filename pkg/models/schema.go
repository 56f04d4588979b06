package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownStepType is returned when a node carries a type outside the
// step-type catalog.
var ErrUnknownStepType = errors.New("unknown step type")

// stepConfigSchemas maps each step type to the JSON Schema its Config must
// satisfy. Trigger, branch-successor and terminal wiring are validated by
// ValidateGraph; these schemas only cover the type-specific configuration.
var stepConfigSchemas = map[StepType]map[string]any{
	StepTypeTrigger: {
		"type": "object",
	},
	StepTypeDelay: {
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{"type": "string"},
			"until":    map[string]any{"type": "string", "format": "date-time"},
		},
	},
	StepTypeSendEmail: {
		"type": "object",
		"properties": map[string]any{
			"to":       map[string]any{"type": "string"},
			"to_field": map[string]any{"type": "string"},
			"subject":  map[string]any{"type": "string"},
			"body":     map[string]any{"type": "string"},
		},
		"required": []any{"subject", "body"},
	},
	StepTypeSendWhatsApp: {
		"type": "object",
		"properties": map[string]any{
			"to":       map[string]any{"type": "string"},
			"to_field": map[string]any{"type": "string"},
			"message":  map[string]any{"type": "string"},
		},
		"required": []any{"message"},
	},
	StepTypeCreateTask: {
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"due_in":      map[string]any{"type": "string"},
		},
		"required": []any{"title"},
	},
	StepTypeUpdateProperty: {
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{"type": "string"},
			"value": map[string]any{},
		},
		"required": []any{"field"},
	},
	StepTypeMoveStage: {
		"type": "object",
		"properties": map[string]any{
			"stage": map[string]any{"type": "string"},
		},
		"required": []any{"stage"},
	},
	StepTypeBranch: {
		"type": "object",
		"properties": map[string]any{
			"field":    map[string]any{"type": "string"},
			"operator": map[string]any{"type": "string", "enum": []any{"eq", "neq", "gt", "lt", "contains", "exists"}},
			"value":    map[string]any{},
			"source":   map[string]any{"type": "string", "enum": []any{"entity", "context"}},
		},
		"required": []any{"field", "operator"},
	},
	StepTypeWebhook: {
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string"},
			"method":  map[string]any{"type": "string"},
			"headers": map[string]any{"type": "object"},
			"body":    map[string]any{"type": "string"},
			"timeout": map[string]any{"type": "string"},
		},
		"required": []any{"url"},
	},
	StepTypeAddToList: {
		"type": "object",
		"properties": map[string]any{
			"list_id": map[string]any{"type": "string"},
		},
		"required": []any{"list_id"},
	},
	StepTypeRemoveFromList: {
		"type": "object",
		"properties": map[string]any{
			"list_id": map[string]any{"type": "string"},
		},
		"required": []any{"list_id"},
	},
	StepTypeAssignRoundRobin: {
		"type": "object",
		"properties": map[string]any{
			"team_id":     map[string]any{"type": "string"},
			"owner_field": map[string]any{"type": "string"},
		},
		"required": []any{"team_id"},
	},
	StepTypeIncrementCounter: {
		"type": "object",
		"properties": map[string]any{
			"counter": map[string]any{"type": "string"},
			"by":      map[string]any{"type": "number"},
		},
		"required": []any{"counter"},
	},
	StepTypeLogActivity: {
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
		"required": []any{"message"},
	},
}

// ValidateStepConfig validates a node's configuration against the schema for
// its step type.
func ValidateStepConfig(node *StepNode) error {
	schema, ok := stepConfigSchemas[node.Type]
	if !ok {
		return fmt.Errorf("node %s type %q: %w", node.ID, node.Type, ErrUnknownStepType)
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(config)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate config for node %s: %w", node.ID, err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid config for node %s (%s): %s", node.ID, node.Type, strings.Join(details, "; "))
	}

	return nil
}
