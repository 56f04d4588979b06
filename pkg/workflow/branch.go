package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/cadencehq/cadence/pkg/models"
)

// Branch predicate operators.
const (
	opEquals      = "eq"
	opNotEquals   = "neq"
	opGreaterThan = "gt"
	opLessThan    = "lt"
	opContains    = "contains"
	opExists      = "exists"
)

// evaluateBranch resolves a branch node's condition against the target entity
// or the enrollment context and returns the outcome plus a detail string for
// the execution path.
//
// Config: {field, operator, value, source} where source is "entity" (default)
// or "context".
func (x *Executor) evaluateBranch(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode) (bool, string, error) {
	field := strConfig(node, "field", "")
	if field == "" {
		return false, "", fmt.Errorf("branch node %s: condition requires a field", node.ID)
	}

	operator := strConfig(node, "operator", "")
	if operator == "" {
		return false, "", fmt.Errorf("branch node %s: condition requires an operator", node.ID)
	}

	actual, present, err := x.resolveOperand(ctx, enrollment, strConfig(node, "source", "entity"), field)
	if err != nil {
		return false, "", fmt.Errorf("branch node %s: %w", node.ID, err)
	}

	expected := node.Config["value"]

	outcome, err := applyOperator(operator, actual, present, expected)
	if err != nil {
		return false, "", fmt.Errorf("branch node %s: %w", node.ID, err)
	}

	detail := fmt.Sprintf("%s %s %v => %t", field, operator, expected, outcome)

	return outcome, detail, nil
}

// resolveOperand reads the condition's left-hand value. A missing field is
// not an error; operators other than exists treat it as a non-match.
func (x *Executor) resolveOperand(ctx context.Context, enrollment *models.Enrollment, source, field string) (any, bool, error) {
	if source == "context" {
		if enrollment.Context == nil {
			return nil, false, nil
		}

		value, ok := enrollment.Context[field]

		return value, ok, nil
	}

	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return nil, false, err
	}

	value, ok := entity.Property(field)

	return value, ok, nil
}

func applyOperator(operator string, actual any, present bool, expected any) (bool, error) {
	if operator == opExists {
		return present, nil
	}

	if !present {
		return false, nil
	}

	switch operator {
	case opEquals:
		return looseEqual(actual, expected), nil

	case opNotEquals:
		return !looseEqual(actual, expected), nil

	case opGreaterThan, opLessThan:
		left, leftOK := toNumber(actual)
		right, rightOK := toNumber(expected)

		if !leftOK || !rightOK {
			return false, fmt.Errorf("operator %s requires numeric operands, got %v and %v", operator, actual, expected)
		}

		if operator == opGreaterThan {
			return left > right, nil
		}

		return left < right, nil

	case opContains:
		return strings.Contains(fmt.Sprintf("%v", actual), fmt.Sprintf("%v", expected)), nil

	default:
		return false, fmt.Errorf("unknown operator %s", operator)
	}
}

// looseEqual compares numerically when both sides coerce to numbers, so JSON's
// float64 decoding does not break comparisons against integer config values.
// Everything else compares by string form.
func looseEqual(actual, expected any) bool {
	left, leftOK := toNumber(actual)
	right, rightOK := toNumber(expected)

	if leftOK && rightOK {
		return left == right
	}

	return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
}
