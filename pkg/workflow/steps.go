package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cadencehq/cadence/pkg/dispatch"
	"github.com/cadencehq/cadence/pkg/models"
	"github.com/cadencehq/cadence/pkg/template"
)

// performAction executes one external-effect step and returns a short detail
// string for the execution path. Effects are idempotent per (enrollment,
// node): the dispatch layer reserves the key before side effects happen.
func (x *Executor) performAction(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode) (string, error) {
	idempotencyKey := enrollment.ID + ":" + node.ID

	switch node.Type {
	case models.StepTypeSendEmail:
		return x.sendEmail(ctx, enrollment, node, idempotencyKey)

	case models.StepTypeSendWhatsApp:
		return x.sendWhatsApp(ctx, enrollment, node, idempotencyKey)

	case models.StepTypeCreateTask:
		return x.createTask(ctx, enrollment, node, idempotencyKey)

	case models.StepTypeLogActivity:
		return x.logActivity(ctx, enrollment, node, idempotencyKey)

	case models.StepTypeUpdateProperty:
		return x.updateProperty(ctx, enrollment, node)

	case models.StepTypeMoveStage:
		return x.moveStage(ctx, enrollment, node)

	case models.StepTypeAddToList:
		return x.changeListMembership(ctx, enrollment, node, true)

	case models.StepTypeRemoveFromList:
		return x.changeListMembership(ctx, enrollment, node, false)

	case models.StepTypeAssignRoundRobin:
		return x.assignRoundRobin(ctx, enrollment, node)

	case models.StepTypeIncrementCounter:
		return x.incrementCounter(enrollment, node)

	case models.StepTypeWebhook:
		return x.callWebhook(ctx, enrollment, node, idempotencyKey)

	default:
		return "", fmt.Errorf("node %s: unsupported step type %s", node.ID, node.Type)
	}
}

func (x *Executor) sendEmail(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, key string) (string, error) {
	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	to := strConfig(node, "to", "")
	if to == "" {
		field := strConfig(node, "to_field", "email")

		value, ok := entity.Property(field)
		if !ok {
			return "", fmt.Errorf("node %s: entity %s has no %s property", node.ID, entity.ID, field)
		}

		to = fmt.Sprintf("%v", value)
	}

	subject, err := template.RenderWithEnrollment(strConfig(node, "subject", ""), enrollment, entity)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	body, err := template.RenderWithEnrollment(strConfig(node, "body", ""), enrollment, entity)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	err = x.dispatchers.Email.Send(ctx, dispatch.Delivery{
		To:             to,
		Subject:        subject,
		Body:           body,
		IdempotencyKey: key,
	})
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	return "email sent to " + to, nil
}

func (x *Executor) sendWhatsApp(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, key string) (string, error) {
	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	field := strConfig(node, "phone_field", "phone")

	value, ok := entity.Property(field)
	if !ok {
		return "", fmt.Errorf("node %s: entity %s has no %s property", node.ID, entity.ID, field)
	}

	message, err := template.RenderWithEnrollment(strConfig(node, "message", ""), enrollment, entity)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	to := fmt.Sprintf("%v", value)

	err = x.dispatchers.WhatsApp.Send(ctx, dispatch.Delivery{
		To:             to,
		Body:           message,
		IdempotencyKey: key,
	})
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	return "whatsapp sent to " + to, nil
}

func (x *Executor) createTask(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, key string) (string, error) {
	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	title, err := template.RenderWithEnrollment(strConfig(node, "title", ""), enrollment, entity)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	if title == "" {
		return "", fmt.Errorf("node %s: create_task requires a title", node.ID)
	}

	description, err := template.RenderWithEnrollment(strConfig(node, "description", ""), enrollment, entity)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	var dueAt *time.Time

	if in, err := durationConfig(node, "due_in"); err == nil && in > 0 {
		due := time.Now().UTC().Add(in)
		dueAt = &due
	}

	err = x.dispatchers.Tasks.CreateTask(ctx, enrollment.TargetType, enrollment.TargetID, title, description, dueAt, key)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	return "task created: " + title, nil
}

func (x *Executor) logActivity(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, key string) (string, error) {
	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	message, err := template.RenderWithEnrollment(strConfig(node, "message", ""), enrollment, entity)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	err = x.dispatchers.Tasks.LogActivity(ctx, enrollment.TargetType, enrollment.TargetID, message, key)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	return "activity logged", nil
}

func (x *Executor) updateProperty(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode) (string, error) {
	field := strConfig(node, "field", "")
	if field == "" {
		return "", fmt.Errorf("node %s: update_property requires a field", node.ID)
	}

	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	value := node.Config["value"]
	if str, ok := value.(string); ok {
		rendered, err := template.RenderWithEnrollment(str, enrollment, entity)
		if err != nil {
			return "", fmt.Errorf("node %s: %w", node.ID, err)
		}

		value = rendered
	}

	entity.SetProperty(field, value)
	entity.UpdatedAt = time.Now().UTC()

	if err := x.persistence.Entities().SaveEntity(ctx, entity); err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	return fmt.Sprintf("set %s=%v", field, value), nil
}

func (x *Executor) moveStage(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode) (string, error) {
	stage := strConfig(node, "stage", "")
	if stage == "" {
		return "", fmt.Errorf("node %s: move_stage requires a stage", node.ID)
	}

	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	field := strConfig(node, "stage_field", "stage")
	entity.SetProperty(field, stage)
	entity.UpdatedAt = time.Now().UTC()

	if err := x.persistence.Entities().SaveEntity(ctx, entity); err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	return "moved to stage " + stage, nil
}

func (x *Executor) changeListMembership(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, add bool) (string, error) {
	listID := strConfig(node, "list_id", "")
	if listID == "" {
		return "", fmt.Errorf("node %s: list membership step requires a list_id", node.ID)
	}

	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	if add {
		entity.AddToList(listID)
	} else {
		entity.RemoveFromList(listID)
	}

	entity.UpdatedAt = time.Now().UTC()

	if err := x.persistence.Entities().SaveEntity(ctx, entity); err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	if add {
		return "added to list " + listID, nil
	}

	return "removed from list " + listID, nil
}

func (x *Executor) assignRoundRobin(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode) (string, error) {
	teamID := strConfig(node, "team_id", "")
	if teamID == "" {
		return "", fmt.Errorf("node %s: assign_round_robin requires a team_id", node.ID)
	}

	assignee, err := x.dispatchers.Assigner.NextAssignee(ctx, teamID)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	field := strConfig(node, "owner_field", "owner_id")
	entity.SetProperty(field, assignee)
	entity.UpdatedAt = time.Now().UTC()

	if err := x.persistence.Entities().SaveEntity(ctx, entity); err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	if enrollment.Context == nil {
		enrollment.Context = map[string]any{}
	}

	enrollment.Context["assigned_to"] = assignee

	return "assigned to " + assignee, nil
}

func (x *Executor) incrementCounter(enrollment *models.Enrollment, node *models.StepNode) (string, error) {
	counter := strConfig(node, "counter", "")
	if counter == "" {
		return "", fmt.Errorf("node %s: increment_counter requires a counter name", node.ID)
	}

	amount := 1.0
	if v, err := numberConfig(node, "by"); err == nil {
		amount = v
	}

	if enrollment.Context == nil {
		enrollment.Context = map[string]any{}
	}

	current, _ := toNumber(enrollment.Context[counter])
	enrollment.Context[counter] = current + amount

	return fmt.Sprintf("counter %s=%v", counter, current+amount), nil
}

func (x *Executor) callWebhook(ctx context.Context, enrollment *models.Enrollment, node *models.StepNode, key string) (string, error) {
	url := strConfig(node, "url", "")
	if url == "" {
		return "", fmt.Errorf("node %s: webhook requires a url", node.ID)
	}

	entity, err := x.entity(ctx, enrollment)
	if err != nil {
		return "", err
	}

	body, err := template.RenderWithEnrollment(strConfig(node, "body", ""), enrollment, entity)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	headers := map[string]string{}

	if raw, ok := node.Config["headers"].(map[string]any); ok {
		for name, value := range raw {
			headers[name] = fmt.Sprintf("%v", value)
		}
	}

	var timeout time.Duration
	if d, err := durationConfig(node, "timeout"); err == nil && d > 0 {
		timeout = d
	}

	resp, err := x.dispatchers.Webhooks.Call(ctx, dispatch.WebhookRequest{
		URL:            url,
		Method:         strConfig(node, "method", "POST"),
		Headers:        headers,
		Body:           body,
		Timeout:        timeout,
		IdempotencyKey: key,
	})
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}

	if enrollment.Context == nil {
		enrollment.Context = map[string]any{}
	}

	enrollment.Context["last_webhook_status"] = resp.StatusCode

	return fmt.Sprintf("webhook %s responded %d", url, resp.StatusCode), nil
}

func (x *Executor) entity(ctx context.Context, enrollment *models.Enrollment) (*models.Entity, error) {
	entity, err := x.persistence.Entities().EntityByID(ctx, enrollment.TargetType, enrollment.TargetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", enrollment.TargetType, enrollment.TargetID, err)
	}

	return entity, nil
}

func strConfig(node *models.StepNode, key, fallback string) string {
	if raw, ok := node.Config[key]; ok {
		if str, ok := raw.(string); ok && str != "" {
			return str
		}
	}

	return fallback
}

func durationConfig(node *models.StepNode, key string) (time.Duration, error) {
	raw, ok := node.Config[key]
	if !ok {
		return 0, fmt.Errorf("node %s: missing duration config %s", node.ID, key)
	}

	str, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("node %s: config %s must be a duration string", node.ID, key)
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return 0, fmt.Errorf("node %s: config %s: %w", node.ID, key, err)
	}

	return duration, nil
}

func numberConfig(node *models.StepNode, key string) (float64, error) {
	raw, ok := node.Config[key]
	if !ok {
		return 0, fmt.Errorf("node %s: missing numeric config %s", node.ID, key)
	}

	value, ok := toNumber(raw)
	if !ok {
		return 0, fmt.Errorf("node %s: config %s is not a number", node.ID, key)
	}

	return value, nil
}

// toNumber coerces the numeric shapes JSON decoding produces.
func toNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)

		return f, err == nil
	default:
		return 0, false
	}
}
