// Package template renders step configuration strings against enrollment
// state, so email bodies and webhook payloads can reference the target entity
// and accumulated context.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/cadencehq/cadence/pkg/models"
)

// RenderWithEnrollment renders a template string with the enrollment's
// context, the target entity's properties, and enrollment identifiers.
func RenderWithEnrollment(input string, enrollment *models.Enrollment, entity *models.Entity) (string, error) {
	data := map[string]any{
		"context": enrollment.Context,
		"enrollment": map[string]any{
			"id":          enrollment.ID,
			"workflow_id": enrollment.WorkflowID,
			"target_id":   enrollment.TargetID,
			"target_type": string(enrollment.TargetType),
		},
	}

	if entity != nil {
		data["entity"] = entity.Properties
	}

	return Render(input, data)
}

// Render parses and executes a template string against arbitrary data.
func Render(templateStr string, data any) (string, error) {
	if !strings.Contains(templateStr, "{{") {
		return templateStr, nil
	}

	tmpl, err := template.
		New("step").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}
