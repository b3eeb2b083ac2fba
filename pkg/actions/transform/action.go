// Package transform provides the data transformation action using Go template expressions.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
	"github.com/dukex/flowrule/pkg/template"
)

const ID = "transform_data"

var ErrExpressionRequired = errors.New("transform expression is required")

// ActionFactory is the factory for creating Transform actions.
type ActionFactory struct{}

// NewActionFactory creates a new instance of ActionFactory for the Transform action.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the unique identifier for the Transform action factory.
func (h *ActionFactory) ID() string {
	return ID
}

func (h *ActionFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{
		ID:          ID,
		Name:        "Transform Data",
		Description: "Transform data using a Go template expression",
		Category:    models.CategorySystem,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{"type": "object", "title": "Input Data"},
				"expression": map[string]any{
					"type":   "string",
					"title":  "Transform Expression",
					"format": "template",
					"examples": []any{
						"{{ .name }}",
						`{"fullName": "{{ .firstName }} {{ .lastName }}", "isActive": {{ eq .status "active" }}}`,
						"{{ len .items }}",
					},
				},
				"language": map[string]any{"type": "string", "enum": []any{"template"}, "title": "Language", "default": "template"},
			},
			"required": []any{"input", "expression"},
		},
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"result": map[string]any{}},
		},
		Retryable: false,
		Timeout:   5000,
		Public:    true,
	}
}

// Create creates a new Action instance based on the provided input.
func (h *ActionFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &Action{}

	err := models.Decode(input, action)
	if err != nil {
		return nil, err
	}

	if action.Expression == "" {
		return nil, ErrExpressionRequired
	}

	return action, nil
}

type Action struct {
	Input      map[string]any `json:"input"`
	Expression string         `json:"expression"`
}

func (a *Action) Execute(ctx context.Context, actx models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	data := map[string]any{
		"variables": actx.Variables,
	}

	for key, value := range a.Input {
		data[key] = value
	}

	result, err := template.Render(a.Expression, data)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	logger.DebugContext(ctx, "Transform completed")

	return map[string]any{"result": result}, nil
}
