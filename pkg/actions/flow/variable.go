package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
)

const SetVariableID = "set_variable"

var ErrVariableNameRequired = errors.New("variable name is required")

type SetVariableFactory struct{}

func NewSetVariableFactory() *SetVariableFactory {
	return &SetVariableFactory{}
}

func (*SetVariableFactory) ID() string {
	return SetVariableID
}

func (*SetVariableFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{
		ID:          SetVariableID,
		Name:        "Set Variable",
		Description: "Set a workflow variable",
		Category:    models.CategorySystem,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":  map[string]any{"type": "string", "title": "Variable Name"},
				"value": map[string]any{"title": "Value"},
				"scope": map[string]any{"type": "string", "enum": []any{"execution", "workflow", "global"}, "title": "Scope", "default": "execution"},
			},
			"required": []any{"name", "value"},
		},
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"set": map[string]any{"type": "boolean"}},
		},
		Retryable: false,
		Timeout:   1000,
		Public:    true,
	}
}

func (*SetVariableFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &SetVariableAction{Scope: "execution"}

	err := models.Decode(input, action)
	if err != nil {
		return nil, err
	}

	if action.Name == "" {
		return nil, ErrVariableNameRequired
	}

	return action, nil
}

// SetVariableAction only acknowledges the assignment. The workflow engine applies
// it to the execution variables.
type SetVariableAction struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Scope string `json:"scope"`
}

func (a *SetVariableAction) Execute(ctx context.Context, _ models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger.DebugContext(ctx, "Setting variable", "name", a.Name, "scope", a.Scope)

	return map[string]any{"set": true}, nil
}
