// Package logaction writes a message to the execution log.
package logaction

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
)

const ID = "log"

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

type ActionFactory struct{}

func (*ActionFactory) ID() string {
	return ID
}

func (*ActionFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{
		ID:          ID,
		Name:        "Log Message",
		Description: "Write a log message",
		Category:    models.CategorySystem,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"level":   map[string]any{"type": "string", "enum": []any{"debug", "info", "warn", "error"}, "title": "Level", "default": "info"},
				"message": map[string]any{"type": "string", "title": "Message"},
				"data":    map[string]any{"type": "object", "title": "Additional Data"},
			},
			"required": []any{"level", "message"},
		},
		OutputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"logged": map[string]any{"type": "boolean"}},
		},
		Retryable: false,
		Timeout:   1000,
		Public:    true,
	}
}

func (f *ActionFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &Action{Level: "info"}

	err := models.Decode(input, action)
	if err != nil {
		return nil, err
	}

	return action, nil
}

type Action struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (a *Action) Execute(ctx context.Context, _ models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	attrs := make([]any, 0, len(a.Data)*2)
	for key, value := range a.Data {
		attrs = append(attrs, key, value)
	}

	logger.Log(ctx, level(a.Level), a.Message, attrs...)

	return map[string]any{"logged": true}, nil
}

func level(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
