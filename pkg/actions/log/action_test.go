package logaction

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewActionFactory(t *testing.T) {
	factory := NewActionFactory()
	assert.NotNil(t, factory)
	assert.Equal(t, "log", factory.ID())
	assert.Equal(t, models.CategorySystem, factory.Definition().Category)
	assert.Equal(t, int64(1000), factory.Definition().Timeout)
}

func TestActionFactory_Create(t *testing.T) {
	factory := NewActionFactory()

	tests := []struct {
		name          string
		input         map[string]any
		expectedLevel string
	}{
		{
			name:          "nil input defaults to info",
			input:         nil,
			expectedLevel: "info",
		},
		{
			name:          "explicit level",
			input:         map[string]any{"level": "warn", "message": "careful"},
			expectedLevel: "warn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := factory.Create(context.Background(), tt.input)
			require.NoError(t, err)
			require.IsType(t, &Action{}, action)
			assert.Equal(t, tt.expectedLevel, action.(*Action).Level)
		})
	}
}

func TestAction_Execute(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	action := &Action{Level: "error", Message: "order failed", Data: map[string]any{"order_id": "o-1"}}

	output, err := action.Execute(context.Background(), models.ActionContext{}, logger)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"logged": true}, output)

	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "order failed")
	assert.Contains(t, buf.String(), "order_id=o-1")
}
