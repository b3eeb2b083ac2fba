// Package flow provides the actions that steer execution: delay, set_variable,
// start_workflow and evaluate_rule.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

const DelayID = "delay"

var ErrNegativeDuration = errors.New("delay duration must not be negative")

type DelayFactory struct {
	clock clockwork.Clock
}

func NewDelayFactory(clock clockwork.Clock) *DelayFactory {
	return &DelayFactory{clock: clock}
}

func (f *DelayFactory) ID() string {
	return DelayID
}

func (f *DelayFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{
		ID:          DelayID,
		Name:        "Delay",
		Description: "Wait for a specified duration",
		Category:    models.CategorySystem,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"duration": map[string]any{"type": "number", "title": "Duration (ms)"},
			},
			"required": []any{"duration"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"delayed":        map[string]any{"type": "boolean"},
				"actualDuration": map[string]any{"type": "number"},
			},
		},
		Retryable: false,
		Timeout:   86400000,
		Public:    true,
	}
}

func (f *DelayFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &DelayAction{clock: f.clock}

	err := models.Decode(input, action)
	if err != nil {
		return nil, err
	}

	if action.Duration < 0 {
		return nil, ErrNegativeDuration
	}

	return action, nil
}

// DelayAction waits Duration milliseconds or until the context is done.
type DelayAction struct {
	Duration float64 `json:"duration"`

	clock clockwork.Clock
}

func (a *DelayAction) Execute(ctx context.Context, _ models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	start := a.clock.Now()
	wait := time.Duration(a.Duration * float64(time.Millisecond))

	logger.DebugContext(ctx, "Delaying", "duration_ms", a.Duration)

	err := Sleep(ctx, a.clock, wait)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"delayed":        true,
		"actualDuration": a.clock.Since(start).Milliseconds(),
	}, nil
}

// Sleep blocks for d on clock. It returns ctx.Err() if the context ends first.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
