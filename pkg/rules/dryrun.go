package rules

import (
	"context"
	"slices"
	"time"

	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/models"
)

// TestRule evaluates a rule against sample input and explains every leaf. It never
// dispatches actions and never touches counters, metadata or evaluation history.
func (e *Engine) TestRule(ctx context.Context, tenantID, ruleID string, input map[string]any) (*models.RuleTestResult, error) {
	rule, err := e.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	return explainRule(rule, input, e.now()), nil
}

func explainRule(rule *models.Rule, input map[string]any, now time.Time) *models.RuleTestResult {
	if input == nil {
		input = map[string]any{}
	}

	result, diagnostics := condition.Explain(rule.Conditions, input)
	if diagnostics == nil {
		diagnostics = []models.ConditionDiagnostic{}
	}

	out := &models.RuleTestResult{
		Matched:         result.Matched,
		Conditions:      diagnostics,
		ActionsToRun:    []string{},
		ScheduleAllowed: scheduleAllows(rule.Schedule, now),
	}

	if !result.Matched {
		return out
	}

	ordered := slices.Clone(rule.Actions)
	slices.SortStableFunc(ordered, func(a, b models.RuleAction) int {
		return a.Order - b.Order
	})

	for _, action := range ordered {
		if action.Condition == nil || condition.Evaluate(*action.Condition, input).Matched {
			out.ActionsToRun = append(out.ActionsToRun, action.ID)
		}
	}

	return out
}
