package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/dukex/flowrule/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

// EvaluateOptions carries the caller side of an evaluation.
type EvaluateOptions struct {
	// Context is exposed to action config templates as .context next to .input.
	Context map[string]any
	// Caller is propagated to every dispatched action. RuleID is always overwritten.
	Caller models.ActionContext

	ruleSetID string
}

// EvaluateRule runs the rule pipeline: status, schedule, limits, conditions, then
// the matching actions in ascending order. Only an unknown rule is returned as an
// error; skips and action failures are recorded on the evaluation.
func (e *Engine) EvaluateRule(
	ctx context.Context,
	tenantID, ruleID string,
	input map[string]any,
	opts EvaluateOptions,
) (*models.RuleEvaluation, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "rule.evaluate",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.RuleIDKey, ruleID),
		attribute.String(otelhelper.RuleSetIDKey, opts.ruleSetID),
	)
	defer span.End()

	if input == nil {
		input = map[string]any{}
	}

	start := e.clock.Now()

	evaluation := &models.RuleEvaluation{
		ID:                models.NewID(models.PrefixRuleEvaluation),
		RuleID:            ruleID,
		RuleSetID:         opts.ruleSetID,
		TenantID:          tenantID,
		Input:             input,
		MatchedConditions: []string{},
		Actions:           []*models.ActionExecution{},
		EvaluatedAt:       start.UTC(),
	}

	rule, err := e.admit(ctx, tenantID, ruleID, input, evaluation)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	succeeded := true
	if evaluation.Result == models.ResultMatched {
		succeeded = e.runActions(ctx, rule, input, opts, evaluation)
	}

	evaluation.Duration = e.clock.Now().Sub(start).Milliseconds()

	if evaluation.Result != models.ResultSkipped {
		err = e.recordMetadata(ctx, tenantID, ruleID, evaluation, succeeded)
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to update rule metadata", "rule_id", ruleID, "error", err)
		}
	}

	err = e.evaluations.Save(context.WithoutCancel(ctx), tenantID, evaluation.ID, evaluation)
	if err != nil {
		return nil, fmt.Errorf("failed to save rule evaluation: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(evaluation.Result)))

	e.logger.DebugContext(ctx, "Rule evaluated",
		"tenant_id", tenantID,
		"rule_id", ruleID,
		"result", evaluation.Result,
		"skip_reason", evaluation.SkipReason,
		"actions", len(evaluation.Actions),
	)

	e.emitEvaluation(ctx, rule, evaluation)

	return evaluation, nil
}

// EvaluateRuleByID evaluates a rule on behalf of the evaluate_rule action.
func (e *Engine) EvaluateRuleByID(ctx context.Context, tenantID, ruleID string, input map[string]any) (map[string]any, error) {
	evaluation, err := e.EvaluateRule(ctx, tenantID, ruleID, input, EvaluateOptions{})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"evaluationId":      evaluation.ID,
		"result":            string(evaluation.Result),
		"matched":           evaluation.Result == models.ResultMatched,
		"matchedConditions": evaluation.MatchedConditions,
		"actionsExecuted":   len(evaluation.Actions),
		"error":             evaluation.Error,
	}, nil
}

// admit decides the result of the condition stage under the rule's lock and, on a
// match, consumes one execution from the limit counters.
func (e *Engine) admit(
	ctx context.Context,
	tenantID, ruleID string,
	input map[string]any,
	evaluation *models.RuleEvaluation,
) (*models.Rule, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, ruleID))
	defer unlock()

	rule, err := e.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	now := evaluation.EvaluatedAt

	skip := func(reason string) (*models.Rule, error) {
		evaluation.Result = models.ResultSkipped
		evaluation.SkipReason = reason

		return rule, nil
	}

	if rule.Status != models.RuleStatusActive {
		return skip(skipNotActive)
	}

	if !scheduleAllows(rule.Schedule, now) {
		return skip(skipSchedule)
	}

	resetCounters(&rule.Counters, now)

	if reason := limitReason(rule.Limits, rule.Counters, now); reason != "" {
		return skip(reason)
	}

	if problems := condition.Validate(rule.Conditions); len(problems) > 0 {
		evaluation.Result = models.ResultError
		evaluation.Error = "invalid conditions: " + strings.Join(problems, "; ")

		return rule, nil
	}

	result := condition.Evaluate(rule.Conditions, input)
	if result.MatchedIDs != nil {
		evaluation.MatchedConditions = result.MatchedIDs
	}

	if !result.Matched {
		evaluation.Result = models.ResultNotMatched

		return rule, nil
	}

	evaluation.Result = models.ResultMatched

	consume(&rule.Counters, now)

	err = e.rules.Save(context.WithoutCancel(ctx), tenantID, ruleID, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to save rule counters: %w", err)
	}

	return rule, nil
}

// runActions dispatches the rule actions in ascending order and reports whether none failed.
func (e *Engine) runActions(
	ctx context.Context,
	rule *models.Rule,
	input map[string]any,
	opts EvaluateOptions,
	evaluation *models.RuleEvaluation,
) bool {
	ordered := slices.Clone(rule.Actions)
	slices.SortStableFunc(ordered, func(a, b models.RuleAction) int {
		return a.Order - b.Order
	})

	data := map[string]any{
		"input":   input,
		"context": opts.Context,
		"rule":    map[string]any{"id": rule.ID, "name": rule.Name},
	}

	caller := opts.Caller
	caller.RuleID = rule.ID

	succeeded := true

	for _, action := range ordered {
		if ctx.Err() != nil {
			evaluation.Error = "evaluation cancelled: " + ctx.Err().Error()

			return false
		}

		if action.Condition != nil && !condition.Evaluate(*action.Condition, input).Matched {
			continue
		}

		failure := e.dispatch(ctx, rule, action, data, caller, evaluation)
		if failure == "" {
			continue
		}

		succeeded = false

		e.logger.WarnContext(ctx, "Rule action failed",
			"tenant_id", rule.TenantID,
			"rule_id", rule.ID,
			"action_id", action.ID,
			"action_type", action.Type,
			"error", failure,
		)

		if action.OnError == models.OnErrorStop {
			evaluation.Error = fmt.Sprintf("action '%s' (%s) failed: %s", action.ID, action.Type, failure)

			return false
		}
	}

	return succeeded
}

// dispatch runs one action and returns its failure message, or "" on success.
func (e *Engine) dispatch(
	ctx context.Context,
	rule *models.Rule,
	action models.RuleAction,
	data map[string]any,
	caller models.ActionContext,
	evaluation *models.RuleEvaluation,
) string {
	config, err := template.RenderMap(action.Config, data)
	if err != nil {
		return err.Error()
	}

	execution, err := e.actions.Execute(ctx, rule.TenantID, action.Type, config, caller)
	if err != nil {
		return err.Error()
	}

	evaluation.Actions = append(evaluation.Actions, execution)

	if execution.Failed() {
		return execution.ErrorMessage()
	}

	return ""
}

func (e *Engine) recordMetadata(
	ctx context.Context,
	tenantID, ruleID string,
	evaluation *models.RuleEvaluation,
	succeeded bool,
) error {
	unlock := e.locks.Lock(lock.Key(tenantID, ruleID))
	defer unlock()

	rule, err := e.rules.Get(context.WithoutCancel(ctx), tenantID, ruleID)
	if err != nil {
		return err
	}

	at := evaluation.EvaluatedAt
	metadata := &rule.Metadata

	metadata.ExecutionCount++
	metadata.AvgExecutionTime = models.RunningMean(metadata.AvgExecutionTime, metadata.ExecutionCount, float64(evaluation.Duration))
	metadata.LastExecutedAt = &at

	if evaluation.Result == models.ResultMatched {
		metadata.MatchCount++
		metadata.LastMatchedAt = &at

		if succeeded {
			metadata.SuccessCount++
		}

		metadata.SuccessRate = float64(metadata.SuccessCount) / float64(metadata.MatchCount) * 100
	}

	return e.rules.Save(context.WithoutCancel(ctx), tenantID, ruleID, rule)
}

func (e *Engine) emitEvaluation(ctx context.Context, rule *models.Rule, evaluation *models.RuleEvaluation) {
	if e.publisher == nil {
		return
	}

	event := events.Execution{
		BaseEvent:      events.NewBaseEvent(events.RuleEvaluatedEvent, evaluation.TenantID),
		AutomationID:   rule.ID,
		AutomationName: rule.Name,
		ExecutionID:    evaluation.ID,
		Status:         string(evaluation.Result),
		Input:          evaluation.Input,
		Output:         map[string]any{"matched_conditions": evaluation.MatchedConditions, "actions": len(evaluation.Actions)},
		Error:          evaluation.Error,
		Duration:       evaluation.Duration,
	}

	err := eventbus.Emit(context.WithoutCancel(ctx), e.publisher, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish rule evaluation", "evaluation_id", evaluation.ID, "error", err)
	}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}
