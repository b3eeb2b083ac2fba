package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/dukex/flowrule/pkg/rules"
	"github.com/dukex/flowrule/pkg/triggers/webhook"
	"github.com/dukex/flowrule/pkg/workflow"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// webhookActionID is the action definition that delivers webhook targets.
const webhookActionID = "webhook"

var (
	ErrNoDispatcher    = errors.New("no dispatcher configured for target type")
	ErrUnknownFunction = errors.New("unknown function")
	ErrRuleFailed      = errors.New("rule evaluation failed")
	ErrInvalidPayload  = errors.New("payload does not match the event schema")
)

// Caller identifies who fires a manual trigger.
type Caller struct {
	UserID  string
	RoleIDs []string
}

// FireTrigger runs an active trigger with input: filters, then transformations, then a
// concurrent fan out to every enabled target. Only an unknown or inactive trigger is
// returned as an error; target failures are recorded on the execution.
func (m *Manager) FireTrigger(ctx context.Context, tenantID, id string, input map[string]any) (*models.TriggerExecution, error) {
	trigger, err := m.GetTrigger(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if trigger.Status != models.TriggerStatusActive {
		return nil, apperr.NotActive("FireTrigger", kindTrigger, id)
	}

	return m.fire(ctx, trigger, input)
}

// FireManualTrigger fires a manual trigger on behalf of caller. The caller must match the
// user or role allow-list; empty allow-lists admit everyone.
func (m *Manager) FireManualTrigger(
	ctx context.Context,
	tenantID, id string,
	input map[string]any,
	caller Caller,
) (*models.TriggerExecution, error) {
	trigger, err := m.GetTrigger(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	config, ok := trigger.Config.(*models.ManualTriggerConfig)
	if !ok {
		return nil, apperr.Validation("FireManualTrigger", kindTrigger, id, fmt.Sprintf("trigger is of type %s, not manual", trigger.Type))
	}

	if !allowed(config, caller) {
		return nil, apperr.Forbidden("FireManualTrigger", kindTrigger, id, fmt.Sprintf("user %s is not allowed to fire this trigger", caller.UserID))
	}

	if trigger.Status != models.TriggerStatusActive {
		return nil, apperr.NotActive("FireManualTrigger", kindTrigger, id)
	}

	return m.fire(ctx, trigger, input)
}

func allowed(config *models.ManualTriggerConfig, caller Caller) bool {
	if len(config.AllowedUsers) == 0 && len(config.AllowedRoles) == 0 {
		return true
	}

	if caller.UserID != "" && slices.Contains(config.AllowedUsers, caller.UserID) {
		return true
	}

	for _, role := range caller.RoleIDs {
		if slices.Contains(config.AllowedRoles, role) {
			return true
		}
	}

	return false
}

// HandleEvent fires every active event trigger of tenantID listening to eventName.
// Triggers whose source or schema rejects the payload are skipped.
func (m *Manager) HandleEvent(
	ctx context.Context,
	tenantID, eventName string,
	payload map[string]any,
) ([]*models.TriggerExecution, error) {
	var (
		executions []*models.TriggerExecution
		errs       []error
	)

	for _, ref := range m.listeners(tenantID, eventName) {
		trigger, err := m.GetTrigger(ctx, ref.tenantID, ref.id)
		if apperr.IsNotFound(err) {
			continue
		}

		if err != nil {
			errs = append(errs, err)

			continue
		}

		config, ok := trigger.Config.(*models.EventTriggerConfig)
		if !ok || trigger.Status != models.TriggerStatusActive {
			continue
		}

		if config.Source != "" && payload["source"] != config.Source {
			continue
		}

		err = validatePayload(config.Schema, payload)
		if err != nil {
			m.logger.WarnContext(ctx, "Event rejected by trigger schema", "trigger_id", trigger.ID, "event_name", eventName, "error", err)

			continue
		}

		execution, err := m.fire(ctx, trigger, payload)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		executions = append(executions, execution)
	}

	return executions, errors.Join(errs...)
}

func validatePayload(schema map[string]any, payload map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("invalid event schema: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(messages, "; "))
}

// HandleWebhook fires the webhook trigger bound to {tenant, path, method}. The body must
// be a JSON object or empty.
func (m *Manager) HandleWebhook(
	ctx context.Context,
	tenantID, path, method string,
	body []byte,
	signature string,
) (*models.TriggerExecution, error) {
	route := webhook.NewRoute(tenantID, path, method)

	err := m.webhooks.Allow(tenantID)
	if err != nil {
		return nil, err
	}

	id, err := m.webhooks.Resolve(route, body, signature)

	switch {
	case errors.Is(err, webhook.ErrRouteNotFound):
		return nil, apperr.NotFound("HandleWebhook", "webhook route", route.String())
	case errors.Is(err, webhook.ErrInvalidSignature):
		return nil, apperr.Forbidden("HandleWebhook", kindTrigger, id, err.Error())
	case err != nil:
		return nil, err
	}

	input := map[string]any{}

	if len(body) > 0 {
		err = json.Unmarshal(body, &input)
		if err != nil {
			return nil, apperr.Validation("HandleWebhook", kindTrigger, id, "body must be a JSON object: "+err.Error())
		}
	}

	return m.FireTrigger(ctx, tenantID, id, input)
}

func (m *Manager) fire(ctx context.Context, trigger *models.Trigger, input map[string]any) (*models.TriggerExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "trigger.fire",
		attribute.String(otelhelper.TenantIDKey, trigger.TenantID),
		attribute.String(otelhelper.TriggerIDKey, trigger.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(trigger.Type)),
	)
	defer span.End()

	if input == nil {
		input = map[string]any{}
	}

	start := m.clock.Now()

	execution := &models.TriggerExecution{
		ID:        models.NewID(models.PrefixTriggerExecution),
		TriggerID: trigger.ID,
		TenantID:  trigger.TenantID,
		Input:     input,
		Targets:   []models.TargetExecution{},
		FiredAt:   start.UTC(),
	}

	if condition.MatchAll(trigger.Filters, input) {
		execution.TransformedInput = transform(trigger.Transformations, input)
		execution.Targets = m.fanOut(ctx, trigger, execution.TransformedInput)
		execution.Status = aggregate(execution.Targets)
	} else {
		execution.Status = models.TriggerExecutionFiltered
	}

	execution.Duration = m.clock.Since(start).Milliseconds()

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(execution.Status)))

	err := m.executions.Save(context.WithoutCancel(ctx), trigger.TenantID, execution.ID, execution)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to save trigger execution: %w", err)
	}

	err = m.recordMetadata(ctx, trigger.TenantID, trigger.ID, execution)
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to update trigger metadata", "trigger_id", trigger.ID, "error", err)
	}

	m.logger.DebugContext(ctx, "Trigger fired",
		"tenant_id", trigger.TenantID,
		"trigger_id", trigger.ID,
		"status", execution.Status,
		"targets", len(execution.Targets),
	)

	m.emitFired(ctx, trigger, execution)

	return execution, nil
}

func (m *Manager) fanOut(ctx context.Context, trigger *models.Trigger, payload map[string]any) []models.TargetExecution {
	var enabled []models.TriggerTarget

	for _, target := range trigger.Targets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}

	results := make([]models.TargetExecution, len(enabled))

	var g errgroup.Group

	for i, target := range enabled {
		g.Go(func() error {
			results[i] = m.runTarget(ctx, trigger, target, payload)

			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (m *Manager) runTarget(
	ctx context.Context,
	trigger *models.Trigger,
	target models.TriggerTarget,
	payload map[string]any,
) models.TargetExecution {
	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "trigger.target",
		attribute.String(otelhelper.TargetTypeKey, string(target.Type)),
		attribute.String(otelhelper.TargetIDKey, target.ID),
	)
	defer span.End()

	start := m.clock.Now()

	result := models.TargetExecution{
		TargetID: target.ID,
		Type:     target.Type,
		Status:   models.TargetStatusSuccess,
	}

	output, err := m.dispatch(ctx, trigger, target, mapInput(target.InputMapping, payload))
	if err != nil {
		otelhelper.SetError(span, err)

		result.Status = models.TargetStatusFailed
		result.Error = err.Error()
	}

	result.Output = output
	result.Duration = m.clock.Since(start).Milliseconds()

	return result
}

func (m *Manager) dispatch(
	ctx context.Context,
	trigger *models.Trigger,
	target models.TriggerTarget,
	input map[string]any,
) (any, error) {
	caller := models.ActionContext{TenantID: trigger.TenantID, TriggerID: trigger.ID}

	switch target.Type {
	case models.TargetWorkflow:
		if m.workflows == nil {
			return nil, fmt.Errorf("%w %s", ErrNoDispatcher, target.Type)
		}

		execution, err := m.workflows.ExecuteWorkflow(ctx, trigger.TenantID, target.TargetID, input, workflow.ExecuteOptions{
			Trigger: models.ExecutionTrigger{Type: string(trigger.Type), Source: trigger.ID, Data: input},
		})
		if err != nil {
			return nil, err
		}

		return map[string]any{"executionId": execution.ID, "status": execution.Status}, nil
	case models.TargetRule:
		if m.rules == nil {
			return nil, fmt.Errorf("%w %s", ErrNoDispatcher, target.Type)
		}

		evaluation, err := m.rules.EvaluateRule(ctx, trigger.TenantID, target.TargetID, input, rules.EvaluateOptions{Caller: caller})
		if err != nil {
			return nil, err
		}

		output := map[string]any{"evaluationId": evaluation.ID, "result": evaluation.Result}

		if evaluation.Result == models.ResultError {
			return output, fmt.Errorf("%w: %s", ErrRuleFailed, evaluation.Error)
		}

		return output, nil
	case models.TargetWebhook:
		if m.actions == nil {
			return nil, fmt.Errorf("%w %s", ErrNoDispatcher, target.Type)
		}

		execution, err := m.actions.Execute(ctx, trigger.TenantID, webhookActionID, map[string]any{
			"url":     target.URL,
			"payload": input,
		}, caller)
		if err != nil {
			return nil, err
		}

		if execution.Failed() {
			return execution.Output, errors.New(execution.ErrorMessage())
		}

		return execution.Output, nil
	case models.TargetFunction:
		fn, ok := m.function(target.TargetID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, target.TargetID)
		}

		return fn(ctx, trigger.TenantID, input)
	default:
		return nil, fmt.Errorf("%w %s", ErrNoDispatcher, target.Type)
	}
}

// aggregate is success without failures, failed without successes and partial
// otherwise. No targets counts as success.
func aggregate(targets []models.TargetExecution) models.TriggerExecutionStatus {
	var failed int

	for _, target := range targets {
		if target.Status == models.TargetStatusFailed {
			failed++
		}
	}

	switch {
	case failed == 0:
		return models.TriggerExecutionSuccess
	case failed == len(targets):
		return models.TriggerExecutionFailed
	default:
		return models.TriggerExecutionPartial
	}
}

// recordMetadata updates the counters of the stored trigger. Filtered fires count as
// fires but neither as success nor failure.
func (m *Manager) recordMetadata(ctx context.Context, tenantID, id string, execution *models.TriggerExecution) error {
	unlock := m.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	trigger, err := m.triggers.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	metadata := &trigger.Metadata
	metadata.FireCount++
	metadata.AvgLatency = models.RunningMean(metadata.AvgLatency, metadata.FireCount, float64(execution.Duration))
	metadata.LastFiredAt = &execution.FiredAt

	switch execution.Status {
	case models.TriggerExecutionSuccess:
		metadata.SuccessCount++
	case models.TriggerExecutionFailed, models.TriggerExecutionPartial:
		metadata.FailureCount++
	case models.TriggerExecutionFiltered:
	}

	return m.triggers.Save(ctx, tenantID, id, trigger)
}

func (m *Manager) emitFired(ctx context.Context, trigger *models.Trigger, execution *models.TriggerExecution) {
	if m.publisher == nil {
		return
	}

	err := eventbus.Emit(ctx, m.publisher, events.Execution{
		BaseEvent:      events.NewBaseEvent(events.TriggerFiredEvent, trigger.TenantID),
		AutomationID:   trigger.ID,
		AutomationName: trigger.Name,
		ExecutionID:    execution.ID,
		Status:         string(execution.Status),
		Input:          execution.Input,
		Output:         execution.Targets,
		Duration:       execution.Duration,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish trigger fired event", "trigger_id", trigger.ID, "error", err)
	}
}
