package triggers_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/channels/gochannel"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence/memory"
	"github.com/dukex/flowrule/pkg/rules"
	"github.com/dukex/flowrule/pkg/triggers"
	"github.com/dukex/flowrule/pkg/triggers/webhook"
	"github.com/dukex/flowrule/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const tenant = "tenant-1"

type mockWorkflows struct {
	mock.Mock
}

func (m *mockWorkflows) ExecuteWorkflow(
	ctx context.Context,
	tenantID, workflowID string,
	input map[string]any,
	opts workflow.ExecuteOptions,
) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, tenantID, workflowID, input, opts)

	execution, _ := args.Get(0).(*models.WorkflowExecution)

	return execution, args.Error(1)
}

type mockRules struct {
	mock.Mock
}

func (m *mockRules) EvaluateRule(
	ctx context.Context,
	tenantID, ruleID string,
	input map[string]any,
	opts rules.EvaluateOptions,
) (*models.RuleEvaluation, error) {
	args := m.Called(ctx, tenantID, ruleID, input, opts)

	evaluation, _ := args.Get(0).(*models.RuleEvaluation)

	return evaluation, args.Error(1)
}

type mockActions struct {
	mock.Mock
}

func (m *mockActions) Execute(
	ctx context.Context,
	tenantID, definitionID string,
	input map[string]any,
	actionCtx models.ActionContext,
) (*models.ActionExecution, error) {
	args := m.Called(ctx, tenantID, definitionID, input, actionCtx)

	execution, _ := args.Get(0).(*models.ActionExecution)

	return execution, args.Error(1)
}

func newManager(t *testing.T, cfg triggers.Config) *triggers.Manager {
	t.Helper()

	cfg.Logger = log.Discard()
	cfg.Store = memory.NewStore()

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewFakeClock()
	}

	manager := triggers.NewManager(cfg)
	t.Cleanup(manager.Close)

	return manager
}

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := log.Discard()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func functionTarget(name string) models.TriggerTarget {
	return models.TriggerTarget{Type: models.TargetFunction, TargetID: name, Enabled: true}
}

func manualTrigger(targets ...models.TriggerTarget) *models.Trigger {
	return &models.Trigger{
		Name:    "manual",
		Type:    models.TriggerTypeManual,
		Config:  &models.ManualTriggerConfig{},
		Targets: targets,
	}
}

func activeTrigger(t *testing.T, manager *triggers.Manager, trigger *models.Trigger) *models.Trigger {
	t.Helper()

	created, err := manager.CreateTrigger(context.Background(), tenant, trigger)
	require.NoError(t, err)

	activated, err := manager.ActivateTrigger(context.Background(), tenant, created.ID)
	require.NoError(t, err)

	return activated
}

func registerFunctions(manager *triggers.Manager) {
	manager.RegisterFunction("ok", func(_ context.Context, _ string, input map[string]any) (any, error) {
		return input, nil
	})
	manager.RegisterFunction("fail", func(context.Context, string, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
}

func TestManager_CreateTrigger_Validation(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})

	tests := []struct {
		name    string
		trigger *models.Trigger
	}{
		{"missing name", &models.Trigger{Type: models.TriggerTypeManual, Config: &models.ManualTriggerConfig{}}},
		{"config of another type", &models.Trigger{Name: "x", Type: models.TriggerTypeEvent, Config: &models.ManualTriggerConfig{}}},
		{"event without name", &models.Trigger{Name: "x", Type: models.TriggerTypeEvent, Config: &models.EventTriggerConfig{}}},
		{"invalid cron", &models.Trigger{Name: "x", Type: models.TriggerTypeSchedule, Config: &models.ScheduleTriggerConfig{Cron: "soon"}}},
		{"webhook without path", &models.Trigger{Name: "x", Type: models.TriggerTypeWebhook, Config: &models.WebhookTriggerConfig{}}},
		{"target without id", manualTrigger(models.TriggerTarget{Type: models.TargetWorkflow, Enabled: true})},
		{"webhook target without url", manualTrigger(models.TriggerTarget{Type: models.TargetWebhook, Enabled: true})},
		{"unknown target type", manualTrigger(models.TriggerTarget{Type: "queue", TargetID: "q", Enabled: true})},
		{"bad filter", &models.Trigger{
			Name: "x", Type: models.TriggerTypeManual, Config: &models.ManualTriggerConfig{},
			Filters: []models.Condition{{Field: "amount", Operator: "roughly"}},
		}},
		{"bad transformation", &models.Trigger{
			Name: "x", Type: models.TriggerTypeManual, Config: &models.ManualTriggerConfig{},
			Transformations: []models.DataTransformation{{Type: models.TransformPick}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.CreateTrigger(context.Background(), tenant, tt.trigger)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
}

func TestManager_CreateTrigger_Defaults(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})

	created, err := manager.CreateTrigger(context.Background(), tenant, manualTrigger(functionTarget("ok")))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.TriggerStatusInactive, created.Status)
	assert.NotEmpty(t, created.Targets[0].ID)

	_, err = manager.FireTrigger(context.Background(), tenant, created.ID, nil)
	assert.True(t, apperr.IsNotActive(err))

	_, err = manager.FireTrigger(context.Background(), tenant, "trg_missing", nil)
	assert.True(t, apperr.IsNotFound(err))
}

func TestManager_FireTrigger_Aggregate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		functions []string
		want      models.TriggerExecutionStatus
	}{
		{"all succeed", []string{"ok", "ok", "ok"}, models.TriggerExecutionSuccess},
		{"one fails", []string{"ok", "fail", "ok"}, models.TriggerExecutionPartial},
		{"all fail", []string{"fail", "fail", "fail"}, models.TriggerExecutionFailed},
		{"no targets", nil, models.TriggerExecutionSuccess},
		{"unknown function", []string{"missing"}, models.TriggerExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			manager := newManager(t, triggers.Config{})
			registerFunctions(manager)

			var targets []models.TriggerTarget
			for _, name := range tt.functions {
				targets = append(targets, functionTarget(name))
			}

			disabled := functionTarget("fail")
			disabled.Enabled = false

			trigger := activeTrigger(t, manager, manualTrigger(append(targets, disabled)...))

			execution, err := manager.FireTrigger(context.Background(), tenant, trigger.ID, map[string]any{"amount": 10})
			require.NoError(t, err)

			assert.Equal(t, tt.want, execution.Status)
			assert.Len(t, execution.Targets, len(tt.functions))

			stored, err := manager.GetTrigger(context.Background(), tenant, trigger.ID)
			require.NoError(t, err)

			assert.Equal(t, int64(1), stored.Metadata.FireCount)
			assert.NotNil(t, stored.Metadata.LastFiredAt)

			if tt.want == models.TriggerExecutionSuccess {
				assert.Equal(t, int64(1), stored.Metadata.SuccessCount)
			} else {
				assert.Equal(t, int64(1), stored.Metadata.FailureCount)
			}
		})
	}
}

func TestManager_FireTrigger_Filtered(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})
	registerFunctions(manager)

	trigger := manualTrigger(functionTarget("ok"))
	trigger.Filters = []models.Condition{
		{Field: "amount", Operator: models.OpGreaterThan, Value: 100},
		{Field: "currency", Operator: models.OpEquals, Value: "EUR"},
	}
	trigger = activeTrigger(t, manager, trigger)

	execution, err := manager.FireTrigger(context.Background(), tenant, trigger.ID, map[string]any{"amount": 150, "currency": "USD"})
	require.NoError(t, err)

	assert.Equal(t, models.TriggerExecutionFiltered, execution.Status)
	assert.Empty(t, execution.Targets)

	execution, err = manager.FireTrigger(context.Background(), tenant, trigger.ID, map[string]any{"amount": 150, "currency": "EUR"})
	require.NoError(t, err)

	assert.Equal(t, models.TriggerExecutionSuccess, execution.Status)

	stored, err := manager.GetTrigger(context.Background(), tenant, trigger.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stored.Metadata.FireCount)
	assert.Equal(t, int64(1), stored.Metadata.SuccessCount)
	assert.Equal(t, int64(0), stored.Metadata.FailureCount)
}

func TestManager_FireTrigger_Dispatch(t *testing.T) {
	t.Parallel()

	workflows := &mockWorkflows{}
	ruleRunner := &mockRules{}
	actionRunner := &mockActions{}

	manager := newManager(t, triggers.Config{Workflows: workflows, Rules: ruleRunner, Actions: actionRunner})

	trigger := manualTrigger(
		models.TriggerTarget{
			Type: models.TargetWorkflow, TargetID: "wf_1", Enabled: true,
			InputMapping: map[string]string{"customer": "user.email"},
		},
		models.TriggerTarget{Type: models.TargetRule, TargetID: "rule_1", Enabled: true},
		models.TriggerTarget{Type: models.TargetWebhook, URL: "https://hooks.example.com/in", Enabled: true},
	)
	trigger.Transformations = []models.DataTransformation{
		{Type: models.TransformOmit, Fields: []string{"secret"}},
		{Type: models.TransformDefault, Defaults: map[string]any{"priority": "normal"}},
	}
	trigger = activeTrigger(t, manager, trigger)

	transformed := map[string]any{
		"user":     map[string]any{"email": "ada@example.com"},
		"priority": "normal",
	}

	workflows.On("ExecuteWorkflow", mock.Anything, tenant, "wf_1", map[string]any{"customer": "ada@example.com"}, mock.Anything).
		Return(&models.WorkflowExecution{ID: "wfx_1", Status: models.ExecutionStatusPending}, nil)
	ruleRunner.On("EvaluateRule", mock.Anything, tenant, "rule_1", transformed, mock.Anything).
		Return(&models.RuleEvaluation{ID: "reval_1", Result: models.ResultError, Error: "bad condition"}, nil)
	actionRunner.On("Execute", mock.Anything, tenant, "webhook", map[string]any{
		"url":     "https://hooks.example.com/in",
		"payload": transformed,
	}, models.ActionContext{TenantID: tenant, TriggerID: trigger.ID}).
		Return(&models.ActionExecution{Status: models.ActionStatusSuccess, Output: map[string]any{"status": 200}}, nil)

	execution, err := manager.FireTrigger(context.Background(), tenant, trigger.ID, map[string]any{
		"user":   map[string]any{"email": "ada@example.com"},
		"secret": "hunter2",
	})
	require.NoError(t, err)

	assert.Equal(t, models.TriggerExecutionPartial, execution.Status)
	assert.Equal(t, transformed, execution.TransformedInput)
	require.Len(t, execution.Targets, 3)

	assert.Equal(t, models.TargetStatusSuccess, execution.Targets[0].Status)
	assert.Equal(t, models.TargetStatusFailed, execution.Targets[1].Status)
	assert.Contains(t, execution.Targets[1].Error, "bad condition")
	assert.Equal(t, models.TargetStatusSuccess, execution.Targets[2].Status)

	workflows.AssertExpectations(t)
	ruleRunner.AssertExpectations(t)
	actionRunner.AssertExpectations(t)
}

func TestManager_FireManualTrigger_AllowList(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})
	registerFunctions(manager)

	open := activeTrigger(t, manager, manualTrigger(functionTarget("ok")))

	restricted := manualTrigger(functionTarget("ok"))
	restricted.Config = &models.ManualTriggerConfig{AllowedUsers: []string{"u1"}, AllowedRoles: []string{"admin"}}
	restricted = activeTrigger(t, manager, restricted)

	tests := []struct {
		name    string
		trigger string
		caller  triggers.Caller
		allowed bool
	}{
		{"empty allow-list", open.ID, triggers.Caller{UserID: "anyone"}, true},
		{"allowed user", restricted.ID, triggers.Caller{UserID: "u1"}, true},
		{"allowed role", restricted.ID, triggers.Caller{UserID: "u2", RoleIDs: []string{"viewer", "admin"}}, true},
		{"rejected", restricted.ID, triggers.Caller{UserID: "u2", RoleIDs: []string{"viewer"}}, false},
		{"anonymous", restricted.ID, triggers.Caller{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execution, err := manager.FireManualTrigger(context.Background(), tenant, tt.trigger, nil, tt.caller)
			if !tt.allowed {
				assert.True(t, apperr.IsForbidden(err), "got %v", err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, models.TriggerExecutionSuccess, execution.Status)
		})
	}
}

func TestManager_EventTrigger(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	manager := newManager(t, triggers.Config{Subscriber: bus})
	registerFunctions(manager)

	trigger := &models.Trigger{
		Name: "orders",
		Type: models.TriggerTypeEvent,
		Config: &models.EventTriggerConfig{
			EventName: "order.created",
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"amount"},
			},
		},
		Targets: []models.TriggerTarget{functionTarget("ok")},
	}
	first := activeTrigger(t, manager, trigger)

	second := *trigger
	second.ID = ""
	second.Name = "orders again"
	other := activeTrigger(t, manager, &second)

	assert.Equal(t, 1, manager.Subscriptions())

	require.NoError(t, bus.Publish(context.Background(), "order.created", tenant, map[string]any{"amount": 10}))
	require.NoError(t, bus.Publish(context.Background(), "order.created", tenant, map[string]any{"note": "no amount"}))
	require.NoError(t, bus.Publish(context.Background(), "order.created", "tenant-2", map[string]any{"amount": 10}))

	require.Eventually(t, func() bool {
		executions, err := manager.ListExecutions(context.Background(), tenant, triggers.ExecutionFilter{})

		return err == nil && len(executions) == 2
	}, 5*time.Second, 10*time.Millisecond)

	executions, err := manager.ListExecutions(context.Background(), tenant, triggers.ExecutionFilter{TriggerID: first.ID})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.InDelta(t, 10.0, executions[0].Input["amount"], 0)

	_, err = manager.DeactivateTrigger(context.Background(), tenant, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Subscriptions())

	require.NoError(t, manager.DeleteTrigger(context.Background(), tenant, other.ID))
	assert.Equal(t, 0, manager.Subscriptions())
	assert.False(t, manager.Registered(tenant, other.ID))
}

func TestManager_HandleWebhook(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})
	registerFunctions(manager)

	trigger := activeTrigger(t, manager, &models.Trigger{
		Name:    "stripe",
		Type:    models.TriggerTypeWebhook,
		Config:  &models.WebhookTriggerConfig{Path: "/stripe", Secret: "whsec"},
		Targets: []models.TriggerTarget{functionTarget("ok")},
	})

	body := []byte(`{"type":"charge.succeeded"}`)

	execution, err := manager.HandleWebhook(context.Background(), tenant, "stripe", "post", body, webhook.Sign("whsec", body))
	require.NoError(t, err)
	assert.Equal(t, trigger.ID, execution.TriggerID)
	assert.Equal(t, "charge.succeeded", execution.Input["type"])

	_, err = manager.HandleWebhook(context.Background(), tenant, "/stripe", "POST", body, webhook.Sign("wrong", body))
	assert.True(t, apperr.IsForbidden(err))

	_, err = manager.HandleWebhook(context.Background(), tenant, "/unknown", "POST", body, "")
	assert.True(t, apperr.IsNotFound(err))

	_, err = manager.HandleWebhook(context.Background(), tenant, "/stripe", "POST", []byte(`[1]`), webhook.Sign("whsec", []byte(`[1]`)))
	assert.True(t, apperr.IsValidation(err))
}

func TestManager_UpdateActiveTrigger_SwapsRoute(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})
	registerFunctions(manager)

	trigger := activeTrigger(t, manager, &models.Trigger{
		Name:    "hook",
		Type:    models.TriggerTypeWebhook,
		Config:  &models.WebhookTriggerConfig{Path: "/old"},
		Targets: []models.TriggerTarget{functionTarget("ok")},
	})

	taken := activeTrigger(t, manager, &models.Trigger{
		Name:   "taken",
		Type:   models.TriggerTypeWebhook,
		Config: &models.WebhookTriggerConfig{Path: "/taken"},
	})
	require.NotEmpty(t, taken.ID)

	update := *trigger
	update.Config = &models.WebhookTriggerConfig{Path: "/taken"}

	_, err := manager.UpdateTrigger(context.Background(), tenant, trigger.ID, &update)
	assert.True(t, apperr.IsConflict(err), "got %v", err)

	_, err = manager.HandleWebhook(context.Background(), tenant, "/old", "POST", nil, "")
	require.NoError(t, err, "previous route is restored")

	update.Config = &models.WebhookTriggerConfig{Path: "/new"}

	updated, err := manager.UpdateTrigger(context.Background(), tenant, trigger.ID, &update)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusActive, updated.Status)

	_, err = manager.HandleWebhook(context.Background(), tenant, "/old", "POST", nil, "")
	assert.True(t, apperr.IsNotFound(err))

	_, err = manager.HandleWebhook(context.Background(), tenant, "/new", "POST", nil, "")
	require.NoError(t, err)

	stored, err := manager.GetTrigger(context.Background(), tenant, trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Metadata.FireCount)
}

func TestManager_UpdateActiveWebhook_KeepsServing(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})

	trigger := activeTrigger(t, manager, &models.Trigger{
		Name:   "orders",
		Type:   models.TriggerTypeWebhook,
		Config: &models.WebhookTriggerConfig{Path: "/orders"},
	})

	stop := make(chan struct{})
	stopped := make(chan struct{})

	var missing atomic.Int32

	go func() {
		defer close(stopped)

		for {
			select {
			case <-stop:
				return
			default:
			}

			_, err := manager.HandleWebhook(context.Background(), tenant, "/orders", "POST", nil, "")
			if apperr.IsNotFound(err) {
				missing.Add(1)
			}
		}
	}()

	for i := range 50 {
		update := *trigger
		update.Name = fmt.Sprintf("orders %d", i)
		update.Config = &models.WebhookTriggerConfig{Path: "/orders", Secret: ""}

		_, err := manager.UpdateTrigger(context.Background(), tenant, trigger.ID, &update)
		require.NoError(t, err)
	}

	close(stop)
	<-stopped

	assert.Zero(t, missing.Load(), "route stays resolvable while the trigger is updated")
	assert.True(t, manager.Registered(tenant, trigger.ID))
}

func TestManager_UpdateActiveEventTrigger_MovesSubscription(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{Subscriber: newBus(t)})

	trigger := activeTrigger(t, manager, &models.Trigger{
		Name:   "orders",
		Type:   models.TriggerTypeEvent,
		Config: &models.EventTriggerConfig{EventName: "order.created"},
	})

	update := *trigger
	update.Config = &models.EventTriggerConfig{EventName: "order.created"}

	_, err := manager.UpdateTrigger(context.Background(), tenant, trigger.ID, &update)
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Subscriptions())

	update.Config = &models.EventTriggerConfig{EventName: "order.paid"}

	_, err = manager.UpdateTrigger(context.Background(), tenant, trigger.ID, &update)
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Subscriptions(), "old event subscription is dropped")

	require.NoError(t, manager.DeleteTrigger(context.Background(), tenant, trigger.ID))
	assert.Equal(t, 0, manager.Subscriptions())
}

func TestManager_ScheduleTrigger(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	manager := newManager(t, triggers.Config{Clock: clock})
	registerFunctions(manager)

	trigger := activeTrigger(t, manager, &models.Trigger{
		Name:    "every minute",
		Type:    models.TriggerTypeSchedule,
		Config:  &models.ScheduleTriggerConfig{Interval: 60000},
		Targets: []models.TriggerTarget{functionTarget("ok")},
	})

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		executions, err := manager.ListExecutions(context.Background(), tenant, triggers.ExecutionFilter{TriggerID: trigger.ID})

		return err == nil && len(executions) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err := manager.DeactivateTrigger(context.Background(), tenant, trigger.ID)
	require.NoError(t, err)
	assert.False(t, manager.Registered(tenant, trigger.ID))
}

func TestManager_ActivateTrigger_Failure(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})

	activeTrigger(t, manager, &models.Trigger{
		Name:   "first",
		Type:   models.TriggerTypeWebhook,
		Config: &models.WebhookTriggerConfig{Path: "/dup"},
	})

	second, err := manager.CreateTrigger(context.Background(), tenant, &models.Trigger{
		Name:   "second",
		Type:   models.TriggerTypeWebhook,
		Config: &models.WebhookTriggerConfig{Path: "/dup"},
	})
	require.NoError(t, err)

	_, err = manager.ActivateTrigger(context.Background(), tenant, second.ID)
	assert.True(t, apperr.IsConflict(err))

	stored, err := manager.GetTrigger(context.Background(), tenant, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TriggerStatusError, stored.Status)
	assert.Contains(t, stored.LastError, "already registered")
}

func TestManager_GetStats(t *testing.T) {
	t.Parallel()

	manager := newManager(t, triggers.Config{})
	registerFunctions(manager)

	ok := activeTrigger(t, manager, manualTrigger(functionTarget("ok")))
	failing := activeTrigger(t, manager, manualTrigger(functionTarget("fail")))

	_, err := manager.CreateTrigger(context.Background(), tenant, &models.Trigger{
		Name:   "idle",
		Type:   models.TriggerTypeEvent,
		Config: &models.EventTriggerConfig{EventName: "user.created"},
	})
	require.NoError(t, err)

	for range 2 {
		_, err = manager.FireTrigger(context.Background(), tenant, ok.ID, nil)
		require.NoError(t, err)
	}

	_, err = manager.FireTrigger(context.Background(), tenant, failing.ID, nil)
	require.NoError(t, err)

	stats, err := manager.GetStats(context.Background(), tenant)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalTriggers)
	assert.Equal(t, 2, stats.ActiveTriggers)
	assert.Equal(t, map[string]int{"manual": 2, "event": 1}, stats.TriggersByType)
	assert.Equal(t, int64(3), stats.TotalFires)
	assert.Equal(t, int64(2), stats.SuccessfulFires)
	assert.Equal(t, int64(1), stats.FailedFires)
	assert.Equal(t, map[string]int{"success": 2, "failed": 1}, stats.ExecutionsByStatus)

	limited, err := manager.ListExecutions(context.Background(), tenant, triggers.ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
