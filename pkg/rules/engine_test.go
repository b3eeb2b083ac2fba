package rules_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/flowrule/pkg/actions"
	logaction "github.com/dukex/flowrule/pkg/actions/log"
	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence/memory"
	"github.com/dukex/flowrule/pkg/registry"
	"github.com/dukex/flowrule/pkg/rules"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const tenant = "tenant-1"

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) GetDefinition(_ context.Context, _ string, id string) (*models.ActionDefinition, error) {
	return &models.ActionDefinition{ID: id, Name: id}, nil
}

func (m *mockRunner) Execute(
	ctx context.Context,
	tenantID, definitionID string,
	input map[string]any,
	actionCtx models.ActionContext,
) (*models.ActionExecution, error) {
	args := m.Called(ctx, tenantID, definitionID, input, actionCtx)

	return args.Get(0).(*models.ActionExecution), args.Error(1)
}

func execution(definitionID string, status models.ActionStatus) *models.ActionExecution {
	out := &models.ActionExecution{ID: models.NewID(models.PrefixActionExecution), DefinitionID: definitionID, Status: status}
	if status == models.ActionStatusFailed {
		out.Error = &models.ActionError{Code: models.ErrCodeExecutionError, Message: "boom"}
	}

	return out
}

func amountOver(limit float64) models.ConditionGroup {
	return models.All(models.Leaf(models.Condition{ID: "big", Field: "amount", Operator: models.OpGreaterThan, Value: limit}))
}

func newEngine(t *testing.T, clock clockwork.Clock, runner rules.ActionRunner) *rules.Engine {
	t.Helper()

	return rules.NewEngine(rules.Config{
		Logger:  log.Discard(),
		Store:   memory.NewStore(),
		Actions: runner,
		Clock:   clock,
	})
}

func activeRule(t *testing.T, engine *rules.Engine, rule *models.Rule) *models.Rule {
	t.Helper()

	created, err := engine.CreateRule(context.Background(), tenant, rule)
	require.NoError(t, err)

	activated, err := engine.ActivateRule(context.Background(), tenant, created.ID)
	require.NoError(t, err)

	return activated
}

func TestEngine_EvaluateRule_EndToEnd(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	handlers := registry.NewRegistry(log.Discard())
	handlers.RegisterAction(logaction.NewActionFactory())

	executor := actions.NewExecutor(actions.Config{
		Logger:   log.Discard(),
		Store:    memory.NewStore(),
		Handlers: handlers,
		Clock:    clock,
	})
	engine := newEngine(t, clock, executor)

	rule := activeRule(t, engine, &models.Rule{
		Name:       "Large order",
		Conditions: amountOver(100),
		Actions: []models.RuleAction{
			{Type: logaction.ID, Config: map[string]any{"message": "order of {{ .input.amount }}"}},
		},
	})

	evaluation, err := engine.EvaluateRule(context.Background(), tenant, rule.ID, map[string]any{"amount": 150}, rules.EvaluateOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.ResultMatched, evaluation.Result)
	assert.Equal(t, []string{"big"}, evaluation.MatchedConditions)
	require.Len(t, evaluation.Actions, 1)
	assert.Equal(t, models.ActionStatusSuccess, evaluation.Actions[0].Status)
	assert.Equal(t, "order of 150", evaluation.Actions[0].Input["message"])
	assert.Equal(t, rule.ID, evaluation.Actions[0].Context.RuleID)

	evaluation, err = engine.EvaluateRule(context.Background(), tenant, rule.ID, map[string]any{"amount": 50}, rules.EvaluateOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ResultNotMatched, evaluation.Result)
	assert.Empty(t, evaluation.Actions)

	stored, err := engine.GetRule(context.Background(), tenant, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Metadata.ExecutionCount)
	assert.Equal(t, int64(1), stored.Metadata.MatchCount)
	assert.InDelta(t, 100.0, stored.Metadata.SuccessRate, 0.001)
	assert.NotNil(t, stored.Metadata.LastMatchedAt)

	history, err := engine.ListEvaluations(context.Background(), tenant, rules.EvaluationFilter{RuleID: rule.ID})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestEngine_EvaluateRule_UnknownRule(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, clockwork.NewFakeClock(), &mockRunner{})

	_, err := engine.EvaluateRule(context.Background(), tenant, "rule_missing", nil, rules.EvaluateOptions{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestEngine_EvaluateRule_SkipsDraft(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, clockwork.NewFakeClock(), &mockRunner{})

	rule, err := engine.CreateRule(context.Background(), tenant, &models.Rule{Name: "draft", Conditions: amountOver(1)})
	require.NoError(t, err)

	evaluation, err := engine.EvaluateRule(context.Background(), tenant, rule.ID, map[string]any{"amount": 5}, rules.EvaluateOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ResultSkipped, evaluation.Result)
	assert.Equal(t, "rule is not active", evaluation.SkipReason)
}

func TestEngine_EvaluateRule_DailyLimit(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	runner := &mockRunner{}
	runner.On("Execute", mock.Anything, tenant, "log", mock.Anything, mock.Anything).
		Return(execution("log", models.ActionStatusSuccess), nil)

	engine := newEngine(t, clock, runner)
	rule := activeRule(t, engine, &models.Rule{
		Name:       "limited",
		Conditions: amountOver(1),
		Actions:    []models.RuleAction{{Type: "log"}},
		Limits:     &models.RuleLimits{MaxExecutionsPerDay: 2},
	})

	evaluate := func() *models.RuleEvaluation {
		evaluation, err := engine.EvaluateRule(context.Background(), tenant, rule.ID, map[string]any{"amount": 5}, rules.EvaluateOptions{})
		require.NoError(t, err)

		return evaluation
	}

	assert.Equal(t, models.ResultMatched, evaluate().Result)

	clock.Advance(2 * time.Hour)
	assert.Equal(t, models.ResultMatched, evaluate().Result)

	skipped := evaluate()
	assert.Equal(t, models.ResultSkipped, skipped.Result)
	assert.Equal(t, "daily execution limit reached", skipped.SkipReason)

	clock.Advance(22 * time.Hour)
	assert.Equal(t, models.ResultMatched, evaluate().Result)

	runner.AssertNumberOfCalls(t, "Execute", 3)
}

func TestEngine_EvaluateRule_Cooldown(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	engine := newEngine(t, clock, &mockRunner{})
	rule := activeRule(t, engine, &models.Rule{
		Name:       "cooldown",
		Conditions: amountOver(1),
		Limits:     &models.RuleLimits{CooldownSeconds: 60, MaxExecutionsPerHour: 5},
	})

	results := make([]models.EvaluationResult, 0, 3)

	for _, step := range []time.Duration{0, 30 * time.Second, 31 * time.Second} {
		clock.Advance(step)

		evaluation, err := engine.EvaluateRule(context.Background(), tenant, rule.ID, map[string]any{"amount": 5}, rules.EvaluateOptions{})
		require.NoError(t, err)

		results = append(results, evaluation.Result)
	}

	assert.Equal(t, []models.EvaluationResult{models.ResultMatched, models.ResultSkipped, models.ResultMatched}, results)
}

func TestEngine_EvaluateRule_ActionOrderAndErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		onError  models.ActionErrorPolicy
		calls    []string
		hasError bool
	}{
		{name: "stop halts the list", onError: models.OnErrorStop, calls: []string{"first"}, hasError: true},
		{name: "continue runs the rest", onError: models.OnErrorContinue, calls: []string{"first", "second"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls []string

			runner := &mockRunner{}
			runner.On("Execute", mock.Anything, tenant, "first", mock.Anything, mock.Anything).
				Run(func(mock.Arguments) { calls = append(calls, "first") }).
				Return(execution("first", models.ActionStatusFailed), nil)
			runner.On("Execute", mock.Anything, tenant, "second", mock.Anything, mock.Anything).
				Run(func(mock.Arguments) { calls = append(calls, "second") }).
				Return(execution("second", models.ActionStatusSuccess), nil)

			engine := newEngine(t, clockwork.NewFakeClock(), runner)
			rule := activeRule(t, engine, &models.Rule{
				Name:       "ordered",
				Conditions: amountOver(1),
				Actions: []models.RuleAction{
					{Type: "second", Order: 2},
					{Type: "skipped", Order: 0, Condition: ptr(amountOver(1000))},
					{Type: "first", Order: 1, OnError: tt.onError},
				},
			})

			evaluation, err := engine.EvaluateRule(context.Background(), tenant, rule.ID, map[string]any{"amount": 5}, rules.EvaluateOptions{})
			require.NoError(t, err)

			assert.Equal(t, models.ResultMatched, evaluation.Result)
			assert.Equal(t, tt.calls, calls)
			assert.Equal(t, tt.hasError, evaluation.Error != "")

			stored, err := engine.GetRule(context.Background(), tenant, rule.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), stored.Metadata.SuccessCount)
		})
	}
}

func TestEngine_EvaluateRule_DispatchError(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{}
	runner.On("Execute", mock.Anything, tenant, "gone", mock.Anything, mock.Anything).
		Return((*models.ActionExecution)(nil), errors.New("definition removed"))

	engine := newEngine(t, clockwork.NewFakeClock(), runner)
	rule := activeRule(t, engine, &models.Rule{
		Name:       "dispatch",
		Conditions: amountOver(1),
		Actions:    []models.RuleAction{{Type: "gone", OnError: models.OnErrorStop}},
	})

	evaluation, err := engine.EvaluateRule(context.Background(), tenant, rule.ID, map[string]any{"amount": 5}, rules.EvaluateOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.ResultMatched, evaluation.Result)
	assert.Contains(t, evaluation.Error, "definition removed")
	assert.Empty(t, evaluation.Actions)
}

func TestEngine_CreateRule_Validation(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, clockwork.NewFakeClock(), &mockRunner{})

	_, err := engine.CreateRule(context.Background(), tenant, &models.Rule{
		Name: "broken",
		Conditions: models.All(
			models.Leaf(models.Condition{Field: "amount", Operator: "almostEquals", Value: 1}),
		),
		Schedule: &models.RuleSchedule{Type: models.ScheduleCron, Cron: "not a cron"},
	})
	require.True(t, apperr.IsValidation(err))
	assert.Len(t, apperr.Details(err), 2)
}

func TestEngine_TestRule(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, clockwork.NewFakeClock(), &mockRunner{})
	rule := activeRule(t, engine, &models.Rule{
		Name:       "dry run",
		Conditions: amountOver(100),
		Actions: []models.RuleAction{
			{ID: "notify", Type: "send_email", Order: 1},
			{ID: "escalate", Type: "send_slack", Order: 2, Condition: ptr(amountOver(1000))},
		},
	})

	result, err := engine.TestRule(context.Background(), tenant, rule.ID, map[string]any{"amount": 150})
	require.NoError(t, err)

	assert.True(t, result.Matched)
	assert.True(t, result.ScheduleAllowed)
	assert.Equal(t, []string{"notify"}, result.ActionsToRun)
	require.Len(t, result.Conditions, 1)
	assert.Equal(t, "amount", result.Conditions[0].Field)
	assert.Equal(t, 150, result.Conditions[0].Actual)
	assert.Equal(t, 100.0, result.Conditions[0].Expected)

	stored, err := engine.GetRule(context.Background(), tenant, rule.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Metadata.ExecutionCount)
	assert.Zero(t, stored.Counters.Daily)

	history, err := engine.ListEvaluations(context.Background(), tenant, rules.EvaluationFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEngine_DuplicateRule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := newEngine(t, clockwork.NewFakeClock(), &mockRunner{})
	source := activeRule(t, engine, &models.Rule{
		Name:       "source",
		Conditions: amountOver(10),
		Actions:    []models.RuleAction{{Type: "log"}, {Type: "webhook"}},
	})

	duplicate, err := engine.DuplicateRule(ctx, tenant, source.ID, "")
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, duplicate.ID)
	assert.Equal(t, "source (copy)", duplicate.Name)
	assert.Equal(t, models.RuleStatusDraft, duplicate.Status)
	assert.Equal(t, source.Conditions, duplicate.Conditions)
	require.Len(t, duplicate.Actions, 2)
	assert.NotEqual(t, source.Actions[0].ID, duplicate.Actions[0].ID)

	_, err = engine.ActivateRule(ctx, tenant, duplicate.ID)
	require.NoError(t, err)

	original, err := engine.GetRule(ctx, tenant, source.ID)
	require.NoError(t, err)
	assert.Equal(t, "source", original.Name)
	assert.Equal(t, source.Actions[0].ID, original.Actions[0].ID)
}

func TestEngine_EvaluateRuleSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      models.ExecutionMode
		stop      bool
		evaluated []string
	}{
		{name: "all", mode: models.ExecutionModeAll, evaluated: []string{"low", "miss", "critical", "high"}},
		{name: "first match", mode: models.ExecutionModeFirstMatch, evaluated: []string{"low"}},
		{name: "priority", mode: models.ExecutionModePriority, evaluated: []string{"critical", "high", "miss", "low"}},
		{name: "priority stop on first match", mode: models.ExecutionModePriority, stop: true, evaluated: []string{"critical"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			engine := newEngine(t, clockwork.NewFakeClock(), &mockRunner{})

			names := map[string]string{}
			ids := make([]string, 0, 4)

			for _, spec := range []struct {
				name     string
				priority models.RulePriority
				over     float64
			}{
				{"low", models.PriorityLow, 1},
				{"miss", models.PriorityMedium, 1000},
				{"critical", models.PriorityCritical, 1},
				{"high", models.PriorityHigh, 1},
			} {
				rule := activeRule(t, engine, &models.Rule{Name: spec.name, Priority: spec.priority, Conditions: amountOver(spec.over)})
				names[rule.ID] = spec.name
				ids = append(ids, rule.ID)
			}

			set, err := engine.CreateRuleSet(ctx, tenant, &models.RuleSet{
				Name:             tt.name,
				RuleIDs:          ids,
				ExecutionMode:    tt.mode,
				StopOnFirstMatch: tt.stop,
			})
			require.NoError(t, err)

			result, err := engine.EvaluateRuleSet(ctx, tenant, set.ID, map[string]any{"amount": 5}, rules.EvaluateOptions{})
			require.NoError(t, err)

			evaluated := make([]string, 0, len(result.Evaluations))
			for _, evaluation := range result.Evaluations {
				evaluated = append(evaluated, names[evaluation.RuleID])
				assert.Equal(t, set.ID, evaluation.RuleSetID)
			}

			assert.Equal(t, tt.evaluated, evaluated)
		})
	}
}

func TestEngine_RuleSetValidation(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, clockwork.NewFakeClock(), &mockRunner{})

	_, err := engine.CreateRuleSet(context.Background(), tenant, &models.RuleSet{Name: "set", RuleIDs: []string{"rule_missing"}})
	assert.True(t, apperr.IsValidation(err))
}

func TestEngine_GetStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := newEngine(t, clockwork.NewFakeClock(), &mockRunner{})
	rule := activeRule(t, engine, &models.Rule{Name: "stats", Conditions: amountOver(10)})

	_, err := engine.CreateRule(ctx, tenant, &models.Rule{Name: "draft", Conditions: amountOver(10)})
	require.NoError(t, err)

	for _, amount := range []int{5, 50, 500, 1} {
		_, err := engine.EvaluateRule(ctx, tenant, rule.ID, map[string]any{"amount": amount}, rules.EvaluateOptions{})
		require.NoError(t, err)
	}

	stats, err := engine.GetStats(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRules)
	assert.Equal(t, 1, stats.ActiveRules)
	assert.Equal(t, 4, stats.TotalEvaluations)
	assert.Equal(t, 2, stats.ByResult["matched"])
	assert.InDelta(t, 50.0, stats.MatchRate, 0.001)
}

func ptr[T any](v T) *T {
	return &v
}
