package actions_test

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowrule/pkg/actions"
	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/log"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence/memory"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, input map[string]any, logger *slog.Logger) (map[string]any, error)

type fakeHandlers struct {
	definitions []models.ActionDefinition
	funcs       map[string]handlerFunc
}

func (f *fakeHandlers) Run(
	ctx context.Context,
	definition *models.ActionDefinition,
	input map[string]any,
	_ models.ActionContext,
	logger *slog.Logger,
) (map[string]any, error) {
	return f.funcs[definition.ID](ctx, input, logger)
}

func (f *fakeHandlers) Definitions() []models.ActionDefinition {
	return f.definitions
}

func (f *fakeHandlers) HasAction(id string) bool {
	_, ok := f.funcs[id]

	return ok
}

func echo(_ context.Context, input map[string]any, logger *slog.Logger) (map[string]any, error) {
	logger.Info("echoing", "keys", len(input))

	return map[string]any{"echo": input["message"]}, nil
}

func blockUntilDone(ctx context.Context, _ map[string]any, _ *slog.Logger) (map[string]any, error) {
	<-ctx.Done()

	return nil, ctx.Err()
}

func newExecutor(t *testing.T, clock clockwork.Clock, funcs map[string]handlerFunc) *actions.Executor {
	t.Helper()

	definitions := []models.ActionDefinition{
		{
			ID:       "echo",
			Name:     "Echo",
			Category: models.CategorySystem,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"message"},
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
					"tone":    map[string]any{"type": "string", "default": "calm"},
				},
			},
		},
		{
			ID:        "limited",
			Name:      "Limited",
			Category:  models.CategoryIntegration,
			RateLimit: &models.RateLimitConfig{MaxRequests: 1, WindowMs: 1000},
		},
		{ID: "slow", Name: "Slow", Category: models.CategoryIntegration, Timeout: 500, Retryable: true},
		{ID: "flaky", Name: "Flaky", Category: models.CategoryIntegration, Retryable: true},
		{ID: "strict", Name: "Strict", Category: models.CategoryData},
		{ID: "orphan", Name: "Orphan", Category: models.CategoryCustom},
	}

	return actions.NewExecutor(actions.Config{
		Logger:   log.Discard(),
		Store:    memory.NewStore(),
		Handlers: &fakeHandlers{definitions: definitions, funcs: funcs},
		Clock:    clock,
	})
}

func TestExecutor_Execute(t *testing.T) {
	t.Parallel()

	executor := newExecutor(t, clockwork.NewFakeClock(), map[string]handlerFunc{"echo": echo})

	execution, err := executor.Execute(context.Background(), "t1", "echo", map[string]any{"message": "hi"}, models.ActionContext{RuleID: "r1"})
	require.NoError(t, err)

	assert.Equal(t, models.ActionStatusSuccess, execution.Status)
	assert.Equal(t, map[string]any{"echo": "hi"}, execution.Output)
	assert.Equal(t, "t1", execution.Context.TenantID)
	assert.Equal(t, "r1", execution.Context.RuleID)
	assert.NotNil(t, execution.CompletedAt)
	assert.Nil(t, execution.Error)

	messages := make([]string, 0, len(execution.Logs))
	for _, entry := range execution.Logs {
		messages = append(messages, entry.Message)
	}

	assert.Equal(t, []string{"Starting action: Echo", "echoing", "Action completed: success"}, messages)
	assert.Equal(t, int64(2), execution.Logs[1].Data["keys"])

	stored, err := executor.GetExecution(context.Background(), "t1", execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, stored.ID)

	_, err = executor.GetExecution(context.Background(), "t2", execution.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestExecutor_Execute_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		definitionID string
		input        map[string]any
		handler      handlerFunc
		code         string
	}{
		{
			name:         "schema violation",
			definitionID: "echo",
			input:        map[string]any{"message": 42},
			handler:      echo,
			code:         models.ErrCodeValidation,
		},
		{
			name:         "missing required input",
			definitionID: "echo",
			input:        map[string]any{},
			handler:      echo,
			code:         models.ErrCodeValidation,
		},
		{
			name:         "handler error",
			definitionID: "strict",
			handler: func(context.Context, map[string]any, *slog.Logger) (map[string]any, error) {
				return nil, errors.New("boom")
			},
			code: models.ErrCodeExecutionError,
		},
		{
			name:         "handler panic",
			definitionID: "strict",
			handler: func(context.Context, map[string]any, *slog.Logger) (map[string]any, error) {
				panic("bad state")
			},
			code: models.ErrCodeExecutionError,
		},
		{
			name:         "no handler",
			definitionID: "orphan",
			code:         models.ErrCodeUnknownAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			funcs := map[string]handlerFunc{}
			if tt.handler != nil {
				funcs[tt.definitionID] = tt.handler
			}

			executor := newExecutor(t, clockwork.NewFakeClock(), funcs)

			execution, err := executor.Execute(context.Background(), "t1", tt.definitionID, tt.input, models.ActionContext{})
			require.NoError(t, err)

			assert.Equal(t, models.ActionStatusFailed, execution.Status)
			require.NotNil(t, execution.Error)
			assert.Equal(t, tt.code, execution.Error.Code)
			assert.Nil(t, execution.Output)
		})
	}
}

func TestExecutor_Execute_UnknownDefinition(t *testing.T) {
	t.Parallel()

	executor := newExecutor(t, clockwork.NewFakeClock(), nil)

	_, err := executor.Execute(context.Background(), "t1", "missing", nil, models.ActionContext{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestExecutor_RateLimit(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()

	var invoked atomic.Int32

	ok := func(context.Context, map[string]any, *slog.Logger) (map[string]any, error) {
		invoked.Add(1)

		return map[string]any{}, nil
	}
	executor := newExecutor(t, clock, map[string]handlerFunc{"limited": ok})
	ctx := context.Background()

	first, err := executor.Execute(ctx, "t1", "limited", nil, models.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusSuccess, first.Status)

	second, err := executor.Execute(ctx, "t1", "limited", nil, models.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusFailed, second.Status)
	assert.Equal(t, models.ErrCodeRateLimited, second.Error.Code)
	assert.True(t, second.Error.Recoverable)
	assert.Equal(t, int32(1), invoked.Load(), "rate limited call never reaches the handler")

	other, err := executor.Execute(ctx, "t2", "limited", nil, models.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusSuccess, other.Status, "windows are per tenant")

	clock.Advance(time.Second)

	third, err := executor.Execute(ctx, "t1", "limited", nil, models.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusSuccess, third.Status)
	assert.Equal(t, int32(3), invoked.Load())
}

func TestExecutor_Timeout(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	executor := newExecutor(t, clock, map[string]handlerFunc{"slow": blockUntilDone})

	done := make(chan *models.ActionExecution, 1)

	go func() {
		execution, err := executor.Execute(context.Background(), "t1", "slow", nil, models.ActionContext{})
		assert.NoError(t, err)

		done <- execution
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(500 * time.Millisecond)

	select {
	case execution := <-done:
		assert.Equal(t, models.ActionStatusFailed, execution.Status)
		assert.Equal(t, models.ErrCodeExecutionError, execution.Error.Code)
		assert.Equal(t, "Action timed out after 500ms", execution.Error.Message)
		assert.True(t, execution.Error.Recoverable)
	case <-time.After(time.Second):
		t.Fatal("execution did not time out")
	}
}

func TestExecutor_Cancelled(t *testing.T) {
	t.Parallel()

	executor := newExecutor(t, clockwork.NewFakeClock(), map[string]handlerFunc{"slow": blockUntilDone})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	execution, err := executor.Execute(ctx, "t1", "slow", nil, models.ActionContext{})
	require.NoError(t, err)

	assert.Equal(t, models.ActionStatusCancelled, execution.Status)
	assert.Equal(t, models.ErrCodeCancelled, execution.Error.Code)

	stored, err := executor.GetExecution(context.Background(), "t1", execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusCancelled, stored.Status)
}

func TestExecutor_RetryExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	calls := 0
	flaky := func(context.Context, map[string]any, *slog.Logger) (map[string]any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("upstream unavailable")
		}

		return map[string]any{"ok": true}, nil
	}
	executor := newExecutor(t, clockwork.NewFakeClock(), map[string]handlerFunc{
		"flaky":  flaky,
		"strict": func(context.Context, map[string]any, *slog.Logger) (map[string]any, error) { return nil, errors.New("no") },
		"echo":   echo,
	})

	failed, err := executor.Execute(ctx, "t1", "flaky", nil, models.ActionContext{})
	require.NoError(t, err)
	require.Equal(t, models.ActionStatusFailed, failed.Status)

	retried, err := executor.RetryExecution(ctx, "t1", failed.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, retried.ID)
	assert.Equal(t, models.ActionStatusSuccess, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Nil(t, retried.Error)

	_, err = executor.RetryExecution(ctx, "t1", failed.ID)
	require.True(t, apperr.IsConflict(err))
	assert.Contains(t, apperr.Details(err), "Only failed executions can be retried")

	strict, err := executor.Execute(ctx, "t1", "strict", nil, models.ActionContext{})
	require.NoError(t, err)

	_, err = executor.RetryExecution(ctx, "t1", strict.ID)
	require.True(t, apperr.IsConflict(err))
	assert.Contains(t, apperr.Details(err), "Action is not retryable")
}

func TestExecutor_Definitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	executor := newExecutor(t, clockwork.NewFakeClock(), map[string]handlerFunc{"echo": echo})

	_, err := executor.RegisterDefinition(ctx, "t1", &models.ActionDefinition{ID: "echo", Name: "Shadow"})
	assert.True(t, apperr.IsConflict(err))

	_, err = executor.RegisterDefinition(ctx, "t1", &models.ActionDefinition{ID: "bad", Name: "Bad", InputSchema: map[string]any{"type": 12}})
	assert.True(t, apperr.IsValidation(err))

	private, err := executor.RegisterDefinition(ctx, "t1", &models.ActionDefinition{ID: "crm_sync", Name: "CRM sync"})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCustom, private.Category)
	assert.Equal(t, "t1", private.TenantID)

	_, err = executor.RegisterDefinition(ctx, "t1", &models.ActionDefinition{ID: "geo_lookup", Name: "Geo lookup", Public: true})
	require.NoError(t, err)

	names := func(tenantID string, category models.ActionCategory) []string {
		definitions, err := executor.ListDefinitions(ctx, tenantID, category)
		require.NoError(t, err)

		out := make([]string, 0, len(definitions))
		for _, definition := range definitions {
			out = append(out, definition.ID)
		}

		return out
	}

	assert.Equal(t, []string{"crm_sync", "geo_lookup", "orphan"}, names("t1", models.CategoryCustom))
	assert.Equal(t, []string{"geo_lookup", "orphan"}, names("t2", models.CategoryCustom))
	assert.Len(t, names("t2", ""), 7)

	_, err = executor.GetDefinition(ctx, "t2", "crm_sync")
	assert.True(t, apperr.IsNotFound(err))

	_, err = executor.RegisterDefinition(ctx, "t2", &models.ActionDefinition{ID: "geo_lookup", Name: "Hijack"})
	assert.True(t, apperr.IsConflict(err))
}

func TestExecutor_Instances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	executor := newExecutor(t, clockwork.NewFakeClock(), map[string]handlerFunc{"echo": echo})

	_, err := executor.CreateInstance(ctx, "t1", &models.ActionInstance{DefinitionID: "missing", Name: "x"})
	assert.True(t, apperr.IsNotFound(err))

	instance, err := executor.CreateInstance(ctx, "t1", &models.ActionInstance{
		DefinitionID: "echo",
		Name:         "Greeter",
		Config:       map[string]any{"message": "from config"},
	})
	require.NoError(t, err)
	assert.True(t, instance.Active)
	assert.NotEmpty(t, instance.ID)

	execution, err := executor.ExecuteInstance(ctx, "t1", instance.ID, nil, models.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, "from config", execution.Output["echo"])
	assert.Equal(t, instance.ID, execution.InstanceID)

	execution, err = executor.ExecuteInstance(ctx, "t1", instance.ID, map[string]any{"message": "override"}, models.ActionContext{})
	require.NoError(t, err)
	assert.Equal(t, "override", execution.Output["echo"])

	inactive := false
	_, err = executor.UpdateInstance(ctx, "t1", instance.ID, actions.InstanceUpdate{Active: &inactive})
	require.NoError(t, err)

	_, err = executor.ExecuteInstance(ctx, "t1", instance.ID, nil, models.ActionContext{})
	assert.True(t, apperr.IsNotActive(err))

	listed, err := executor.ListInstances(ctx, "t1", "echo")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, executor.DeleteInstance(ctx, "t1", instance.ID))
	assert.True(t, apperr.IsNotFound(executor.DeleteInstance(ctx, "t1", instance.ID)))
}

func TestExecutor_ListExecutionsAndStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	executor := newExecutor(t, clock, map[string]handlerFunc{"echo": echo})

	stats, err := executor.GetStats(ctx, "t1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, stats.SuccessRate, 0.001)
	assert.Empty(t, stats.RecentExecutions)

	var ids []string

	for _, input := range []map[string]any{{"message": "a"}, {"message": 1}, {"message": "c"}, {"message": "d"}} {
		execution, err := executor.Execute(ctx, "t1", "echo", input, models.ActionContext{})
		require.NoError(t, err)

		ids = append(ids, execution.ID)

		clock.Advance(time.Minute)
	}

	listed, err := executor.ListExecutions(ctx, "t1", actions.ExecutionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, ids[3], listed[0].ID)
	assert.Equal(t, ids[2], listed[1].ID)

	failed, err := executor.ListExecutions(ctx, "t1", actions.ExecutionFilter{Status: models.ActionStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[1], failed[0].ID)

	stats, err = executor.GetStats(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalExecutions)
	assert.Equal(t, 3, stats.ByStatus["success"])
	assert.Equal(t, 1, stats.ByStatus["failed"])
	assert.Equal(t, 4, stats.ByAction["echo"])
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.001)

	recent := make([]string, 0, len(stats.RecentExecutions))
	for _, execution := range stats.RecentExecutions {
		recent = append(recent, execution.ID)
	}

	sort.Strings(recent)
	sort.Strings(ids)
	assert.Equal(t, ids, recent)
}
