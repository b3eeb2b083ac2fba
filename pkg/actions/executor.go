// Package actions provides the action executor: the catalog of action definitions,
// tenant action instances and the execution of actions with rate limits, input
// validation and timeouts.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/dukex/flowrule/pkg/protocol"
	"github.com/dukex/flowrule/pkg/ratelimit"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const kindExecution = "action execution"

// Handlers is the set of registered action handlers.
type Handlers interface {
	protocol.SideEffect

	Definitions() []models.ActionDefinition
	HasAction(id string) bool
}

// Config holds the collaborators of an Executor. Limiter, Clock and Tracer default
// to an in-memory limiter, the real clock and a no-op tracer.
type Config struct {
	Logger    *slog.Logger
	Store     persistence.Store
	Handlers  Handlers
	Limiter   ratelimit.Limiter
	Publisher eventbus.EventPublisher
	Clock     clockwork.Clock
	Tracer    trace.Tracer
}

type Executor struct {
	logger    *slog.Logger
	handlers  Handlers
	limiter   ratelimit.Limiter
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
	tracer    trace.Tracer

	definitions *persistence.Repository[models.ActionDefinition]
	instances   *persistence.Repository[models.ActionInstance]
	executions  *persistence.Repository[models.ActionExecution]
	locks       *lock.KeyedMutex
}

func NewExecutor(cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewMemory(cfg.Clock)
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otelhelper.Noop()
	}

	return &Executor{
		logger:      cfg.Logger.With("module", "action_executor"),
		handlers:    cfg.Handlers,
		limiter:     cfg.Limiter,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		tracer:      cfg.Tracer,
		definitions: persistence.NewRepository[models.ActionDefinition](cfg.Store, persistence.KindActionDefinition),
		instances:   persistence.NewRepository[models.ActionInstance](cfg.Store, persistence.KindActionInstance),
		executions:  persistence.NewRepository[models.ActionExecution](cfg.Store, persistence.KindActionExecution),
		locks:       lock.New(),
	}
}

// Execute runs definitionID for tenantID. Only an unknown definition is returned as an
// error; every other failure is recorded on the returned execution.
func (e *Executor) Execute(
	ctx context.Context,
	tenantID, definitionID string,
	input map[string]any,
	actionCtx models.ActionContext,
) (*models.ActionExecution, error) {
	definition, err := e.GetDefinition(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}

	return e.start(ctx, tenantID, definition, "", input, actionCtx)
}

// ExecuteInstance runs the definition of an active instance with the instance config
// as base input. Keys of input override the config.
func (e *Executor) ExecuteInstance(
	ctx context.Context,
	tenantID, instanceID string,
	input map[string]any,
	actionCtx models.ActionContext,
) (*models.ActionExecution, error) {
	instance, err := e.GetInstance(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}

	if !instance.Active {
		return nil, apperr.NotActive("ExecuteInstance", "action instance", instanceID)
	}

	definition, err := e.GetDefinition(ctx, tenantID, instance.DefinitionID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(instance.Config)+len(input))
	for key, value := range instance.Config {
		merged[key] = value
	}

	for key, value := range input {
		merged[key] = value
	}

	return e.start(ctx, tenantID, definition, instance.ID, merged, actionCtx)
}

func (e *Executor) start(
	ctx context.Context,
	tenantID string,
	definition *models.ActionDefinition,
	instanceID string,
	input map[string]any,
	actionCtx models.ActionContext,
) (*models.ActionExecution, error) {
	if input == nil {
		input = map[string]any{}
	}

	actionCtx.TenantID = tenantID

	execution := &models.ActionExecution{
		ID:           models.NewID(models.PrefixActionExecution),
		TenantID:     tenantID,
		DefinitionID: definition.ID,
		InstanceID:   instanceID,
		Status:       models.ActionStatusPending,
		Input:        input,
		Logs:         []models.ActionLog{},
		Context:      actionCtx,
	}

	e.run(ctx, definition, execution)

	err := e.executions.Save(context.WithoutCancel(ctx), tenantID, execution.ID, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to save action execution: %w", err)
	}

	e.emit(ctx, definition, execution)

	return execution, nil
}

// RetryExecution re-runs a failed execution of a retryable definition in place.
func (e *Executor) RetryExecution(ctx context.Context, tenantID, executionID string) (*models.ActionExecution, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, executionID))
	defer unlock()

	execution, err := e.GetExecution(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ActionStatusFailed {
		return nil, apperr.Conflict("RetryExecution", kindExecution, executionID, "Only failed executions can be retried")
	}

	definition, err := e.GetDefinition(ctx, tenantID, execution.DefinitionID)
	if err != nil {
		return nil, err
	}

	if !definition.Retryable {
		return nil, apperr.Conflict("RetryExecution", kindExecution, executionID, "Action is not retryable")
	}

	execution.RetryCount++
	execution.Status = models.ActionStatusRetry
	execution.Error = nil
	execution.Output = nil
	execution.CompletedAt = nil

	err = e.executions.Save(ctx, tenantID, execution.ID, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to save action execution: %w", err)
	}

	e.run(ctx, definition, execution)

	err = e.executions.Save(context.WithoutCancel(ctx), tenantID, execution.ID, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to save action execution: %w", err)
	}

	e.emit(ctx, definition, execution)

	return execution, nil
}

type outcome struct {
	output map[string]any
	err    error
}

// run drives one attempt of execution to a final status.
func (e *Executor) run(ctx context.Context, definition *models.ActionDefinition, execution *models.ActionExecution) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "action.execute",
		attribute.String(otelhelper.TenantIDKey, execution.TenantID),
		attribute.String(otelhelper.ActionIDKey, definition.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
	)
	defer span.End()

	buf := &logBuffer{clock: e.clock, logs: execution.Logs}
	logger := newCaptureLogger(e.logger.With("tenant_id", execution.TenantID, "execution_id", execution.ID), buf)

	start := e.clock.Now()
	execution.StartedAt = start.UTC()
	execution.Status = models.ActionStatusRunning

	logger.InfoContext(ctx, "Starting action: "+definition.Name)

	output, actionErr := e.attempt(ctx, definition, execution, logger)

	if actionErr != nil {
		execution.Status = models.ActionStatusFailed
		if actionErr.Code == models.ErrCodeCancelled {
			execution.Status = models.ActionStatusCancelled
		}

		execution.Error = actionErr

		logger.ErrorContext(ctx, "Action failed", "code", actionErr.Code, "error", actionErr.Message)
		otelhelper.SetError(span, errors.New(actionErr.Message), attribute.String(otelhelper.StatusKey, actionErr.Code))
	} else {
		execution.Status = models.ActionStatusSuccess
		execution.Output = output
	}

	logger.InfoContext(ctx, "Action completed: "+string(execution.Status))
	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(execution.Status)))

	completed := e.clock.Now()
	completedAt := completed.UTC()
	execution.CompletedAt = &completedAt
	execution.Duration = completed.Sub(start).Milliseconds()
	execution.Logs = buf.seal()
}

func (e *Executor) attempt(
	ctx context.Context,
	definition *models.ActionDefinition,
	execution *models.ActionExecution,
	logger *slog.Logger,
) (map[string]any, *models.ActionError) {
	if definition.RateLimit != nil && definition.RateLimit.MaxRequests > 0 {
		window := time.Duration(definition.RateLimit.WindowMs) * time.Millisecond

		decision, err := e.limiter.Allow(ctx, lock.Key(execution.TenantID, definition.ID), definition.RateLimit.MaxRequests, window)
		if err != nil {
			logger.WarnContext(ctx, "Rate limiter unavailable, allowing execution", "error", err)
		} else if !decision.Allowed {
			return nil, &models.ActionError{
				Code:        models.ErrCodeRateLimited,
				Message:     "Rate limit exceeded, resets at " + decision.ResetAt.UTC().Format(time.RFC3339),
				Recoverable: true,
			}
		}
	}

	input := withDefaults(definition.InputSchema, execution.Input)

	problems, err := validateInput(definition.InputSchema, input)
	if err != nil {
		return nil, &models.ActionError{Code: models.ErrCodeValidation, Message: err.Error()}
	}

	if len(problems) > 0 {
		return nil, &models.ActionError{Code: models.ErrCodeValidation, Message: strings.Join(problems, "; ")}
	}

	if !e.handlers.HasAction(definition.ID) {
		return nil, &models.ActionError{
			Code:    models.ErrCodeUnknownAction,
			Message: "Unknown action: " + definition.ID,
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("action panicked: %v", r)}
			}
		}()

		output, err := e.handlers.Run(runCtx, definition, input, execution.Context, logger)
		done <- outcome{output: output, err: err}
	}()

	timeout := definition.TimeoutDuration()

	timer := e.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-done:
		if result.err == nil {
			return result.output, nil
		}

		return nil, e.classify(ctx, definition, result.err)
	case <-timer.Chan():
		return nil, &models.ActionError{
			Code:        models.ErrCodeExecutionError,
			Message:     fmt.Sprintf("Action timed out after %dms", timeout.Milliseconds()),
			Recoverable: definition.Retryable,
		}
	case <-ctx.Done():
		return nil, &models.ActionError{Code: models.ErrCodeCancelled, Message: ctx.Err().Error()}
	}
}

func (e *Executor) classify(ctx context.Context, definition *models.ActionDefinition, err error) *models.ActionError {
	switch {
	case errors.Is(err, protocol.ErrUnknownAction):
		return &models.ActionError{Code: models.ErrCodeUnknownAction, Message: err.Error()}
	case ctx.Err() != nil:
		return &models.ActionError{Code: models.ErrCodeCancelled, Message: ctx.Err().Error()}
	default:
		return &models.ActionError{
			Code:        models.ErrCodeExecutionError,
			Message:     err.Error(),
			Recoverable: definition.Retryable,
		}
	}
}

func (e *Executor) emit(ctx context.Context, definition *models.ActionDefinition, execution *models.ActionExecution) {
	if e.publisher == nil {
		return
	}

	event := events.Execution{
		BaseEvent:      events.NewBaseEvent(events.ActionExecutedEvent, execution.TenantID),
		AutomationID:   definition.ID,
		AutomationName: definition.Name,
		ExecutionID:    execution.ID,
		Status:         string(execution.Status),
		Input:          execution.Input,
		Output:         execution.Output,
		Error:          execution.ErrorMessage(),
		Duration:       execution.Duration,
	}

	err := eventbus.Emit(context.WithoutCancel(ctx), e.publisher, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish action event", "execution_id", execution.ID, "error", err)
	}
}
