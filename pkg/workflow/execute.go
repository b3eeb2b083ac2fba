package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/dukex/flowrule/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Trigger types recorded on executions started by the engine itself.
const (
	TriggerManual      = "manual"
	TriggerAction      = "action"
	TriggerSubworkflow = "subworkflow"
)

// ExecuteOptions describe where an execution comes from.
type ExecuteOptions struct {
	Trigger           models.ExecutionTrigger
	ParentExecutionID string
}

// run owns one execution while it is in flight.
type run struct {
	engine    *Engine
	workflow  *models.Workflow
	settings  models.WorkflowSettings
	logger    *slog.Logger
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	// mu guards execution, which parallel branches update concurrently.
	mu        sync.Mutex
	execution *models.WorkflowExecution
}

// ExecuteWorkflow starts an execution of an active workflow and returns the pending
// record right away. The walk runs in its own goroutine, detached from ctx and bounded
// by the workflow's MaxExecutionTime. Use AwaitExecution to wait for the outcome.
func (e *Engine) ExecuteWorkflow(
	ctx context.Context,
	tenantID, workflowID string,
	input map[string]any,
	opts ExecuteOptions,
) (*models.WorkflowExecution, error) {
	r, runCtx, snapshot, err := e.start(ctx, tenantID, workflowID, input, opts)
	if err != nil {
		return nil, err
	}

	go r.execute(runCtx)

	return snapshot, nil
}

// StartWorkflow runs a workflow on behalf of the start_workflow action. With wait it
// blocks until the execution finishes and fails when the execution did not complete.
func (e *Engine) StartWorkflow(
	ctx context.Context,
	tenantID, workflowID string,
	input map[string]any,
	wait bool,
) (map[string]any, error) {
	execution, err := e.ExecuteWorkflow(ctx, tenantID, workflowID, input, ExecuteOptions{
		Trigger: models.ExecutionTrigger{Type: TriggerAction},
	})
	if err != nil {
		return nil, err
	}

	if !wait {
		return map[string]any{
			"executionId": execution.ID,
			"status":      string(execution.Status),
		}, nil
	}

	execution, err = e.AwaitExecution(ctx, tenantID, execution.ID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusCompleted {
		return nil, fmt.Errorf("%w: execution %s %s: %s", ErrChildFailed, execution.ID, execution.Status, execution.Error)
	}

	return map[string]any{
		"executionId": execution.ID,
		"status":      string(execution.Status),
		"output":      execution.Context.Output,
	}, nil
}

func (e *Engine) start(
	ctx context.Context,
	tenantID, workflowID string,
	input map[string]any,
	opts ExecuteOptions,
) (*run, context.Context, *models.WorkflowExecution, error) {
	workflow, err := e.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, nil, nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, nil, nil, apperr.NotActive("ExecuteWorkflow", kindWorkflow, workflowID)
	}

	if input == nil {
		input = map[string]any{}
	}

	variables := maps.Clone(workflow.Variables)
	if variables == nil {
		variables = map[string]any{}
	}

	trigger := opts.Trigger
	if trigger.Type == "" {
		trigger.Type = TriggerManual
	}

	execution := &models.WorkflowExecution{
		ID:              models.NewID(models.PrefixWorkflowExecution),
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		TenantID:        tenantID,
		Status:          models.ExecutionStatusPending,
		Trigger:         trigger,
		Context: models.ExecutionContext{
			Variables: variables,
			Input:     input,
			Output:    map[string]any{},
			Metadata:  map[string]any{"workflow_name": workflow.Name},
		},
		NodeExecutions:    []*models.NodeExecution{},
		ParentExecutionID: opts.ParentExecutionID,
		StartedAt:         e.now(),
	}

	snapshot, err := models.Clone(execution)
	if err != nil {
		return nil, nil, nil, err
	}

	settings := workflow.Settings.WithDefaults()
	timeout := time.Duration(settings.MaxExecutionTime) * time.Millisecond

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	r := &run{
		engine:    e,
		workflow:  workflow,
		settings:  settings,
		execution: execution,
		done:      make(chan struct{}),
		cancel:    cancel,
		logger: e.logger.With(
			"tenant_id", tenantID,
			"workflow_id", workflow.ID,
			"execution_id", execution.ID,
		),
	}

	err = e.register(r)
	if err != nil {
		cancel()

		return nil, nil, nil, err
	}

	err = e.executions.Save(ctx, tenantID, execution.ID, snapshot)
	if err != nil {
		e.unregister(r)
		cancel()

		return nil, nil, nil, fmt.Errorf("failed to save workflow execution: %w", err)
	}

	return r, runCtx, snapshot, nil
}

// register admits r unless the workflow already runs ConcurrencyLimit executions.
func (e *Engine) register(r *run) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := lock.Key(r.execution.TenantID, r.workflow.ID)

	if e.running[key] >= r.settings.ConcurrencyLimit {
		return apperr.Validation("ExecuteWorkflow", kindWorkflow, r.workflow.ID,
			fmt.Sprintf("concurrency limit of %d running executions reached", r.settings.ConcurrencyLimit))
	}

	e.running[key]++
	e.runs[r.execution.ID] = r

	return nil
}

func (e *Engine) unregister(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := lock.Key(r.execution.TenantID, r.workflow.ID)

	e.running[key]--
	if e.running[key] <= 0 {
		delete(e.running, key)
	}

	delete(e.runs, r.execution.ID)
}

func (e *Engine) lookup(tenantID, executionID string) (*run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[executionID]
	if !ok || r.execution.TenantID != tenantID {
		return nil, false
	}

	return r, true
}

// GetExecution returns a live snapshot of a running execution or the stored record.
func (e *Engine) GetExecution(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	if r, ok := e.lookup(tenantID, id); ok {
		return r.snapshot()
	}

	execution, err := e.executions.Get(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return nil, apperr.NotFound("GetExecution", kindExecution, id)
	}

	return execution, err
}

// AwaitExecution blocks until the execution reaches a terminal status or ctx is done.
func (e *Engine) AwaitExecution(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	if r, ok := e.lookup(tenantID, id); ok {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.done:
		}
	}

	return e.GetExecution(ctx, tenantID, id)
}

// CancelExecution signals a pending or running execution to stop and waits for the
// walk to unwind. Side effects already started are not undone.
func (e *Engine) CancelExecution(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	r, ok := e.lookup(tenantID, id)
	if !ok {
		execution, err := e.GetExecution(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}

		return nil, apperr.Conflict("CancelExecution", kindExecution, id,
			fmt.Sprintf("execution already finished with status %s", execution.Status))
	}

	r.cancelled.Store(true)
	r.cancel()

	r.logger.InfoContext(ctx, "Workflow execution cancellation requested")

	return e.AwaitExecution(ctx, tenantID, id)
}

func (r *run) execute(ctx context.Context) {
	defer r.cancel()

	e := r.engine

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.TenantIDKey, r.execution.TenantID),
		attribute.String(otelhelper.WorkflowIDKey, r.workflow.ID),
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
	)
	defer span.End()

	r.mu.Lock()
	r.execution.Status = models.ExecutionStatusRunning
	r.mu.Unlock()

	r.save(ctx)

	r.logger.InfoContext(ctx, "Workflow execution started", "version", r.workflow.Version)
	e.emitExecution(ctx, events.WorkflowStartedEvent, r)

	var err error

	for _, trigger := range r.workflow.NodesOfType(models.NodeTypeTrigger) {
		err = r.walk(ctx, trigger.ID)
		if err != nil {
			break
		}
	}

	r.finish(ctx, err)

	if err != nil {
		otelhelper.SetError(span, err)
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(r.execution.Status)))
}

func (r *run) finish(ctx context.Context, err error) {
	e := r.engine
	completedAt := e.now()

	r.mu.Lock()

	execution := r.execution

	switch {
	case err != nil && r.cancelled.Load():
		execution.Status = models.ExecutionStatusCancelled
		execution.Error = "execution cancelled"
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		execution.Status = models.ExecutionStatusFailed
		execution.Error = fmt.Sprintf("execution exceeded max execution time of %dms", r.settings.MaxExecutionTime)
	case err != nil:
		execution.Status = models.ExecutionStatusFailed
		execution.Error = err.Error()
	default:
		execution.Status = models.ExecutionStatusCompleted
	}

	execution.CompletedAt = &completedAt
	execution.Duration = completedAt.Sub(execution.StartedAt).Milliseconds()

	r.mu.Unlock()

	r.save(ctx)

	statsErr := e.recordStats(ctx, execution)
	if statsErr != nil {
		r.logger.WarnContext(ctx, "Failed to update workflow stats", "error", statsErr)
	}

	e.unregister(r)

	r.logger.InfoContext(ctx, "Workflow execution finished",
		"status", execution.Status,
		"duration_ms", execution.Duration,
		"error", execution.Error,
	)

	e.emitExecution(ctx, events.WorkflowExecutedEvent, r)

	close(r.done)
}

func (r *run) save(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.engine.executions.Save(context.WithoutCancel(ctx), r.execution.TenantID, r.execution.ID, r.execution)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save workflow execution", "status", r.execution.Status, "error", err)
	}
}

func (r *run) snapshot() (*models.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return models.Clone(r.execution)
}

// recordStats folds a finished execution into the workflow stats with an incremental mean.
func (e *Engine) recordStats(ctx context.Context, execution *models.WorkflowExecution) error {
	unlock := e.locks.Lock(lock.Key(execution.TenantID, execution.WorkflowID))
	defer unlock()

	ctx = context.WithoutCancel(ctx)

	workflow, err := e.workflows.Get(ctx, execution.TenantID, execution.WorkflowID)
	if err != nil {
		return err
	}

	stats := &workflow.Stats

	stats.TotalExecutions++

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		stats.SuccessfulExecutions++
	case models.ExecutionStatusFailed:
		stats.FailedExecutions++
	}

	stats.AvgExecutionTime = models.RunningMean(stats.AvgExecutionTime, stats.TotalExecutions, float64(execution.Duration))
	stats.LastExecutedAt = execution.CompletedAt

	return e.workflows.Save(ctx, execution.TenantID, workflow.ID, workflow)
}

func (e *Engine) emitExecution(ctx context.Context, eventType events.EventType, r *run) {
	if e.publisher == nil {
		return
	}

	r.mu.Lock()
	event := events.Execution{
		BaseEvent:      events.NewBaseEvent(eventType, r.execution.TenantID),
		AutomationID:   r.workflow.ID,
		AutomationName: r.workflow.Name,
		ExecutionID:    r.execution.ID,
		Status:         string(r.execution.Status),
		Input:          r.execution.Context.Input,
		Output:         maps.Clone(r.execution.Context.Output),
		Error:          r.execution.Error,
		Duration:       r.execution.Duration,
	}
	r.mu.Unlock()

	err := eventbus.Emit(context.WithoutCancel(ctx), e.publisher, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish workflow execution event", "execution_id", event.ExecutionID, "error", err)
	}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}
