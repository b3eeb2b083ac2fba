// Package workflow provides the workflow engine: typed node/edge graphs owned by a
// tenant and the cancellable walk that executes them.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

const (
	kindWorkflow  = "workflow"
	kindExecution = "workflow execution"
)

// ActionRunner dispatches action nodes. It is satisfied by *actions.Executor.
type ActionRunner interface {
	Execute(
		ctx context.Context,
		tenantID, definitionID string,
		input map[string]any,
		actionCtx models.ActionContext,
	) (*models.ActionExecution, error)
	ExecuteInstance(
		ctx context.Context,
		tenantID, instanceID string,
		input map[string]any,
		actionCtx models.ActionContext,
	) (*models.ActionExecution, error)
}

type Config struct {
	Logger    *slog.Logger
	Store     persistence.Store
	Actions   ActionRunner
	Publisher eventbus.EventPublisher
	Clock     clockwork.Clock
	Tracer    trace.Tracer
}

type Engine struct {
	logger    *slog.Logger
	actions   ActionRunner
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
	tracer    trace.Tracer

	workflows  *persistence.Repository[models.Workflow]
	executions *persistence.Repository[models.WorkflowExecution]
	locks      *lock.KeyedMutex

	mu      sync.Mutex
	runs    map[string]*run
	running map[string]int
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otelhelper.Noop()
	}

	return &Engine{
		logger:     cfg.Logger.With("module", "workflow_engine"),
		actions:    cfg.Actions,
		publisher:  cfg.Publisher,
		clock:      cfg.Clock,
		tracer:     cfg.Tracer,
		workflows:  persistence.NewRepository[models.Workflow](cfg.Store, persistence.KindWorkflow),
		executions: persistence.NewRepository[models.WorkflowExecution](cfg.Store, persistence.KindWorkflowExecution),
		locks:      lock.New(),
		runs:       map[string]*run{},
		running:    map[string]int{},
	}
}

// WorkflowFilter narrows ListWorkflows. Zero fields match everything.
type WorkflowFilter struct {
	Status   models.WorkflowStatus
	Category string
	Tag      string
}

func (f WorkflowFilter) match(workflow *models.Workflow) bool {
	switch {
	case f.Status != "" && workflow.Status != f.Status:
		return false
	case f.Category != "" && workflow.Category != f.Category:
		return false
	case f.Tag != "" && !slices.Contains(workflow.Tags, f.Tag):
		return false
	default:
		return true
	}
}

// CreateWorkflow stores a new draft workflow at version 1. Nodes and edges without an
// id get one.
func (e *Engine) CreateWorkflow(ctx context.Context, tenantID string, workflow *models.Workflow) (*models.Workflow, error) {
	workflow.TenantID = tenantID

	prepareGraph(workflow)

	problems := models.ValidateStruct(workflow)
	problems = append(problems, configProblems(workflow)...)

	if len(problems) > 0 {
		return nil, apperr.Validation("CreateWorkflow", kindWorkflow, "", problems...)
	}

	now := e.now()

	workflow.ID = models.NewID(models.PrefixWorkflow)
	workflow.Version = 1
	workflow.Status = models.WorkflowStatusDraft
	workflow.Settings = workflow.Settings.WithDefaults()
	workflow.Stats = models.WorkflowStats{}
	workflow.PublishedAt = nil
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err := e.workflows.Save(ctx, tenantID, workflow.ID, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	e.logger.InfoContext(ctx, "Workflow created", "tenant_id", tenantID, "workflow_id", workflow.ID)
	e.emitChange(ctx, events.WorkflowCreatedEvent, workflow)

	return workflow, nil
}

func (e *Engine) GetWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	workflow, err := e.workflows.Get(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return nil, apperr.NotFound("GetWorkflow", kindWorkflow, id)
	}

	return workflow, err
}

// ListWorkflows returns the matching workflows of a tenant sorted by name.
func (e *Engine) ListWorkflows(ctx context.Context, tenantID string, filter WorkflowFilter) ([]*models.Workflow, error) {
	all, err := e.workflows.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if filter.match(workflow) {
			out = append(out, workflow)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out, nil
}

// UpdateWorkflow replaces the editable fields of a workflow. The version is bumped when
// nodes or edges change. An active workflow must stay valid.
func (e *Engine) UpdateWorkflow(ctx context.Context, tenantID, id string, workflow *models.Workflow) (*models.Workflow, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	existing, err := e.GetWorkflow(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	workflow.ID = id
	workflow.TenantID = tenantID

	prepareGraph(workflow)

	problems := models.ValidateStruct(workflow)
	problems = append(problems, configProblems(workflow)...)

	if len(problems) == 0 && existing.Status == models.WorkflowStatusActive {
		problems = Validate(workflow)
	}

	if len(problems) > 0 {
		return nil, apperr.Validation("UpdateWorkflow", kindWorkflow, id, problems...)
	}

	workflow.Version = existing.Version
	if graphChanged(existing, workflow) {
		workflow.Version++
	}

	workflow.Status = existing.Status
	workflow.Settings = workflow.Settings.WithDefaults()
	workflow.Stats = existing.Stats
	workflow.CreatedBy = existing.CreatedBy
	workflow.CreatedAt = existing.CreatedAt
	workflow.PublishedAt = existing.PublishedAt
	workflow.UpdatedAt = e.now()

	err = e.workflows.Save(ctx, tenantID, id, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	e.emitChange(ctx, events.WorkflowUpdatedEvent, workflow)

	return workflow, nil
}

func (e *Engine) DeleteWorkflow(ctx context.Context, tenantID, id string) error {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	workflow, err := e.GetWorkflow(ctx, tenantID, id)
	if err != nil {
		return err
	}

	err = e.workflows.Delete(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return apperr.NotFound("DeleteWorkflow", kindWorkflow, id)
	}

	if err != nil {
		return err
	}

	e.emitChange(ctx, events.WorkflowDeletedEvent, workflow)

	return nil
}

// ActivateWorkflow makes a workflow executable. A workflow that fails Validate keeps its
// status and the returned ValidationError lists every violation.
func (e *Engine) ActivateWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	workflow, err := e.GetWorkflow(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if workflow.Status == models.WorkflowStatusArchived {
		return nil, apperr.Conflict("ActivateWorkflow", kindWorkflow, id, "archived workflows cannot be activated")
	}

	if problems := Validate(workflow); len(problems) > 0 {
		return nil, apperr.Validation("ActivateWorkflow", kindWorkflow, id, problems...)
	}

	now := e.now()

	workflow.Status = models.WorkflowStatusActive
	workflow.PublishedAt = &now
	workflow.UpdatedAt = now

	err = e.workflows.Save(ctx, tenantID, id, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	e.logger.InfoContext(ctx, "Workflow activated", "tenant_id", tenantID, "workflow_id", id, "version", workflow.Version)
	e.emitChange(ctx, events.WorkflowActivatedEvent, workflow)

	return workflow, nil
}

// PauseWorkflow stops new executions of an active workflow. Running executions finish.
func (e *Engine) PauseWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	return e.setStatus(ctx, "PauseWorkflow", tenantID, id, models.WorkflowStatusPaused, events.WorkflowPausedEvent)
}

func (e *Engine) ArchiveWorkflow(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	return e.setStatus(ctx, "ArchiveWorkflow", tenantID, id, models.WorkflowStatusArchived, events.WorkflowArchivedEvent)
}

func (e *Engine) setStatus(
	ctx context.Context,
	op, tenantID, id string,
	status models.WorkflowStatus,
	eventType events.EventType,
) (*models.Workflow, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	workflow, err := e.GetWorkflow(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if status == models.WorkflowStatusPaused && workflow.Status != models.WorkflowStatusActive {
		return nil, apperr.Conflict(op, kindWorkflow, id, fmt.Sprintf("only active workflows can be paused, status is %s", workflow.Status))
	}

	workflow.Status = status
	workflow.UpdatedAt = e.now()

	err = e.workflows.Save(ctx, tenantID, id, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	e.emitChange(ctx, eventType, workflow)

	return workflow, nil
}

// DuplicateWorkflow copies a workflow into a new draft. Every node and edge gets a
// fresh id and references between them are remapped.
func (e *Engine) DuplicateWorkflow(ctx context.Context, tenantID, id, name string) (*models.Workflow, error) {
	original, err := e.GetWorkflow(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	duplicate, err := models.Clone(original)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = original.Name + " (copy)"
	}

	duplicate.Name = name
	remapIDs(duplicate)

	return e.CreateWorkflow(ctx, tenantID, duplicate)
}

// ValidateWorkflow reports the activation problems of a stored workflow.
func (e *Engine) ValidateWorkflow(ctx context.Context, tenantID, id string) ([]string, error) {
	workflow, err := e.GetWorkflow(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	return Validate(workflow), nil
}

func prepareGraph(workflow *models.Workflow) {
	if workflow.Nodes == nil {
		workflow.Nodes = []*models.WorkflowNode{}
	}

	if workflow.Edges == nil {
		workflow.Edges = []*models.WorkflowEdge{}
	}

	for _, node := range workflow.Nodes {
		if node.ID == "" {
			node.ID = models.NewID(models.PrefixNode)
		}
	}

	for _, edge := range workflow.Edges {
		if edge.ID == "" {
			edge.ID = models.NewID(models.PrefixEdge)
		}
	}
}

func remapIDs(workflow *models.Workflow) {
	ids := make(map[string]string, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		ids[node.ID] = models.NewID(models.PrefixNode)
		node.ID = ids[node.ID]
	}

	remap := func(id string) string {
		if mapped, ok := ids[id]; ok {
			return mapped
		}

		return id
	}

	for _, node := range workflow.Nodes {
		if node.ErrorHandling != nil {
			node.ErrorHandling.FallbackNodeID = remap(node.ErrorHandling.FallbackNodeID)
		}

		if parallel, ok := node.Config.(*models.ParallelNodeConfig); ok {
			for i, branch := range parallel.Branches {
				parallel.Branches[i] = remap(branch)
			}
		}
	}

	for _, edge := range workflow.Edges {
		edge.ID = models.NewID(models.PrefixEdge)
		edge.Source = remap(edge.Source)
		edge.Target = remap(edge.Target)
	}
}

func graphChanged(before, after *models.Workflow) bool {
	type graph struct {
		Nodes []*models.WorkflowNode `json:"nodes"`
		Edges []*models.WorkflowEdge `json:"edges"`
	}

	a, errA := json.Marshal(graph{Nodes: before.Nodes, Edges: before.Edges})
	b, errB := json.Marshal(graph{Nodes: after.Nodes, Edges: after.Edges})

	return errA != nil || errB != nil || string(a) != string(b)
}

func (e *Engine) emitChange(ctx context.Context, eventType events.EventType, workflow *models.Workflow) {
	if e.publisher == nil {
		return
	}

	event := events.EntityChanged{
		BaseEvent: events.NewBaseEvent(eventType, workflow.TenantID),
		EntityID:  workflow.ID,
		Name:      workflow.Name,
		Status:    string(workflow.Status),
		Version:   workflow.Version,
	}

	err := eventbus.Emit(context.WithoutCancel(ctx), e.publisher, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish workflow event", "workflow_id", workflow.ID, "event", eventType, "error", err)
	}
}
