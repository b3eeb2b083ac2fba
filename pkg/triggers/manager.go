// Package triggers provides the trigger manager: tenant-owned sources that filter and
// transform a payload and fan it out to workflows, rules, webhooks and functions.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/dukex/flowrule/pkg/rules"
	"github.com/dukex/flowrule/pkg/triggers/schedule"
	"github.com/dukex/flowrule/pkg/triggers/webhook"
	"github.com/dukex/flowrule/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

const (
	kindTrigger   = "trigger"
	kindExecution = "trigger execution"
)

// WorkflowRunner starts workflow targets. It is satisfied by *workflow.Engine.
type WorkflowRunner interface {
	ExecuteWorkflow(
		ctx context.Context,
		tenantID, workflowID string,
		input map[string]any,
		opts workflow.ExecuteOptions,
	) (*models.WorkflowExecution, error)
}

// RuleRunner evaluates rule targets. It is satisfied by *rules.Engine.
type RuleRunner interface {
	EvaluateRule(
		ctx context.Context,
		tenantID, ruleID string,
		input map[string]any,
		opts rules.EvaluateOptions,
	) (*models.RuleEvaluation, error)
}

// ActionRunner posts webhook targets through the webhook action. It is satisfied by
// *actions.Executor.
type ActionRunner interface {
	Execute(
		ctx context.Context,
		tenantID, definitionID string,
		input map[string]any,
		actionCtx models.ActionContext,
	) (*models.ActionExecution, error)
}

// Function is a named in-process target.
type Function func(ctx context.Context, tenantID string, input map[string]any) (any, error)

type Config struct {
	Logger     *slog.Logger
	Store      persistence.Store
	Publisher  eventbus.EventPublisher
	Subscriber eventbus.EventSubscriber
	Workflows  WorkflowRunner
	Rules      RuleRunner
	Actions    ActionRunner
	Scheduler  *schedule.Scheduler
	Webhooks   *webhook.Registry
	Clock      clockwork.Clock
	Tracer     trace.Tracer
}

type Manager struct {
	logger     *slog.Logger
	publisher  eventbus.EventPublisher
	subscriber eventbus.EventSubscriber
	workflows  WorkflowRunner
	rules      RuleRunner
	actions    ActionRunner
	scheduler  *schedule.Scheduler
	webhooks   *webhook.Registry
	clock      clockwork.Clock
	tracer     trace.Tracer

	triggers   *persistence.Repository[models.Trigger]
	executions *persistence.Repository[models.TriggerExecution]
	locks      *lock.KeyedMutex

	// ctx bounds the event subscriptions and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	subscriptions map[string]*subscription
	registered    map[triggerRef]registration
	functions     map[string]Function
}

func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otelhelper.Noop()
	}

	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.NewScheduler(cfg.Logger, cfg.Clock)
	}

	if cfg.Webhooks == nil {
		cfg.Webhooks = webhook.NewRegistry(cfg.Logger, 0, 0)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:        cfg.Logger.With("module", "trigger_manager"),
		publisher:     cfg.Publisher,
		subscriber:    cfg.Subscriber,
		workflows:     cfg.Workflows,
		rules:         cfg.Rules,
		actions:       cfg.Actions,
		scheduler:     cfg.Scheduler,
		webhooks:      cfg.Webhooks,
		clock:         cfg.Clock,
		tracer:        cfg.Tracer,
		triggers:      persistence.NewRepository[models.Trigger](cfg.Store, persistence.KindTrigger),
		executions:    persistence.NewRepository[models.TriggerExecution](cfg.Store, persistence.KindTriggerExecution),
		locks:         lock.New(),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: map[string]*subscription{},
		registered:    map[triggerRef]registration{},
		functions:     map[string]Function{},
	}
}

// Start runs the cron scheduler.
func (m *Manager) Start() {
	m.scheduler.Start()
}

// Close removes every activation side effect. Stored statuses are left untouched so
// Restore can bring them back.
func (m *Manager) Close() {
	m.mu.Lock()
	refs := make([]triggerRef, 0, len(m.registered))

	for ref := range m.registered {
		refs = append(refs, ref)
	}
	m.mu.Unlock()

	for _, ref := range refs {
		m.unregister(ref)
	}

	m.scheduler.Stop()
	m.cancel()
}

// RegisterFunction makes fn available to function targets under name.
func (m *Manager) RegisterFunction(name string, fn Function) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.functions[name] = fn
}

func (m *Manager) function(name string) (Function, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn, ok := m.functions[name]

	return fn, ok
}

// TriggerFilter narrows ListTriggers. Zero fields match everything.
type TriggerFilter struct {
	Type   models.TriggerType
	Status models.TriggerStatus
}

func (f TriggerFilter) match(trigger *models.Trigger) bool {
	switch {
	case f.Type != "" && trigger.Type != f.Type:
		return false
	case f.Status != "" && trigger.Status != f.Status:
		return false
	default:
		return true
	}
}

// CreateTrigger stores a new inactive trigger. Targets without an id get one.
func (m *Manager) CreateTrigger(ctx context.Context, tenantID string, trigger *models.Trigger) (*models.Trigger, error) {
	trigger.TenantID = tenantID

	prepareTargets(trigger)

	if problems := validateTrigger(trigger); len(problems) > 0 {
		return nil, apperr.Validation("CreateTrigger", kindTrigger, "", problems...)
	}

	now := m.now()

	trigger.ID = models.NewID(models.PrefixTrigger)
	trigger.Status = models.TriggerStatusInactive
	trigger.Metadata = models.TriggerMetadata{}
	trigger.LastError = ""
	trigger.CreatedAt = now
	trigger.UpdatedAt = now

	err := m.triggers.Save(ctx, tenantID, trigger.ID, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	m.logger.InfoContext(ctx, "Trigger created", "tenant_id", tenantID, "trigger_id", trigger.ID, "type", trigger.Type)
	m.emitChange(ctx, events.TriggerCreatedEvent, trigger)

	return trigger, nil
}

func (m *Manager) GetTrigger(ctx context.Context, tenantID, id string) (*models.Trigger, error) {
	trigger, err := m.triggers.Get(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return nil, apperr.NotFound("GetTrigger", kindTrigger, id)
	}

	return trigger, err
}

// ListTriggers returns the matching triggers of a tenant sorted by name.
func (m *Manager) ListTriggers(ctx context.Context, tenantID string, filter TriggerFilter) ([]*models.Trigger, error) {
	all, err := m.triggers.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Trigger, 0, len(all))

	for _, trigger := range all {
		if filter.match(trigger) {
			out = append(out, trigger)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out, nil
}

// UpdateTrigger replaces the editable fields of a trigger. The type cannot change. An
// active trigger is re-registered under the new config before the lock is released; if
// that fails the previous registration is restored and the update is rejected.
func (m *Manager) UpdateTrigger(ctx context.Context, tenantID, id string, trigger *models.Trigger) (*models.Trigger, error) {
	unlock := m.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	existing, err := m.GetTrigger(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	trigger.ID = id
	trigger.TenantID = tenantID

	prepareTargets(trigger)

	problems := validateTrigger(trigger)
	if trigger.Type != existing.Type {
		problems = append(problems, fmt.Sprintf("trigger type cannot change from %s to %s", existing.Type, trigger.Type))
	}

	if len(problems) > 0 {
		return nil, apperr.Validation("UpdateTrigger", kindTrigger, id, problems...)
	}

	trigger.Status = existing.Status
	trigger.Metadata = existing.Metadata
	trigger.LastError = existing.LastError
	trigger.CreatedBy = existing.CreatedBy
	trigger.CreatedAt = existing.CreatedAt
	trigger.UpdatedAt = m.now()

	if existing.Status == models.TriggerStatusActive {
		err = m.swap(existing, trigger)
		if err != nil {
			return nil, apperr.Conflict("UpdateTrigger", kindTrigger, id, err.Error())
		}
	}

	err = m.triggers.Save(ctx, tenantID, id, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to update trigger: %w", err)
	}

	m.emitChange(ctx, events.TriggerUpdatedEvent, trigger)

	return trigger, nil
}

// DeleteTrigger deactivates and removes a trigger. Its executions are kept.
func (m *Manager) DeleteTrigger(ctx context.Context, tenantID, id string) error {
	unlock := m.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	trigger, err := m.GetTrigger(ctx, tenantID, id)
	if err != nil {
		return err
	}

	m.unregister(refOf(trigger))

	err = m.triggers.Delete(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return apperr.NotFound("DeleteTrigger", kindTrigger, id)
	}

	if err != nil {
		return err
	}

	m.emitChange(ctx, events.TriggerDeletedEvent, trigger)

	return nil
}

// ActivateTrigger performs the activation side effect of the trigger type. When it
// fails the trigger is stored with status error and the cause in LastError.
func (m *Manager) ActivateTrigger(ctx context.Context, tenantID, id string) (*models.Trigger, error) {
	unlock := m.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	trigger, err := m.GetTrigger(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if trigger.Status == models.TriggerStatusActive {
		return trigger, nil
	}

	trigger.UpdatedAt = m.now()

	activateErr := m.register(trigger)
	if activateErr != nil {
		trigger.Status = models.TriggerStatusError
		trigger.LastError = activateErr.Error()
	} else {
		trigger.Status = models.TriggerStatusActive
		trigger.LastError = ""
	}

	err = m.triggers.Save(ctx, tenantID, id, trigger)
	if err != nil {
		m.unregister(refOf(trigger))

		return nil, fmt.Errorf("failed to activate trigger: %w", err)
	}

	if activateErr != nil {
		m.logger.WarnContext(ctx, "Trigger activation failed", "tenant_id", tenantID, "trigger_id", id, "error", activateErr)

		return nil, apperr.Conflict("ActivateTrigger", kindTrigger, id, activateErr.Error())
	}

	m.logger.InfoContext(ctx, "Trigger activated", "tenant_id", tenantID, "trigger_id", id, "type", trigger.Type)
	m.emitChange(ctx, events.TriggerActivatedEvent, trigger)

	return trigger, nil
}

// DeactivateTrigger reverses the activation side effect.
func (m *Manager) DeactivateTrigger(ctx context.Context, tenantID, id string) (*models.Trigger, error) {
	unlock := m.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	trigger, err := m.GetTrigger(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	m.unregister(refOf(trigger))

	trigger.Status = models.TriggerStatusInactive
	trigger.UpdatedAt = m.now()

	err = m.triggers.Save(ctx, tenantID, id, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate trigger: %w", err)
	}

	m.logger.InfoContext(ctx, "Trigger deactivated", "tenant_id", tenantID, "trigger_id", id)
	m.emitChange(ctx, events.TriggerDeactivatedEvent, trigger)

	return trigger, nil
}

// Restore registers the stored active triggers of a tenant, typically at startup.
// Triggers that cannot be registered are moved to status error.
func (m *Manager) Restore(ctx context.Context, tenantID string) error {
	active, err := m.ListTriggers(ctx, tenantID, TriggerFilter{Status: models.TriggerStatusActive})
	if err != nil {
		return err
	}

	for _, trigger := range active {
		unlock := m.locks.Lock(lock.Key(tenantID, trigger.ID))

		err := m.register(trigger)
		if err != nil {
			m.logger.WarnContext(ctx, "Failed to restore trigger", "tenant_id", tenantID, "trigger_id", trigger.ID, "error", err)

			trigger.Status = models.TriggerStatusError
			trigger.LastError = err.Error()

			saveErr := m.triggers.Save(ctx, tenantID, trigger.ID, trigger)
			if saveErr != nil {
				m.logger.ErrorContext(ctx, "Failed to save trigger status", "trigger_id", trigger.ID, "error", saveErr)
			}
		}

		unlock()
	}

	m.logger.InfoContext(ctx, "Triggers restored", "tenant_id", tenantID, "count", len(active))

	return nil
}

func prepareTargets(trigger *models.Trigger) {
	if trigger.Targets == nil {
		trigger.Targets = []models.TriggerTarget{}
	}

	for i := range trigger.Targets {
		if trigger.Targets[i].ID == "" {
			trigger.Targets[i].ID = models.NewID(models.PrefixTriggerTarget)
		}
	}
}

func validateTrigger(trigger *models.Trigger) []string {
	problems := models.ValidateStruct(trigger)

	err := trigger.CheckConfig()
	if err != nil {
		return append(problems, err.Error())
	}

	switch config := trigger.Config.(type) {
	case *models.EventTriggerConfig:
		if config.EventName == "" {
			problems = append(problems, "event_name is required")
		}
	case *models.ScheduleTriggerConfig:
		if err := schedule.Validate(config); err != nil {
			problems = append(problems, err.Error())
		}
	case *models.WebhookTriggerConfig:
		if config.Path == "" {
			problems = append(problems, "path is required")
		}
	case *models.ManualTriggerConfig, *models.APITriggerConfig, *models.EmailTriggerConfig,
		*models.FileTriggerConfig, *models.DatabaseTriggerConfig:
	}

	for i, filter := range trigger.Filters {
		problems = append(problems, condition.ValidateCondition(filter, fmt.Sprintf("filters[%d]", i))...)
	}

	for _, target := range trigger.Targets {
		switch target.Type {
		case models.TargetWebhook:
			if target.URL == "" {
				problems = append(problems, fmt.Sprintf("target %s: url is required", target.ID))
			}
		default:
			if target.TargetID == "" {
				problems = append(problems, fmt.Sprintf("target %s: target_id is required", target.ID))
			}
		}
	}

	for i, transformation := range trigger.Transformations {
		if err := checkTransformation(transformation); err != nil {
			problems = append(problems, fmt.Sprintf("transformations[%d]: %s", i, err))
		}
	}

	return problems
}

func (m *Manager) emitChange(ctx context.Context, eventType events.EventType, trigger *models.Trigger) {
	if m.publisher == nil {
		return
	}

	err := eventbus.Emit(ctx, m.publisher, events.EntityChanged{
		BaseEvent: events.NewBaseEvent(eventType, trigger.TenantID),
		EntityID:  trigger.ID,
		Name:      trigger.Name,
		Status:    string(trigger.Status),
	})
	if err != nil {
		m.logger.WarnContext(ctx, "Failed to publish trigger event", "event", eventType, "trigger_id", trigger.ID, "error", err)
	}
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC()
}
