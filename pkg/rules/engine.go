// Package rules provides the rule engine: condition trees mapped to ordered actions,
// gated by schedules and execution limits, and grouped into rule sets.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/condition"
	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

const kindRule = "rule"

// ActionRunner dispatches rule actions. It is satisfied by *actions.Executor.
type ActionRunner interface {
	GetDefinition(ctx context.Context, tenantID, id string) (*models.ActionDefinition, error)
	Execute(
		ctx context.Context,
		tenantID, definitionID string,
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

	rules       *persistence.Repository[models.Rule]
	sets        *persistence.Repository[models.RuleSet]
	evaluations *persistence.Repository[models.RuleEvaluation]
	locks       *lock.KeyedMutex
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otelhelper.Noop()
	}

	return &Engine{
		logger:      cfg.Logger.With("module", "rule_engine"),
		actions:     cfg.Actions,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		tracer:      cfg.Tracer,
		rules:       persistence.NewRepository[models.Rule](cfg.Store, persistence.KindRule),
		sets:        persistence.NewRepository[models.RuleSet](cfg.Store, persistence.KindRuleSet),
		evaluations: persistence.NewRepository[models.RuleEvaluation](cfg.Store, persistence.KindRuleEvaluation),
		locks:       lock.New(),
	}
}

// RuleFilter narrows ListRules. Zero fields match everything.
type RuleFilter struct {
	Status   models.RuleStatus
	Category string
	Priority models.RulePriority
	Tag      string
}

func (f RuleFilter) match(rule *models.Rule) bool {
	switch {
	case f.Status != "" && rule.Status != f.Status:
		return false
	case f.Category != "" && rule.Category != f.Category:
		return false
	case f.Priority != "" && rule.Priority != f.Priority:
		return false
	case f.Tag != "" && !slices.Contains(rule.Tags, f.Tag):
		return false
	default:
		return true
	}
}

// CreateRule stores a new draft rule. Priority defaults to medium.
func (e *Engine) CreateRule(ctx context.Context, tenantID string, rule *models.Rule) (*models.Rule, error) {
	rule.TenantID = tenantID

	prepareRule(rule)

	err := e.validateRule(ctx, "CreateRule", rule)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()

	rule.ID = models.NewID(models.PrefixRule)
	rule.Status = models.RuleStatusDraft
	rule.Counters = models.RuleCounters{}
	rule.Metadata = models.RuleMetadata{}
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err = e.rules.Save(ctx, tenantID, rule.ID, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	e.logger.InfoContext(ctx, "Rule created", "tenant_id", tenantID, "rule_id", rule.ID)
	e.emitChange(ctx, events.RuleCreatedEvent, rule)

	return rule, nil
}

func (e *Engine) GetRule(ctx context.Context, tenantID, id string) (*models.Rule, error) {
	rule, err := e.rules.Get(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return nil, apperr.NotFound("GetRule", kindRule, id)
	}

	return rule, err
}

// ListRules returns matching rules ordered by priority, then name.
func (e *Engine) ListRules(ctx context.Context, tenantID string, filter RuleFilter) ([]*models.Rule, error) {
	all, err := e.rules.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Rule, 0, len(all))

	for _, rule := range all {
		if filter.match(rule) {
			out = append(out, rule)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}

		return out[i].Name < out[j].Name
	})

	return out, nil
}

// UpdateRule replaces the definition of a rule. Status, counters, metadata and
// creation fields are kept.
func (e *Engine) UpdateRule(ctx context.Context, tenantID, id string, rule *models.Rule) (*models.Rule, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	existing, err := e.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	rule.ID = id
	rule.TenantID = tenantID

	prepareRule(rule)

	err = e.validateRule(ctx, "UpdateRule", rule)
	if err != nil {
		return nil, err
	}

	rule.Status = existing.Status
	rule.Counters = existing.Counters
	rule.Metadata = existing.Metadata
	rule.CreatedBy = existing.CreatedBy
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = e.clock.Now().UTC()

	err = e.rules.Save(ctx, tenantID, id, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	e.emitChange(ctx, events.RuleUpdatedEvent, rule)

	return rule, nil
}

func (e *Engine) DeleteRule(ctx context.Context, tenantID, id string) error {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	rule, err := e.GetRule(ctx, tenantID, id)
	if err != nil {
		return err
	}

	err = e.rules.Delete(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	e.emitChange(ctx, events.RuleDeletedEvent, rule)

	return nil
}

func (e *Engine) ActivateRule(ctx context.Context, tenantID, id string) (*models.Rule, error) {
	return e.setStatus(ctx, tenantID, id, models.RuleStatusActive, events.RuleActivatedEvent)
}

func (e *Engine) DeactivateRule(ctx context.Context, tenantID, id string) (*models.Rule, error) {
	return e.setStatus(ctx, tenantID, id, models.RuleStatusInactive, events.RuleDeactivatedEvent)
}

func (e *Engine) setStatus(
	ctx context.Context,
	tenantID, id string,
	status models.RuleStatus,
	eventType events.EventType,
) (*models.Rule, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	rule, err := e.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if rule.Status == models.RuleStatusArchived {
		return nil, apperr.Conflict("SetRuleStatus", kindRule, id, "archived rules cannot change status")
	}

	rule.Status = status
	rule.UpdatedAt = e.clock.Now().UTC()

	err = e.rules.Save(ctx, tenantID, id, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	e.logger.InfoContext(ctx, "Rule status changed", "tenant_id", tenantID, "rule_id", id, "status", status)
	e.emitChange(ctx, eventType, rule)

	return rule, nil
}

// DuplicateRule copies a rule under a fresh id as a draft with cleared counters and
// metadata. Actions get fresh ids.
func (e *Engine) DuplicateRule(ctx context.Context, tenantID, id, name string) (*models.Rule, error) {
	source, err := e.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	duplicate, err := models.Clone(source)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = source.Name + " (copy)"
	}

	duplicate.Name = name

	for i := range duplicate.Actions {
		duplicate.Actions[i].ID = ""
	}

	return e.CreateRule(ctx, tenantID, duplicate)
}

func prepareRule(rule *models.Rule) {
	if rule.Priority == "" {
		rule.Priority = models.PriorityMedium
	}

	if rule.Conditions.Operator == "" {
		rule.Conditions.Operator = models.GroupAnd
	}

	for i := range rule.Actions {
		if rule.Actions[i].ID == "" {
			rule.Actions[i].ID = models.NewID(models.PrefixRuleAction)
		}
	}
}

// validateRule reports every problem of rule as one ValidationError.
func (e *Engine) validateRule(ctx context.Context, op string, rule *models.Rule) error {
	problems := models.ValidateStruct(rule)
	problems = append(problems, condition.Validate(rule.Conditions)...)

	for i, action := range rule.Actions {
		if action.Condition != nil {
			for _, problem := range condition.Validate(*action.Condition) {
				problems = append(problems, fmt.Sprintf("actions[%d].condition: %s", i, problem))
			}
		}

		if action.Type == "" {
			continue
		}

		_, err := e.actions.GetDefinition(ctx, rule.TenantID, action.Type)
		if apperr.IsNotFound(err) {
			problems = append(problems, fmt.Sprintf("actions[%d]: unknown action type '%s'", i, action.Type))
		} else if err != nil {
			return err
		}
	}

	problems = append(problems, validateSchedule(rule.Schedule)...)

	if len(problems) > 0 {
		return apperr.Validation(op, kindRule, rule.ID, problems...)
	}

	return nil
}

func (e *Engine) emitChange(ctx context.Context, eventType events.EventType, rule *models.Rule) {
	if e.publisher == nil {
		return
	}

	event := events.EntityChanged{
		BaseEvent: events.NewBaseEvent(eventType, rule.TenantID),
		EntityID:  rule.ID,
		Name:      rule.Name,
		Status:    string(rule.Status),
	}

	err := eventbus.Emit(context.WithoutCancel(ctx), e.publisher, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish rule event", "rule_id", rule.ID, "event", eventType, "error", err)
	}
}
