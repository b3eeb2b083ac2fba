package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/lock"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/otelhelper"
	"github.com/dukex/flowrule/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

const kindRuleSet = "rule set"

// RuleSetResult holds the evaluations of one EvaluateRuleSet call in run order.
type RuleSetResult struct {
	RuleSetID   string                   `json:"rule_set_id"`
	Evaluations []*models.RuleEvaluation `json:"evaluations"`
	Matched     int                      `json:"matched"`
}

// CreateRuleSet stores an active rule set. Every member rule must exist.
func (e *Engine) CreateRuleSet(ctx context.Context, tenantID string, set *models.RuleSet) (*models.RuleSet, error) {
	set.TenantID = tenantID

	if set.ExecutionMode == "" {
		set.ExecutionMode = models.ExecutionModeAll
	}

	err := e.validateRuleSet(ctx, "CreateRuleSet", set)
	if err != nil {
		return nil, err
	}

	now := e.now()

	set.ID = models.NewID(models.PrefixRuleSet)
	set.Status = models.RuleStatusActive
	set.CreatedAt = now
	set.UpdatedAt = now

	err = e.sets.Save(ctx, tenantID, set.ID, set)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule set: %w", err)
	}

	return set, nil
}

func (e *Engine) GetRuleSet(ctx context.Context, tenantID, id string) (*models.RuleSet, error) {
	set, err := e.sets.Get(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return nil, apperr.NotFound("GetRuleSet", kindRuleSet, id)
	}

	return set, err
}

func (e *Engine) ListRuleSets(ctx context.Context, tenantID string) ([]*models.RuleSet, error) {
	sets, err := e.sets.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(sets, func(i, j int) bool {
		return sets[i].Name < sets[j].Name
	})

	return sets, nil
}

// UpdateRuleSet replaces name, description, members and execution settings. An
// empty status keeps the current one.
func (e *Engine) UpdateRuleSet(ctx context.Context, tenantID, id string, set *models.RuleSet) (*models.RuleSet, error) {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	existing, err := e.GetRuleSet(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	set.ID = id
	set.TenantID = tenantID

	if set.ExecutionMode == "" {
		set.ExecutionMode = existing.ExecutionMode
	}

	if set.Status == "" {
		set.Status = existing.Status
	}

	err = e.validateRuleSet(ctx, "UpdateRuleSet", set)
	if err != nil {
		return nil, err
	}

	set.CreatedAt = existing.CreatedAt
	set.UpdatedAt = e.now()

	err = e.sets.Save(ctx, tenantID, id, set)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule set: %w", err)
	}

	return set, nil
}

func (e *Engine) DeleteRuleSet(ctx context.Context, tenantID, id string) error {
	unlock := e.locks.Lock(lock.Key(tenantID, id))
	defer unlock()

	err := e.sets.Delete(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return apperr.NotFound("DeleteRuleSet", kindRuleSet, id)
	}

	return err
}

func (e *Engine) validateRuleSet(ctx context.Context, op string, set *models.RuleSet) error {
	problems := models.ValidateStruct(set)

	for _, ruleID := range set.RuleIDs {
		_, err := e.GetRule(ctx, set.TenantID, ruleID)
		if apperr.IsNotFound(err) {
			problems = append(problems, fmt.Sprintf("rule '%s' does not exist", ruleID))
		} else if err != nil {
			return err
		}
	}

	if len(problems) > 0 {
		return apperr.Validation(op, kindRuleSet, set.ID, problems...)
	}

	return nil
}

// EvaluateRuleSet evaluates the member rules of an active set. all runs every rule,
// first_match stops after the first match and priority orders rules critical first,
// keeping set order within a priority. StopOnFirstMatch stops after the first match
// in every mode. Members deleted since the set was saved are skipped.
func (e *Engine) EvaluateRuleSet(
	ctx context.Context,
	tenantID, setID string,
	input map[string]any,
	opts EvaluateOptions,
) (*RuleSetResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "ruleset.evaluate",
		attribute.String(otelhelper.TenantIDKey, tenantID),
		attribute.String(otelhelper.RuleSetIDKey, setID),
	)
	defer span.End()

	set, err := e.GetRuleSet(ctx, tenantID, setID)
	if err != nil {
		return nil, err
	}

	if set.Status != models.RuleStatusActive {
		return nil, apperr.NotActive("EvaluateRuleSet", kindRuleSet, setID)
	}

	members, err := e.members(ctx, set)
	if err != nil {
		return nil, err
	}

	if set.ExecutionMode == models.ExecutionModePriority {
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Priority.Rank() < members[j].Priority.Rank()
		})
	}

	stopOnMatch := set.StopOnFirstMatch || set.ExecutionMode == models.ExecutionModeFirstMatch
	opts.ruleSetID = set.ID

	result := &RuleSetResult{RuleSetID: set.ID, Evaluations: []*models.RuleEvaluation{}}

	for _, rule := range members {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		evaluation, err := e.EvaluateRule(ctx, tenantID, rule.ID, input, opts)
		if apperr.IsNotFound(err) {
			continue
		}

		if err != nil {
			return result, err
		}

		result.Evaluations = append(result.Evaluations, evaluation)

		if evaluation.Result != models.ResultMatched {
			continue
		}

		result.Matched++

		if stopOnMatch {
			break
		}
	}

	return result, nil
}

func (e *Engine) members(ctx context.Context, set *models.RuleSet) ([]*models.Rule, error) {
	members := make([]*models.Rule, 0, len(set.RuleIDs))

	for _, ruleID := range set.RuleIDs {
		rule, err := e.GetRule(ctx, set.TenantID, ruleID)
		if apperr.IsNotFound(err) {
			e.logger.WarnContext(ctx, "Rule set member not found", "rule_set_id", set.ID, "rule_id", ruleID)

			continue
		}

		if err != nil {
			return nil, err
		}

		members = append(members, rule)
	}

	return members, nil
}
