package web

import (
	"context"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/rules"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) ListRules(c fiber.Ctx) error {
	list, err := h.engine.Rules.ListRules(c.Context(), tenantID(c), rules.RuleFilter{
		Status:   models.RuleStatus(c.Query("status")),
		Category: c.Query("category"),
		Priority: models.RulePriority(c.Query("priority")),
		Tag:      c.Query("tag"),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"rules": list, "total_count": len(list)})
}

func (h *APIHandlers) CreateRule(c fiber.Ctx) error {
	var req models.Rule
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	created, err := h.engine.Rules.CreateRule(c.Context(), tenantID(c), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetRule(c fiber.Ctx) error {
	rule, err := h.engine.Rules.GetRule(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) UpdateRule(c fiber.Ctx) error {
	var req models.Rule
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	updated, err := h.engine.Rules.UpdateRule(c.Context(), tenantID(c), c.Params("id"), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteRule(c fiber.Ctx) error {
	err := h.engine.Rules.DeleteRule(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateRule(c fiber.Ctx) error {
	return h.ruleTransition(c, h.engine.Rules.ActivateRule)
}

func (h *APIHandlers) DeactivateRule(c fiber.Ctx) error {
	return h.ruleTransition(c, h.engine.Rules.DeactivateRule)
}

func (h *APIHandlers) ruleTransition(
	c fiber.Ctx,
	transition func(ctx context.Context, tenantID, id string) (*models.Rule, error),
) error {
	rule, err := transition(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) DuplicateRule(c fiber.Ctx) error {
	var req DuplicateRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	duplicate, err := h.engine.Rules.DuplicateRule(c.Context(), tenantID(c), c.Params("id"), req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(duplicate)
}

func (h *APIHandlers) EvaluateRule(c fiber.Ctx) error {
	req, err := bindInput(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	evaluation, err := h.engine.Rules.EvaluateRule(c.Context(), tenantID(c), c.Params("id"), req.Input, rules.EvaluateOptions{
		Context: req.Context,
		Caller:  actionContext(c),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(evaluation)
}

// TestRule evaluates the conditions of a rule without dispatching its actions.
func (h *APIHandlers) TestRule(c fiber.Ctx) error {
	req, err := bindInput(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.Rules.TestRule(c.Context(), tenantID(c), c.Params("id"), req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ListRuleEvaluations(c fiber.Ctx) error {
	limit, err := queryLimit(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	evaluations, err := h.engine.Rules.ListEvaluations(c.Context(), tenantID(c), rules.EvaluationFilter{
		RuleID:    c.Query("rule_id"),
		RuleSetID: c.Query("rule_set_id"),
		Result:    models.EvaluationResult(c.Query("result")),
		Limit:     limit,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"evaluations": evaluations, "total_count": len(evaluations)})
}

func (h *APIHandlers) RuleStats(c fiber.Ctx) error {
	stats, err := h.engine.Rules.GetStats(c.Context(), tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) ListRuleSets(c fiber.Ctx) error {
	sets, err := h.engine.Rules.ListRuleSets(c.Context(), tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"rule_sets": sets, "total_count": len(sets)})
}

func (h *APIHandlers) CreateRuleSet(c fiber.Ctx) error {
	var req models.RuleSet
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	created, err := h.engine.Rules.CreateRuleSet(c.Context(), tenantID(c), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetRuleSet(c fiber.Ctx) error {
	set, err := h.engine.Rules.GetRuleSet(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(set)
}

func (h *APIHandlers) UpdateRuleSet(c fiber.Ctx) error {
	var req models.RuleSet
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	updated, err := h.engine.Rules.UpdateRuleSet(c.Context(), tenantID(c), c.Params("id"), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteRuleSet(c fiber.Ctx) error {
	err := h.engine.Rules.DeleteRuleSet(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EvaluateRuleSet(c fiber.Ctx) error {
	req, err := bindInput(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.Rules.EvaluateRuleSet(c.Context(), tenantID(c), c.Params("id"), req.Input, rules.EvaluateOptions{
		Context: req.Context,
		Caller:  actionContext(c),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}
