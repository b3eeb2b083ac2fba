package web

import (
	"github.com/dukex/flowrule/pkg/actions"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) ListActions(c fiber.Ctx) error {
	definitions, err := h.engine.Actions.ListDefinitions(c.Context(), tenantID(c), models.ActionCategory(c.Query("category")))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"actions": definitions, "total_count": len(definitions)})
}

func (h *APIHandlers) GetAction(c fiber.Ctx) error {
	definition, err := h.engine.Actions.GetDefinition(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(definition)
}

// RegisterAction stores a tenant definition backed by a registered handler.
func (h *APIHandlers) RegisterAction(c fiber.Ctx) error {
	var req models.ActionDefinition
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	created, err := h.engine.Actions.RegisterDefinition(c.Context(), tenantID(c), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) ExecuteAction(c fiber.Ctx) error {
	req, err := bindInput(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.Actions.Execute(c.Context(), tenantID(c), c.Params("id"), req.Input, actionContext(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	instances, err := h.engine.Actions.ListInstances(c.Context(), tenantID(c), c.Query("definition_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"instances": instances, "total_count": len(instances)})
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req models.ActionInstance
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	created, err := h.engine.Actions.CreateInstance(c.Context(), tenantID(c), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.engine.Actions.GetInstance(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) UpdateInstance(c fiber.Ctx) error {
	var req actions.InstanceUpdate
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	updated, err := h.engine.Actions.UpdateInstance(c.Context(), tenantID(c), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteInstance(c fiber.Ctx) error {
	err := h.engine.Actions.DeleteInstance(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ExecuteInstance(c fiber.Ctx) error {
	req, err := bindInput(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.Actions.ExecuteInstance(c.Context(), tenantID(c), c.Params("id"), req.Input, actionContext(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ListActionExecutions(c fiber.Ctx) error {
	start, end, limit, err := dateRange(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	executions, err := h.engine.Actions.ListExecutions(c.Context(), tenantID(c), actions.ExecutionFilter{
		DefinitionID: c.Query("definition_id"),
		InstanceID:   c.Query("instance_id"),
		Status:       models.ActionStatus(c.Query("status")),
		StartDate:    start,
		EndDate:      end,
		Limit:        limit,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions, "total_count": len(executions)})
}

func (h *APIHandlers) GetActionExecution(c fiber.Ctx) error {
	execution, err := h.engine.Actions.GetExecution(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) RetryActionExecution(c fiber.Ctx) error {
	execution, err := h.engine.Actions.RetryExecution(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ActionStats(c fiber.Ctx) error {
	stats, err := h.engine.Actions.GetStats(c.Context(), tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}
