package web

import (
	"context"
	"crypto/subtle"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/triggers"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) ListTriggers(c fiber.Ctx) error {
	list, err := h.engine.Triggers.ListTriggers(c.Context(), tenantID(c), triggers.TriggerFilter{
		Type:   models.TriggerType(c.Query("type")),
		Status: models.TriggerStatus(c.Query("status")),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"triggers": list, "total_count": len(list)})
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req models.Trigger
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	req.CreatedBy = c.Get(UserHeader)

	created, err := h.engine.Triggers.CreateTrigger(c.Context(), tenantID(c), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	trigger, err := h.engine.Triggers.GetTrigger(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) UpdateTrigger(c fiber.Ctx) error {
	var req models.Trigger
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	updated, err := h.engine.Triggers.UpdateTrigger(c.Context(), tenantID(c), c.Params("id"), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	err := h.engine.Triggers.DeleteTrigger(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateTrigger(c fiber.Ctx) error {
	return h.triggerTransition(c, h.engine.Triggers.ActivateTrigger)
}

func (h *APIHandlers) DeactivateTrigger(c fiber.Ctx) error {
	return h.triggerTransition(c, h.engine.Triggers.DeactivateTrigger)
}

func (h *APIHandlers) triggerTransition(
	c fiber.Ctx,
	transition func(ctx context.Context, tenantID, id string) (*models.Trigger, error),
) error {
	trigger, err := transition(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trigger)
}

// FireTrigger fires manual triggers on behalf of the calling user and api triggers
// after checking their key. Other types fire directly.
func (h *APIHandlers) FireTrigger(c fiber.Ctx) error {
	req, err := bindInput(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	tenant, id := tenantID(c), c.Params("id")

	trigger, err := h.engine.Triggers.GetTrigger(c.Context(), tenant, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	var execution *models.TriggerExecution

	switch config := trigger.Config.(type) {
	case *models.ManualTriggerConfig:
		execution, err = h.engine.Triggers.FireManualTrigger(c.Context(), tenant, id, req.Input, triggers.Caller{
			UserID:  c.Get(UserHeader),
			RoleIDs: roles(c),
		})
	case *models.APITriggerConfig:
		if config.APIKey != "" && subtle.ConstantTimeCompare([]byte(config.APIKey), []byte(c.Get(APIKeyHeader))) != 1 {
			return handleServiceError(c, apperr.Forbidden("FireTrigger", "trigger", id, "invalid api key"))
		}

		execution, err = h.engine.Triggers.FireTrigger(c.Context(), tenant, id, req.Input)
	default:
		execution, err = h.engine.Triggers.FireTrigger(c.Context(), tenant, id, req.Input)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// PublishEvent hands an event to the listening event triggers of the tenant.
func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	var req EventRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	executions, err := h.engine.Triggers.HandleEvent(c.Context(), tenantID(c), req.Event, req.Payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions, "total_count": len(executions)})
}

// ReceiveWebhook is the public ingress of webhook triggers: /webhooks/:tenant/<path>.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	execution, err := h.engine.Triggers.HandleWebhook(
		c.Context(),
		c.Params("tenant"),
		c.Params("*"),
		c.Method(),
		c.Body(),
		c.Get(SignatureHeader),
	)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": execution.ID,
		"status":       execution.Status,
	})
}

func (h *APIHandlers) ListTriggerExecutions(c fiber.Ctx) error {
	start, end, limit, err := dateRange(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	executions, err := h.engine.Triggers.ListExecutions(c.Context(), tenantID(c), triggers.ExecutionFilter{
		TriggerID: c.Query("trigger_id"),
		Status:    models.TriggerExecutionStatus(c.Query("status")),
		StartDate: start,
		EndDate:   end,
		Limit:     limit,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions, "total_count": len(executions)})
}

func (h *APIHandlers) GetTriggerExecution(c fiber.Ctx) error {
	execution, err := h.engine.Triggers.GetExecution(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) TriggerStats(c fiber.Ctx) error {
	stats, err := h.engine.Triggers.GetStats(c.Context(), tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}
