package web

import (
	"context"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/workflow"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	workflows, err := h.engine.Workflows.ListWorkflows(c.Context(), tenantID(c), workflow.WorkflowFilter{
		Status:   models.WorkflowStatus(c.Query("status")),
		Category: c.Query("category"),
		Tag:      c.Query("tag"),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "total_count": len(workflows)})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req models.Workflow
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	created, err := h.engine.Workflows.CreateWorkflow(c.Context(), tenantID(c), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.engine.Workflows.GetWorkflow(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req models.Workflow
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	updated, err := h.engine.Workflows.UpdateWorkflow(c.Context(), tenantID(c), c.Params("id"), &req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.engine.Workflows.DeleteWorkflow(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	return h.workflowTransition(c, h.engine.Workflows.ActivateWorkflow)
}

func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	return h.workflowTransition(c, h.engine.Workflows.PauseWorkflow)
}

func (h *APIHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	return h.workflowTransition(c, h.engine.Workflows.ArchiveWorkflow)
}

func (h *APIHandlers) workflowTransition(
	c fiber.Ctx,
	transition func(ctx context.Context, tenantID, id string) (*models.Workflow, error),
) error {
	wf, err := transition(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) DuplicateWorkflow(c fiber.Ctx) error {
	var req DuplicateRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	duplicate, err := h.engine.Workflows.DuplicateWorkflow(c.Context(), tenantID(c), c.Params("id"), req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(duplicate)
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	problems, err := h.engine.Workflows.ValidateWorkflow(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if problems == nil {
		problems = []string{}
	}

	return c.JSON(ValidationResponse{Valid: len(problems) == 0, Errors: problems})
}

// ExecuteWorkflow starts a run and answers 202 with the pending execution.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	req, err := bindInput(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.engine.Workflows.ExecuteWorkflow(c.Context(), tenantID(c), c.Params("id"), req.Input, workflow.ExecuteOptions{
		Trigger: models.ExecutionTrigger{Type: workflow.TriggerManual, Source: c.Get(UserHeader)},
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) AddNode(c fiber.Ctx) error {
	var node models.WorkflowNode
	if err := c.Bind().JSON(&node); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	created, err := h.engine.Workflows.AddNode(c.Context(), tenantID(c), c.Params("id"), &node)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateNode(c fiber.Ctx) error {
	var node models.WorkflowNode
	if err := c.Bind().JSON(&node); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	updated, err := h.engine.Workflows.UpdateNode(c.Context(), tenantID(c), c.Params("id"), c.Params("nodeId"), &node)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) RemoveNode(c fiber.Ctx) error {
	err := h.engine.Workflows.RemoveNode(c.Context(), tenantID(c), c.Params("id"), c.Params("nodeId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) AddEdge(c fiber.Ctx) error {
	var edge models.WorkflowEdge
	if err := c.Bind().JSON(&edge); err != nil {
		return badRequest(c, errInvalidJSON.Error())
	}

	created, err := h.engine.Workflows.AddEdge(c.Context(), tenantID(c), c.Params("id"), &edge)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) RemoveEdge(c fiber.Ctx) error {
	err := h.engine.Workflows.RemoveEdge(c.Context(), tenantID(c), c.Params("id"), c.Params("edgeId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListWorkflowExecutions(c fiber.Ctx) error {
	start, end, limit, err := dateRange(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	executions, err := h.engine.Workflows.ListExecutions(c.Context(), tenantID(c), workflow.ExecutionFilter{
		WorkflowID: c.Query("workflow_id"),
		Status:     models.ExecutionStatus(c.Query("status")),
		StartDate:  start,
		EndDate:    end,
		Limit:      limit,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions, "total_count": len(executions)})
}

func (h *APIHandlers) GetWorkflowExecution(c fiber.Ctx) error {
	execution, err := h.engine.Workflows.GetExecution(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelWorkflowExecution(c fiber.Ctx) error {
	execution, err := h.engine.Workflows.CancelExecution(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) WorkflowStats(c fiber.Ctx) error {
	stats, err := h.engine.Workflows.GetStats(c.Context(), tenantID(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}
