package web

import (
	"github.com/gofiber/fiber/v3"
)

// Register mounts the tenant API under /api and the webhook ingress under /webhooks.
func Register(app *fiber.App, handlers *APIHandlers) {
	app.Get("/health", handlers.HealthCheck)
	app.All("/webhooks/:tenant/*", handlers.ReceiveWebhook)

	api := app.Group("/api", requireTenant)

	w := api.Group("/workflows")
	w.Get("/", handlers.ListWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/stats", handlers.WorkflowStats)
	w.Get("/:id", handlers.GetWorkflow)
	w.Put("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/activate", handlers.ActivateWorkflow)
	w.Post("/:id/pause", handlers.PauseWorkflow)
	w.Post("/:id/archive", handlers.ArchiveWorkflow)
	w.Post("/:id/duplicate", handlers.DuplicateWorkflow)
	w.Get("/:id/validate", handlers.ValidateWorkflow)
	w.Post("/:id/execute", handlers.ExecuteWorkflow)
	w.Post("/:id/nodes", handlers.AddNode)
	w.Put("/:id/nodes/:nodeId", handlers.UpdateNode)
	w.Delete("/:id/nodes/:nodeId", handlers.RemoveNode)
	w.Post("/:id/edges", handlers.AddEdge)
	w.Delete("/:id/edges/:edgeId", handlers.RemoveEdge)

	we := api.Group("/workflow-executions")
	we.Get("/", handlers.ListWorkflowExecutions)
	we.Get("/:id", handlers.GetWorkflowExecution)
	we.Post("/:id/cancel", handlers.CancelWorkflowExecution)

	r := api.Group("/rules")
	r.Get("/", handlers.ListRules)
	r.Post("/", handlers.CreateRule)
	r.Get("/stats", handlers.RuleStats)
	r.Get("/evaluations", handlers.ListRuleEvaluations)
	r.Get("/:id", handlers.GetRule)
	r.Put("/:id", handlers.UpdateRule)
	r.Delete("/:id", handlers.DeleteRule)
	r.Post("/:id/activate", handlers.ActivateRule)
	r.Post("/:id/deactivate", handlers.DeactivateRule)
	r.Post("/:id/duplicate", handlers.DuplicateRule)
	r.Post("/:id/evaluate", handlers.EvaluateRule)
	r.Post("/:id/test", handlers.TestRule)

	rs := api.Group("/rule-sets")
	rs.Get("/", handlers.ListRuleSets)
	rs.Post("/", handlers.CreateRuleSet)
	rs.Get("/:id", handlers.GetRuleSet)
	rs.Put("/:id", handlers.UpdateRuleSet)
	rs.Delete("/:id", handlers.DeleteRuleSet)
	rs.Post("/:id/evaluate", handlers.EvaluateRuleSet)

	t := api.Group("/triggers")
	t.Get("/", handlers.ListTriggers)
	t.Post("/", handlers.CreateTrigger)
	t.Get("/stats", handlers.TriggerStats)
	t.Get("/executions", handlers.ListTriggerExecutions)
	t.Get("/executions/:id", handlers.GetTriggerExecution)
	t.Get("/:id", handlers.GetTrigger)
	t.Put("/:id", handlers.UpdateTrigger)
	t.Delete("/:id", handlers.DeleteTrigger)
	t.Post("/:id/activate", handlers.ActivateTrigger)
	t.Post("/:id/deactivate", handlers.DeactivateTrigger)
	t.Post("/:id/fire", handlers.FireTrigger)

	api.Post("/events", handlers.PublishEvent)

	a := api.Group("/actions")
	a.Get("/", handlers.ListActions)
	a.Post("/", handlers.RegisterAction)
	a.Get("/stats", handlers.ActionStats)
	a.Get("/executions", handlers.ListActionExecutions)
	a.Get("/executions/:id", handlers.GetActionExecution)
	a.Post("/executions/:id/retry", handlers.RetryActionExecution)
	a.Get("/instances", handlers.ListInstances)
	a.Post("/instances", handlers.CreateInstance)
	a.Get("/instances/:id", handlers.GetInstance)
	a.Patch("/instances/:id", handlers.UpdateInstance)
	a.Delete("/instances/:id", handlers.DeleteInstance)
	a.Post("/instances/:id/execute", handlers.ExecuteInstance)
	a.Get("/:id", handlers.GetAction)
	a.Post("/:id/execute", handlers.ExecuteAction)

	m := api.Group("/monitor")
	m.Get("/executions", handlers.ListMonitoredExecutions)
	m.Get("/stats", handlers.MonitorStats)
}
