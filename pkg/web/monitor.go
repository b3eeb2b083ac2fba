package web

import (
	"github.com/dukex/flowrule/pkg/monitor"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) ListMonitoredExecutions(c fiber.Ctx) error {
	start, end, limit, err := dateRange(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	entries := h.engine.Monitor.ListExecutions(tenantID(c), monitor.Filter{
		Type:         monitor.AutomationType(c.Query("type")),
		AutomationID: c.Query("automation_id"),
		Status:       c.Query("status"),
		StartDate:    start,
		EndDate:      end,
		Limit:        limit,
	})

	return c.JSON(fiber.Map{"executions": entries, "total_count": len(entries)})
}

func (h *APIHandlers) MonitorStats(c fiber.Ctx) error {
	return c.JSON(h.engine.Monitor.GetStats(tenantID(c)))
}
