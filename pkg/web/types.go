// Package web provides the HTTP request and response types of the automation API.
package web

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
)

const (
	// TenantHeader carries the tenant of every /api request.
	TenantHeader = "X-Tenant-ID"
	// UserHeader and RolesHeader identify the caller of manual triggers.
	UserHeader  = "X-User-ID"
	RolesHeader = "X-User-Roles"
	// SignatureHeader carries the HMAC-SHA256 of a webhook body.
	SignatureHeader = "X-Signature"
	// APIKeyHeader authenticates fires of api triggers.
	APIKeyHeader = "X-API-Key"
)

// InputRequest is the body of execute, evaluate, test and fire endpoints.
type InputRequest struct {
	Input   map[string]any `json:"input"`
	Context map[string]any `json:"context,omitempty"`
}

// DuplicateRequest names the copy of a workflow or rule.
type DuplicateRequest struct {
	Name string `json:"name" validate:"required,min=1"`
}

// EventRequest injects an event into the trigger manager.
type EventRequest struct {
	Event   string         `json:"event"   validate:"required"`
	Payload map[string]any `json:"payload"`
}

// ValidationResponse lists the problems of a workflow definition.
type ValidationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// HealthResponse reports the store status.
type HealthResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func queryLimit(c fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non negative integer: %q", raw)
	}

	return limit, nil
}

func queryTime(c fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil //nolint:nilnil // absent filter
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp: %q", key, raw)
	}

	return &t, nil
}

// dateRange reads the start_date, end_date and limit query parameters.
func dateRange(c fiber.Ctx) (start, end *time.Time, limit int, err error) {
	start, err = queryTime(c, "start_date")
	if err != nil {
		return nil, nil, 0, err
	}

	end, err = queryTime(c, "end_date")
	if err != nil {
		return nil, nil, 0, err
	}

	limit, err = queryLimit(c)

	return start, end, limit, err
}
