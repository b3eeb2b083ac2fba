// Package web provides the HTTP handlers of the automation API and the webhook ingress.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowrule/pkg/engine"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

var errInvalidJSON = errors.New("invalid JSON format")

type APIHandlers struct {
	logger    *slog.Logger
	engine    *engine.Engine
	store     persistence.Store
	validator *validator.Validate
}

func NewAPIHandlers(
	logger *slog.Logger,
	engine *engine.Engine,
	store persistence.Store,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		logger:    logger.With("module", "api"),
		engine:    engine,
		store:     store,
		validator: validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Flowrule API is healthy"
	httpStatus := http.StatusOK

	err := h.store.HealthCheck(c.Context())
	if err != nil {
		h.logger.WarnContext(c.Context(), "Store health check failed", "error", err)

		status = "unhealthy"
		message = err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(HealthResponse{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// requireTenant rejects /api requests without a tenant header.
func requireTenant(c fiber.Ctx) error {
	if c.Get(TenantHeader) == "" {
		return badRequest(c, TenantHeader+" header is required")
	}

	return c.Next()
}

func tenantID(c fiber.Ctx) string {
	return c.Get(TenantHeader)
}

func actionContext(c fiber.Ctx) models.ActionContext {
	return models.ActionContext{TenantID: tenantID(c), UserID: c.Get(UserHeader)}
}

func roles(c fiber.Ctx) []string {
	var out []string

	for _, role := range strings.Split(c.Get(RolesHeader), ",") {
		if role = strings.TrimSpace(role); role != "" {
			out = append(out, role)
		}
	}

	return out
}

// bind decodes the JSON body into req and runs the struct validator. The returned
// error is meant for a 400 response.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	err := c.Bind().JSON(req)
	if err != nil {
		return errInvalidJSON
	}

	return h.validator.Struct(req)
}

// bindInput decodes an optional InputRequest body.
func bindInput(c fiber.Ctx) (InputRequest, error) {
	var req InputRequest

	if len(c.Body()) == 0 {
		return req, nil
	}

	err := c.Bind().JSON(&req)
	if err != nil {
		return req, errInvalidJSON
	}

	return req, nil
}
