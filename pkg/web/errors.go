package web

import (
	"errors"
	"strings"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/triggers/webhook"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	body := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	body := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

// handleServiceError maps the service error taxonomy to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	detail := err.Error()
	if messages := apperr.Details(err); len(messages) > 0 {
		detail = strings.Join(messages, "; ")
	}

	switch {
	case apperr.IsValidation(err):
		return problem(c, fiber.StatusBadRequest, "validation_error", detail)
	case apperr.IsNotFound(err):
		return problem(c, fiber.StatusNotFound, "not_found", detail)
	case apperr.IsNotActive(err):
		return problem(c, fiber.StatusConflict, "not_active", detail)
	case apperr.IsConflict(err):
		return problem(c, fiber.StatusConflict, "conflict", detail)
	case apperr.IsForbidden(err):
		return problem(c, fiber.StatusForbidden, "forbidden", detail)
	case errors.Is(err, webhook.ErrRateLimited):
		return problem(c, fiber.StatusTooManyRequests, "rate_limited", detail)
	default:
		return internalError(c, err)
	}
}
