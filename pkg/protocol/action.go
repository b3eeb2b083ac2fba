// Package protocol defines the contracts between the action executor and the handlers
// that perform action side effects.
package protocol

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/flowrule/pkg/models"
)

// ErrUnknownAction is returned when no handler is registered for a definition.
var ErrUnknownAction = errors.New("no handler registered for action")

type Action interface {
	Execute(ctx context.Context, actionCtx models.ActionContext, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory builds an Action from validated input. Definition describes the
// catalog entry the factory serves.
type ActionFactory interface {
	ID() string
	Definition() models.ActionDefinition
	Create(ctx context.Context, input map[string]any) (Action, error)
}

// SideEffect performs the work of an action definition with already validated input.
type SideEffect interface {
	Run(
		ctx context.Context,
		definition *models.ActionDefinition,
		input map[string]any,
		actionCtx models.ActionContext,
		logger *slog.Logger,
	) (map[string]any, error)
}

// WorkflowStarter starts a workflow on behalf of an action.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, tenantID, workflowID string, input map[string]any, wait bool) (map[string]any, error)
}

// RuleEvaluator evaluates a rule on behalf of an action.
type RuleEvaluator interface {
	EvaluateRuleByID(ctx context.Context, tenantID, ruleID string, input map[string]any) (map[string]any, error)
}

// EventPublisher publishes a payload on a topic keyed by tenant.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}
