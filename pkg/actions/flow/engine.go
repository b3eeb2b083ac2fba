package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/protocol"
)

const (
	StartWorkflowID = "start_workflow"
	EvaluateRuleID  = "evaluate_rule"
)

var (
	ErrWorkflowIDRequired = errors.New("workflowId is required")
	ErrRuleIDRequired     = errors.New("ruleId is required")
)

type StartWorkflowFactory struct {
	starter protocol.WorkflowStarter
}

func NewStartWorkflowFactory(starter protocol.WorkflowStarter) *StartWorkflowFactory {
	return &StartWorkflowFactory{starter: starter}
}

func (*StartWorkflowFactory) ID() string {
	return StartWorkflowID
}

func (*StartWorkflowFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{
		ID:          StartWorkflowID,
		Name:        "Start Workflow",
		Description: "Start another workflow",
		Category:    models.CategoryWorkflow,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workflowId":        map[string]any{"type": "string", "title": "Workflow"},
				"input":             map[string]any{"type": "object", "title": "Input Data"},
				"waitForCompletion": map[string]any{"type": "boolean", "title": "Wait for Completion", "default": false},
			},
			"required": []any{"workflowId"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"executionId": map[string]any{"type": "string"},
				"status":      map[string]any{"type": "string"},
				"output":      map[string]any{"type": "object"},
			},
		},
		Retryable: false,
		Timeout:   300000,
		Public:    true,
	}
}

func (f *StartWorkflowFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &StartWorkflowAction{starter: f.starter}

	err := models.Decode(input, action)
	if err != nil {
		return nil, err
	}

	if action.WorkflowID == "" {
		return nil, ErrWorkflowIDRequired
	}

	return action, nil
}

type StartWorkflowAction struct {
	WorkflowID        string         `json:"workflowId"`
	Input             map[string]any `json:"input"`
	WaitForCompletion bool           `json:"waitForCompletion"`

	starter protocol.WorkflowStarter
}

func (a *StartWorkflowAction) Execute(ctx context.Context, actx models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Starting workflow: "+a.WorkflowID, "wait", a.WaitForCompletion)

	return a.starter.StartWorkflow(ctx, actx.TenantID, a.WorkflowID, a.Input, a.WaitForCompletion)
}

type EvaluateRuleFactory struct {
	evaluator protocol.RuleEvaluator
}

func NewEvaluateRuleFactory(evaluator protocol.RuleEvaluator) *EvaluateRuleFactory {
	return &EvaluateRuleFactory{evaluator: evaluator}
}

func (*EvaluateRuleFactory) ID() string {
	return EvaluateRuleID
}

func (*EvaluateRuleFactory) Definition() models.ActionDefinition {
	return models.ActionDefinition{
		ID:          EvaluateRuleID,
		Name:        "Evaluate Rule",
		Description: "Evaluate a business rule",
		Category:    models.CategoryWorkflow,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ruleId": map[string]any{"type": "string", "title": "Rule"},
				"input":  map[string]any{"type": "object", "title": "Input Data"},
			},
			"required": []any{"ruleId", "input"},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"matched": map[string]any{"type": "boolean"},
				"result":  map[string]any{"type": "object"},
			},
		},
		Retryable: true,
		Timeout:   10000,
		Public:    true,
	}
}

func (f *EvaluateRuleFactory) Create(_ context.Context, input map[string]any) (protocol.Action, error) {
	action := &EvaluateRuleAction{evaluator: f.evaluator}

	err := models.Decode(input, action)
	if err != nil {
		return nil, err
	}

	if action.RuleID == "" {
		return nil, ErrRuleIDRequired
	}

	return action, nil
}

type EvaluateRuleAction struct {
	RuleID string         `json:"ruleId"`
	Input  map[string]any `json:"input"`

	evaluator protocol.RuleEvaluator
}

func (a *EvaluateRuleAction) Execute(ctx context.Context, actx models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Evaluating rule: "+a.RuleID)

	return a.evaluator.EvaluateRuleByID(ctx, actx.TenantID, a.RuleID, a.Input)
}
