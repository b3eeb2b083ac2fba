package models

import "time"

type ActionCategory string

const (
	CategoryCommunication ActionCategory = "communication"
	CategoryData          ActionCategory = "data"
	CategoryIntegration   ActionCategory = "integration"
	CategoryWorkflow      ActionCategory = "workflow"
	CategorySystem        ActionCategory = "system"
	CategoryCustom        ActionCategory = "custom"
)

// DefaultActionTimeoutMs applies when a definition sets no timeout.
const DefaultActionTimeoutMs = 30000

// ActionDefinition is a catalog entry. Schemas are JSON Schema documents.
type ActionDefinition struct {
	ID           string           `json:"id"                      validate:"required"`
	TenantID     string           `json:"tenant_id,omitempty"`
	Name         string           `json:"name"                    validate:"required"`
	Description  string           `json:"description,omitempty"`
	Category     ActionCategory   `json:"category"`
	InputSchema  map[string]any   `json:"input_schema,omitempty"`
	OutputSchema map[string]any   `json:"output_schema,omitempty"`
	Retryable    bool             `json:"retryable"`
	Timeout      int64            `json:"timeout,omitempty"`
	RateLimit    *RateLimitConfig `json:"rate_limit,omitempty"`
	Public       bool             `json:"public"`
}

// TimeoutDuration returns the configured timeout or the 30s default.
func (d *ActionDefinition) TimeoutDuration() time.Duration {
	if d.Timeout <= 0 {
		return DefaultActionTimeoutMs * time.Millisecond
	}

	return time.Duration(d.Timeout) * time.Millisecond
}

type RateLimitConfig struct {
	MaxRequests int   `json:"max_requests"`
	WindowMs    int64 `json:"window_ms"`
}

// ActionInstance is a tenant-bound configured use of a definition.
type ActionInstance struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"      validate:"required"`
	DefinitionID string         `json:"definition_id"  validate:"required"`
	Name         string         `json:"name"           validate:"required"`
	Config       map[string]any `json:"config,omitempty"`
	Credentials  string         `json:"credentials,omitempty"`
	Active       bool           `json:"active"`
	CreatedBy    string         `json:"created_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusRunning   ActionStatus = "running"
	ActionStatusSuccess   ActionStatus = "success"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCancelled ActionStatus = "cancelled"
	ActionStatusRetry     ActionStatus = "retry"
)

// Action error codes.
const (
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeExecutionError = "EXECUTION_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeUnknownAction  = "UNKNOWN_ACTION"
	ErrCodeCancelled      = "CANCELLED"
)

type ActionError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type ActionLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ActionContext says who asked for an action and from where.
type ActionContext struct {
	TenantID            string         `json:"tenant_id,omitempty"`
	UserID              string         `json:"user_id,omitempty"`
	WorkflowID          string         `json:"workflow_id,omitempty"`
	WorkflowExecutionID string         `json:"workflow_execution_id,omitempty"`
	NodeID              string         `json:"node_id,omitempty"`
	RuleID              string         `json:"rule_id,omitempty"`
	TriggerID           string         `json:"trigger_id,omitempty"`
	Variables           map[string]any `json:"variables,omitempty"`
}

// ActionExecution records one invocation of an action definition.
type ActionExecution struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	DefinitionID string         `json:"definition_id"`
	InstanceID   string         `json:"instance_id,omitempty"`
	Status       ActionStatus   `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Error        *ActionError   `json:"error,omitempty"`
	Logs         []ActionLog    `json:"logs"`
	RetryCount   int            `json:"retry_count"`
	Context      ActionContext  `json:"context"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Duration     int64          `json:"duration"`
}

// Failed reports whether the execution ended in failure or cancellation.
func (e *ActionExecution) Failed() bool {
	return e.Status == ActionStatusFailed || e.Status == ActionStatusCancelled
}

// ErrorMessage returns the error message or an empty string.
func (e *ActionExecution) ErrorMessage() string {
	if e.Error == nil {
		return ""
	}

	return e.Error.Code + ": " + e.Error.Message
}
