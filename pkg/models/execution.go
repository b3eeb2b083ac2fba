package models

import "time"

// ExecutionStatus is the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// WorkflowExecution is one run of a workflow. It is mutated only by the run that owns it.
type WorkflowExecution struct {
	ID                string           `json:"id"`
	WorkflowID        string           `json:"workflow_id"`
	WorkflowVersion   int              `json:"workflow_version"`
	TenantID          string           `json:"tenant_id"`
	Status            ExecutionStatus  `json:"status"`
	Trigger           ExecutionTrigger `json:"trigger"`
	Context           ExecutionContext `json:"context"`
	NodeExecutions    []*NodeExecution `json:"node_executions"`
	Error             string           `json:"error,omitempty"`
	ParentExecutionID string           `json:"parent_execution_id,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	Duration          int64            `json:"duration"`
}

// ExecutionTrigger records what started a run.
type ExecutionTrigger struct {
	Type   string         `json:"type"`
	Source string         `json:"source,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// ExecutionContext is threaded through every node of a run.
type ExecutionContext struct {
	Variables map[string]any `json:"variables"`
	Input     map[string]any `json:"input"`
	Output    map[string]any `json:"output"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NodeStatus is the state of one node within a run.
type NodeStatus string

const (
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

type NodeExecution struct {
	NodeID      string     `json:"node_id"`
	NodeType    NodeType   `json:"node_type"`
	Status      NodeStatus `json:"status"`
	Input       any        `json:"input,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    int64      `json:"duration"`
}
