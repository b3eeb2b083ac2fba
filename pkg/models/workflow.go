package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Validated and executable
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Temporarily not executable
	WorkflowStatusArchived WorkflowStatus = "archived" // Retired
)

// Workflow settings defaults.
const (
	DefaultMaxExecutionTimeMs = 3600000
	DefaultMaxRetries         = 3
	DefaultRetryDelayMs       = 5000
	DefaultConcurrencyLimit   = 10
)

// Workflow is a typed node/edge graph owned by a tenant.
type Workflow struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenant_id"               validate:"required"`
	Name        string           `json:"name"                    validate:"required,min=1"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Version     int              `json:"version"`
	Status      WorkflowStatus   `json:"status"`
	Nodes       []*WorkflowNode  `json:"nodes"`
	Edges       []*WorkflowEdge  `json:"edges"`
	Variables   map[string]any   `json:"variables,omitempty"`
	Settings    WorkflowSettings `json:"settings"`
	Stats       WorkflowStats    `json:"stats"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

// WorkflowSettings bound every execution of a workflow. Durations are in milliseconds.
type WorkflowSettings struct {
	MaxExecutionTime int64  `json:"max_execution_time"`
	MaxRetries       int    `json:"max_retries"`
	RetryDelay       int64  `json:"retry_delay"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
	Timezone         string `json:"timezone,omitempty"`
}

// WithDefaults fills zero settings with the engine defaults.
func (s WorkflowSettings) WithDefaults() WorkflowSettings {
	if s.MaxExecutionTime <= 0 {
		s.MaxExecutionTime = DefaultMaxExecutionTimeMs
	}

	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}

	if s.RetryDelay <= 0 {
		s.RetryDelay = DefaultRetryDelayMs
	}

	if s.ConcurrencyLimit <= 0 {
		s.ConcurrencyLimit = DefaultConcurrencyLimit
	}

	return s
}

type WorkflowStats struct {
	TotalExecutions      int64      `json:"total_executions"`
	SuccessfulExecutions int64      `json:"successful_executions"`
	FailedExecutions     int64      `json:"failed_executions"`
	AvgExecutionTime     float64    `json:"avg_execution_time"`
	LastExecutedAt       *time.Time `json:"last_executed_at,omitempty"`
}

func (w *Workflow) Node(id string) (*WorkflowNode, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (w *Workflow) Outgoing(nodeID string) []*WorkflowEdge {
	var edges []*WorkflowEdge

	for _, edge := range w.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

func (w *Workflow) NodesOfType(nodeType NodeType) []*WorkflowNode {
	var nodes []*WorkflowNode

	for _, node := range w.Nodes {
		if node.Type == nodeType {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// NodeType tags a WorkflowNode and selects the shape of its config.
type NodeType string

const (
	NodeTypeTrigger     NodeType = "trigger"
	NodeTypeCondition   NodeType = "condition"
	NodeTypeAction      NodeType = "action"
	NodeTypeDelay       NodeType = "delay"
	NodeTypeLoop        NodeType = "loop"
	NodeTypeParallel    NodeType = "parallel"
	NodeTypeSubworkflow NodeType = "subworkflow"
	NodeTypeEnd         NodeType = "end"
)

// Edge ports.
const (
	PortDefault  = "default"
	PortTrue     = "true"
	PortFalse    = "false"
	PortError    = "error"
	PortComplete = "complete"
	PortItem     = "item"
)

var ErrUnknownNodeType = errors.New("unknown node type")

// WorkflowNode is one typed vertex of a workflow graph.
type WorkflowNode struct {
	ID            string         `json:"id"`
	Type          NodeType       `json:"type"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Position      Position       `json:"position"`
	Config        NodeConfig     `json:"config"`
	ErrorHandling *ErrorHandling `json:"error_handling,omitempty"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ErrorStrategy decides what a failed node does to the run.
type ErrorStrategy string

const (
	ErrorStrategyFail     ErrorStrategy = "fail"
	ErrorStrategyRetry    ErrorStrategy = "retry"
	ErrorStrategyContinue ErrorStrategy = "continue"
	ErrorStrategyFallback ErrorStrategy = "fallback"
)

type ErrorHandling struct {
	Strategy       ErrorStrategy `json:"strategy"`
	MaxRetries     int           `json:"max_retries,omitempty"`
	RetryDelay     int64         `json:"retry_delay,omitempty"`
	FallbackNodeID string        `json:"fallback_node_id,omitempty"`
}

// WorkflowEdge connects Source to Target. SourcePort selects condition and loop branches.
type WorkflowEdge struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	SourcePort string `json:"source_port,omitempty"`
	Target     string `json:"target"`
	TargetPort string `json:"target_port,omitempty"`
	Label      string `json:"label,omitempty"`
}

// NodeConfig is implemented by exactly one config struct per NodeType.
type NodeConfig interface {
	NodeType() NodeType
}

type TriggerNodeConfig struct {
	TriggerType string `json:"trigger_type,omitempty"`
}

type ConditionNodeConfig struct {
	Conditions ConditionGroup `json:"conditions"`
}

type ActionNodeConfig struct {
	ActionType string         `json:"action_type"`
	InstanceID string         `json:"instance_id,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// DelayType selects how a delay node computes its wait.
type DelayType string

const (
	DelayFixed   DelayType = "fixed"
	DelayUntil   DelayType = "until"
	DelayDynamic DelayType = "dynamic"
)

// DelayNodeConfig: fixed waits Value Units, until waits for the RFC 3339 timestamp in Until,
// dynamic reads a millisecond count from the context path in Field.
type DelayNodeConfig struct {
	DelayType DelayType `json:"delay_type"`
	Value     float64   `json:"value,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Until     string    `json:"until,omitempty"`
	Field     string    `json:"field,omitempty"`
}

type LoopType string

const (
	LoopCount      LoopType = "count"
	LoopCollection LoopType = "collection"
	LoopWhile      LoopType = "while"
)

const DefaultMaxLoopIterations = 1000

type LoopNodeConfig struct {
	LoopType      LoopType        `json:"loop_type"`
	Count         int             `json:"count,omitempty"`
	Collection    string          `json:"collection,omitempty"`
	Condition     *ConditionGroup `json:"condition,omitempty"`
	MaxIterations int             `json:"max_iterations,omitempty"`
}

type ParallelNodeConfig struct {
	Branches       []string `json:"branches"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
}

// SubworkflowNodeConfig starts WorkflowID. Without Wait the node records the child
// execution id and continues; with Wait it blocks and adopts the child's outcome.
type SubworkflowNodeConfig struct {
	WorkflowID string         `json:"workflow_id"`
	Input      map[string]any `json:"input,omitempty"`
	Wait       bool           `json:"wait,omitempty"`
}

type EndNodeConfig struct {
	Output map[string]any `json:"output,omitempty"`
}

func (*TriggerNodeConfig) NodeType() NodeType     { return NodeTypeTrigger }
func (*ConditionNodeConfig) NodeType() NodeType   { return NodeTypeCondition }
func (*ActionNodeConfig) NodeType() NodeType      { return NodeTypeAction }
func (*DelayNodeConfig) NodeType() NodeType       { return NodeTypeDelay }
func (*LoopNodeConfig) NodeType() NodeType        { return NodeTypeLoop }
func (*ParallelNodeConfig) NodeType() NodeType    { return NodeTypeParallel }
func (*SubworkflowNodeConfig) NodeType() NodeType { return NodeTypeSubworkflow }
func (*EndNodeConfig) NodeType() NodeType         { return NodeTypeEnd }

// NewNodeConfig returns an empty config for nodeType.
func NewNodeConfig(nodeType NodeType) (NodeConfig, error) {
	switch nodeType {
	case NodeTypeTrigger:
		return &TriggerNodeConfig{}, nil
	case NodeTypeCondition:
		return &ConditionNodeConfig{}, nil
	case NodeTypeAction:
		return &ActionNodeConfig{}, nil
	case NodeTypeDelay:
		return &DelayNodeConfig{}, nil
	case NodeTypeLoop:
		return &LoopNodeConfig{}, nil
	case NodeTypeParallel:
		return &ParallelNodeConfig{}, nil
	case NodeTypeSubworkflow:
		return &SubworkflowNodeConfig{}, nil
	case NodeTypeEnd:
		return &EndNodeConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType)
	}
}

func (n *WorkflowNode) UnmarshalJSON(data []byte) error {
	type nodeAlias WorkflowNode

	var raw struct {
		nodeAlias

		Config json.RawMessage `json:"config"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	config, err := NewNodeConfig(raw.Type)
	if err != nil {
		return err
	}

	if len(raw.Config) > 0 && string(raw.Config) != "null" {
		err = json.Unmarshal(raw.Config, config)
		if err != nil {
			return fmt.Errorf("invalid %s node config: %w", raw.Type, err)
		}
	}

	*n = WorkflowNode(raw.nodeAlias)
	n.Config = config

	return nil
}

// CheckConfig reports a node whose config does not match its type.
func (n *WorkflowNode) CheckConfig() error {
	if n.Config == nil {
		return fmt.Errorf("node %s has no config", n.ID)
	}

	if n.Config.NodeType() != n.Type {
		return fmt.Errorf("node %s of type %s carries %s config", n.ID, n.Type, n.Config.NodeType())
	}

	return nil
}
