// Package events defines lifecycle event types and payloads emitted by the automation engine.
package events

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

type EventType string

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Definition lifecycle events.
	WorkflowCreatedEvent   EventType = "automation.workflow.created"
	WorkflowUpdatedEvent   EventType = "automation.workflow.updated"
	WorkflowDeletedEvent   EventType = "automation.workflow.deleted"
	WorkflowActivatedEvent EventType = "automation.workflow.activated"
	WorkflowPausedEvent    EventType = "automation.workflow.paused"
	WorkflowArchivedEvent  EventType = "automation.workflow.archived"

	RuleCreatedEvent     EventType = "automation.rule.created"
	RuleUpdatedEvent     EventType = "automation.rule.updated"
	RuleDeletedEvent     EventType = "automation.rule.deleted"
	RuleActivatedEvent   EventType = "automation.rule.activated"
	RuleDeactivatedEvent EventType = "automation.rule.deactivated"

	TriggerCreatedEvent     EventType = "automation.trigger.created"
	TriggerUpdatedEvent     EventType = "automation.trigger.updated"
	TriggerDeletedEvent     EventType = "automation.trigger.deleted"
	TriggerActivatedEvent   EventType = "automation.trigger.activated"
	TriggerDeactivatedEvent EventType = "automation.trigger.deactivated"

	// Execution events.
	WorkflowStartedEvent  EventType = "automation.workflow.started"
	WorkflowExecutedEvent EventType = "automation.workflow.executed"
	NodeExecutedEvent     EventType = "automation.workflow.node.executed"
	RuleEvaluatedEvent    EventType = "automation.rule.evaluated"
	TriggerFiredEvent     EventType = "automation.trigger.fired"
	ActionExecutedEvent   EventType = "automation.action.executed"

	// NotificationEvent carries outgoing email, sms, slack and in-app messages.
	NotificationEvent EventType = "notification.send"
)

// ExecutionEvents are the topics the execution monitor listens to.
var ExecutionEvents = []EventType{
	WorkflowExecutedEvent,
	RuleEvaluatedEvent,
	TriggerFiredEvent,
	ActionExecutedEvent,
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        watermill.NewULID(),
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
	}
}

func (b BaseEvent) GetType() EventType {
	return b.Type
}

func (b BaseEvent) GetTenantID() string {
	return b.TenantID
}

// EntityChanged announces a create, update, delete or status change of a definition.
type EntityChanged struct {
	BaseEvent

	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Status   string `json:"status,omitempty"`
	Version  int    `json:"version,omitempty"`
}

// Execution is the payload of every execution event.
type Execution struct {
	BaseEvent

	AutomationID   string `json:"automation_id"`
	AutomationName string `json:"automation_name"`
	ExecutionID    string `json:"execution_id"`
	Status         string `json:"status"`
	Input          any    `json:"input,omitempty"`
	Output         any    `json:"output,omitempty"`
	Error          string `json:"error,omitempty"`
	Duration       int64  `json:"duration"`
}

// NodeExecuted reports one node of a workflow run.
type NodeExecuted struct {
	BaseEvent

	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	NodeType    string `json:"node_type"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Duration    int64  `json:"duration"`
}

// Notification is an outgoing message for a delivery worker outside the engine.
type Notification struct {
	BaseEvent

	Channel   string         `json:"channel"`
	To        []string       `json:"to"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	ActionRef string         `json:"action_ref,omitempty"`
}
