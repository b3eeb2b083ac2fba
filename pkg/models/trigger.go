package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TriggerType tags a Trigger and selects the shape of its config.
type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeAPI      TriggerType = "api"
	TriggerTypeEmail    TriggerType = "email"
	TriggerTypeFile     TriggerType = "file"
	TriggerTypeDatabase TriggerType = "database"
)

type TriggerStatus string

const (
	TriggerStatusActive   TriggerStatus = "active"
	TriggerStatusInactive TriggerStatus = "inactive"
	TriggerStatusError    TriggerStatus = "error"
)

var ErrUnknownTriggerType = errors.New("unknown trigger type")

// Trigger is a tenant-owned source of executions.
type Trigger struct {
	ID              string               `json:"id"`
	TenantID        string               `json:"tenant_id"         validate:"required"`
	Name            string               `json:"name"              validate:"required,min=1"`
	Description     string               `json:"description,omitempty"`
	Type            TriggerType          `json:"type"              validate:"required"`
	Status          TriggerStatus        `json:"status"`
	Config          TriggerConfig        `json:"config"`
	Filters         []Condition          `json:"filters,omitempty"`
	Transformations []DataTransformation `json:"transformations,omitempty"`
	Targets         []TriggerTarget      `json:"targets"           validate:"dive"`
	Metadata        TriggerMetadata      `json:"metadata"`
	LastError       string               `json:"last_error,omitempty"`
	CreatedBy       string               `json:"created_by,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// TriggerConfig is implemented by exactly one config struct per TriggerType.
type TriggerConfig interface {
	TriggerType() TriggerType
}

type EventTriggerConfig struct {
	EventName string         `json:"event_name"`
	Source    string         `json:"source,omitempty"`
	Schema    map[string]any `json:"schema,omitempty"`
}

// ScheduleTriggerConfig fires on Cron, every Interval milliseconds, or once at RunAt.
type ScheduleTriggerConfig struct {
	Cron     string     `json:"cron,omitempty"`
	Interval int64      `json:"interval,omitempty"`
	RunAt    *time.Time `json:"run_at,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
}

type WebhookTriggerConfig struct {
	Path   string `json:"path"`
	Method string `json:"method,omitempty"`
	Secret string `json:"secret,omitempty"`
}

type ManualTriggerConfig struct {
	AllowedUsers []string `json:"allowed_users,omitempty"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
}

type APITriggerConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

type EmailTriggerConfig struct {
	Address       string `json:"address"`
	SubjectFilter string `json:"subject_filter,omitempty"`
}

type FileTriggerConfig struct {
	Path    string   `json:"path"`
	Pattern string   `json:"pattern,omitempty"`
	Events  []string `json:"events,omitempty"`
}

type DatabaseTriggerConfig struct {
	Table      string   `json:"table"`
	Operations []string `json:"operations,omitempty"`
}

func (*EventTriggerConfig) TriggerType() TriggerType    { return TriggerTypeEvent }
func (*ScheduleTriggerConfig) TriggerType() TriggerType { return TriggerTypeSchedule }
func (*WebhookTriggerConfig) TriggerType() TriggerType  { return TriggerTypeWebhook }
func (*ManualTriggerConfig) TriggerType() TriggerType   { return TriggerTypeManual }
func (*APITriggerConfig) TriggerType() TriggerType      { return TriggerTypeAPI }
func (*EmailTriggerConfig) TriggerType() TriggerType    { return TriggerTypeEmail }
func (*FileTriggerConfig) TriggerType() TriggerType     { return TriggerTypeFile }
func (*DatabaseTriggerConfig) TriggerType() TriggerType { return TriggerTypeDatabase }

// NewTriggerConfig returns an empty config for triggerType.
func NewTriggerConfig(triggerType TriggerType) (TriggerConfig, error) {
	switch triggerType {
	case TriggerTypeEvent:
		return &EventTriggerConfig{}, nil
	case TriggerTypeSchedule:
		return &ScheduleTriggerConfig{}, nil
	case TriggerTypeWebhook:
		return &WebhookTriggerConfig{}, nil
	case TriggerTypeManual:
		return &ManualTriggerConfig{}, nil
	case TriggerTypeAPI:
		return &APITriggerConfig{}, nil
	case TriggerTypeEmail:
		return &EmailTriggerConfig{}, nil
	case TriggerTypeFile:
		return &FileTriggerConfig{}, nil
	case TriggerTypeDatabase:
		return &DatabaseTriggerConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerType, triggerType)
	}
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	type triggerAlias Trigger

	var raw struct {
		triggerAlias

		Config json.RawMessage `json:"config"`
	}

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	config, err := NewTriggerConfig(raw.Type)
	if err != nil {
		return err
	}

	if len(raw.Config) > 0 && string(raw.Config) != "null" {
		err = json.Unmarshal(raw.Config, config)
		if err != nil {
			return fmt.Errorf("invalid %s trigger config: %w", raw.Type, err)
		}
	}

	*t = Trigger(raw.triggerAlias)
	t.Config = config

	return nil
}

// CheckConfig reports a trigger whose config does not match its type.
func (t *Trigger) CheckConfig() error {
	if t.Config == nil {
		return fmt.Errorf("trigger %s has no config", t.ID)
	}

	if t.Config.TriggerType() != t.Type {
		return fmt.Errorf("trigger of type %s carries %s config", t.Type, t.Config.TriggerType())
	}

	return nil
}

type TransformationType string

const (
	TransformPick    TransformationType = "pick"
	TransformOmit    TransformationType = "omit"
	TransformRename  TransformationType = "rename"
	TransformDefault TransformationType = "default"
)

// DataTransformation is a pure record transform applied before dispatch.
type DataTransformation struct {
	Type     TransformationType `json:"type"`
	Fields   []string           `json:"fields,omitempty"`
	Mapping  map[string]string  `json:"mapping,omitempty"`
	Defaults map[string]any     `json:"defaults,omitempty"`
}

type TargetType string

const (
	TargetWorkflow TargetType = "workflow"
	TargetRule     TargetType = "rule"
	TargetWebhook  TargetType = "webhook"
	TargetFunction TargetType = "function"
)

// TriggerTarget is one fan-out consumer. InputMapping maps target field to payload path;
// an empty mapping forwards the whole payload.
type TriggerTarget struct {
	ID           string            `json:"id"`
	Type         TargetType        `json:"type"                    validate:"required,oneof=workflow rule webhook function"`
	TargetID     string            `json:"target_id,omitempty"`
	URL          string            `json:"url,omitempty"`
	Enabled      bool              `json:"enabled"`
	InputMapping map[string]string `json:"input_mapping,omitempty"`
}

type TriggerMetadata struct {
	FireCount    int64      `json:"fire_count"`
	SuccessCount int64      `json:"success_count"`
	FailureCount int64      `json:"failure_count"`
	AvgLatency   float64    `json:"avg_latency"`
	LastFiredAt  *time.Time `json:"last_fired_at,omitempty"`
}

type TriggerExecutionStatus string

const (
	TriggerExecutionSuccess  TriggerExecutionStatus = "success"
	TriggerExecutionFailed   TriggerExecutionStatus = "failed"
	TriggerExecutionPartial  TriggerExecutionStatus = "partial"
	TriggerExecutionFiltered TriggerExecutionStatus = "filtered"
)

type TriggerExecution struct {
	ID               string                 `json:"id"`
	TriggerID        string                 `json:"trigger_id"`
	TenantID         string                 `json:"tenant_id"`
	Status           TriggerExecutionStatus `json:"status"`
	Input            map[string]any         `json:"input,omitempty"`
	TransformedInput map[string]any         `json:"transformed_input,omitempty"`
	Targets          []TargetExecution      `json:"targets"`
	Duration         int64                  `json:"duration"`
	FiredAt          time.Time              `json:"fired_at"`
}

type TargetStatus string

const (
	TargetStatusSuccess TargetStatus = "success"
	TargetStatusFailed  TargetStatus = "failed"
)

type TargetExecution struct {
	TargetID string       `json:"target_id"`
	Type     TargetType   `json:"type"`
	Status   TargetStatus `json:"status"`
	Output   any          `json:"output,omitempty"`
	Error    string       `json:"error,omitempty"`
	Duration int64        `json:"duration"`
}
