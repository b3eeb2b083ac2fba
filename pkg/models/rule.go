package models

import "time"

type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "draft"
	RuleStatusActive   RuleStatus = "active"
	RuleStatusInactive RuleStatus = "inactive"
	RuleStatusArchived RuleStatus = "archived"
)

type RulePriority string

const (
	PriorityCritical RulePriority = "critical"
	PriorityHigh     RulePriority = "high"
	PriorityMedium   RulePriority = "medium"
	PriorityLow      RulePriority = "low"
)

// Rank orders priorities, critical first. Unknown priorities sort after low.
func (p RulePriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Rule maps a condition tree to an ordered list of actions.
type Rule struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"             validate:"required"`
	Name        string         `json:"name"                  validate:"required,min=1"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Priority    RulePriority   `json:"priority"              validate:"omitempty,oneof=critical high medium low"`
	Status      RuleStatus     `json:"status"`
	Conditions  ConditionGroup `json:"conditions"`
	Actions     []RuleAction   `json:"actions"               validate:"dive"`
	Schedule    *RuleSchedule  `json:"schedule,omitempty"`
	Limits      *RuleLimits    `json:"limits,omitempty"`
	Counters    RuleCounters   `json:"counters"`
	Metadata    RuleMetadata   `json:"metadata"`
	Tags        []string       `json:"tags,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type ActionErrorPolicy string

const (
	OnErrorStop     ActionErrorPolicy = "stop"
	OnErrorContinue ActionErrorPolicy = "continue"
)

// RuleAction is one step run when the rule matches. Type names an action definition.
type RuleAction struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"                validate:"required"`
	Config    map[string]any    `json:"config,omitempty"`
	Order     int               `json:"order"`
	Condition *ConditionGroup   `json:"condition,omitempty"`
	OnError   ActionErrorPolicy `json:"on_error,omitempty"  validate:"omitempty,oneof=stop continue"`
}

type ScheduleType string

const (
	ScheduleAlways     ScheduleType = "always"
	ScheduleTimeWindow ScheduleType = "timeWindow"
	ScheduleCron       ScheduleType = "cron"
	ScheduleDateRange  ScheduleType = "dateRange"
)

// RuleSchedule gates evaluation. StartTime and EndTime are "HH:MM"; DaysOfWeek uses 0 for Sunday.
type RuleSchedule struct {
	Type       ScheduleType `json:"type"`
	StartTime  string       `json:"start_time,omitempty"`
	EndTime    string       `json:"end_time,omitempty"`
	DaysOfWeek []int        `json:"days_of_week,omitempty"`
	Timezone   string       `json:"timezone,omitempty"`
	Cron       string       `json:"cron,omitempty"`
	StartDate  *time.Time   `json:"start_date,omitempty"`
	EndDate    *time.Time   `json:"end_date,omitempty"`
}

type RuleLimits struct {
	MaxExecutionsPerDay  int `json:"max_executions_per_day,omitempty"`
	MaxExecutionsPerHour int `json:"max_executions_per_hour,omitempty"`
	CooldownSeconds      int `json:"cooldown_seconds,omitempty"`
}

// RuleCounters back RuleLimits.
type RuleCounters struct {
	Daily          int        `json:"daily"`
	Hourly         int        `json:"hourly"`
	DailyResetAt   time.Time  `json:"daily_reset_at"`
	HourlyResetAt  time.Time  `json:"hourly_reset_at"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
}

type RuleMetadata struct {
	ExecutionCount   int64      `json:"execution_count"`
	MatchCount       int64      `json:"match_count"`
	SuccessCount     int64      `json:"success_count"`
	SuccessRate      float64    `json:"success_rate"`
	AvgExecutionTime float64    `json:"avg_execution_time"`
	LastMatchedAt    *time.Time `json:"last_matched_at,omitempty"`
	LastExecutedAt   *time.Time `json:"last_executed_at,omitempty"`
}

type ExecutionMode string

const (
	ExecutionModeAll        ExecutionMode = "all"
	ExecutionModeFirstMatch ExecutionMode = "first_match"
	ExecutionModePriority   ExecutionMode = "priority"
)

type RuleSet struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"          validate:"required"`
	Name             string        `json:"name"               validate:"required,min=1"`
	Description      string        `json:"description,omitempty"`
	RuleIDs          []string      `json:"rule_ids"`
	ExecutionMode    ExecutionMode `json:"execution_mode"     validate:"omitempty,oneof=all first_match priority"`
	StopOnFirstMatch bool          `json:"stop_on_first_match"`
	Status           RuleStatus    `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type EvaluationResult string

const (
	ResultMatched    EvaluationResult = "matched"
	ResultNotMatched EvaluationResult = "not_matched"
	ResultError      EvaluationResult = "error"
	ResultSkipped    EvaluationResult = "skipped"
)

// RuleEvaluation records one EvaluateRule call.
type RuleEvaluation struct {
	ID                string             `json:"id"`
	RuleID            string             `json:"rule_id"`
	RuleSetID         string             `json:"rule_set_id,omitempty"`
	TenantID          string             `json:"tenant_id"`
	Result            EvaluationResult   `json:"result"`
	SkipReason        string             `json:"skip_reason,omitempty"`
	MatchedConditions []string           `json:"matched_conditions"`
	Actions           []*ActionExecution `json:"actions"`
	Input             map[string]any     `json:"input,omitempty"`
	Error             string             `json:"error,omitempty"`
	Duration          int64              `json:"duration"`
	EvaluatedAt       time.Time          `json:"evaluated_at"`
}

// ConditionDiagnostic explains one leaf of a rule test.
type ConditionDiagnostic struct {
	ID       string            `json:"id"`
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Expected any               `json:"expected"`
	Actual   any               `json:"actual"`
	Matched  bool              `json:"matched"`
}

// RuleTestResult is the side-effect free outcome of testing a rule against sample input.
type RuleTestResult struct {
	Matched         bool                  `json:"matched"`
	Conditions      []ConditionDiagnostic `json:"conditions"`
	ActionsToRun    []string              `json:"actions_to_run"`
	ScheduleAllowed bool                  `json:"schedule_allowed"`
}
