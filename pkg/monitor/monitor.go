// Package monitor keeps a bounded per tenant log of finished executions, built from the
// execution events on the bus, and exports them as prometheus metrics.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/flowrule/pkg/eventbus"
	"github.com/dukex/flowrule/pkg/events"
	"github.com/dukex/flowrule/pkg/models"
)

// DefaultCapacity is the number of entries kept per tenant.
const DefaultCapacity = 10000

type AutomationType string

const (
	TypeWorkflow AutomationType = "workflow"
	TypeRule     AutomationType = "rule"
	TypeTrigger  AutomationType = "trigger"
	TypeAction   AutomationType = "action"
)

var automationTypes = map[events.EventType]AutomationType{
	events.WorkflowExecutedEvent: TypeWorkflow,
	events.RuleEvaluatedEvent:    TypeRule,
	events.TriggerFiredEvent:     TypeTrigger,
	events.ActionExecutedEvent:   TypeAction,
}

// Entry is one finished execution.
type Entry struct {
	ID             string         `json:"id"`
	Type           AutomationType `json:"type"`
	TenantID       string         `json:"tenant_id"`
	AutomationID   string         `json:"automation_id"`
	AutomationName string         `json:"automation_name"`
	ExecutionID    string         `json:"execution_id"`
	Status         string         `json:"status"`
	Error          string         `json:"error,omitempty"`
	Duration       int64          `json:"duration"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Filter narrows ListExecutions. Zero fields match everything.
type Filter struct {
	Type         AutomationType
	AutomationID string
	Status       string
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
}

func (f Filter) match(entry *Entry) bool {
	switch {
	case f.Type != "" && entry.Type != f.Type:
		return false
	case f.AutomationID != "" && entry.AutomationID != f.AutomationID:
		return false
	case f.Status != "" && entry.Status != f.Status:
		return false
	case f.StartDate != nil && entry.Timestamp.Before(*f.StartDate):
		return false
	case f.EndDate != nil && entry.Timestamp.After(*f.EndDate):
		return false
	default:
		return true
	}
}

type TypeStats struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	AvgDuration float64        `json:"avg_duration"`
}

type Stats struct {
	Total  int                           `json:"total"`
	ByType map[AutomationType]*TypeStats `json:"by_type"`
}

type Config struct {
	Logger     *slog.Logger
	Subscriber eventbus.EventSubscriber
	Metrics    *Metrics
	Capacity   int
}

type Monitor struct {
	logger     *slog.Logger
	subscriber eventbus.EventSubscriber
	metrics    *Metrics
	capacity   int

	mu          sync.RWMutex
	logs        map[string][]*Entry
	unsubscribe []func()
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	return &Monitor{
		logger:     cfg.Logger.With("module", "monitor"),
		subscriber: cfg.Subscriber,
		metrics:    cfg.Metrics,
		capacity:   cfg.Capacity,
		logs:       map[string][]*Entry{},
	}
}

// Start subscribes to every execution event topic.
func (m *Monitor) Start(ctx context.Context) error {
	for _, eventType := range events.ExecutionEvents {
		unsubscribe, err := m.subscriber.Subscribe(ctx, string(eventType), m.handle(automationTypes[eventType]))
		if err != nil {
			m.Close()

			return fmt.Errorf("failed to subscribe monitor to %s: %w", eventType, err)
		}

		m.mu.Lock()
		m.unsubscribe = append(m.unsubscribe, unsubscribe)
		m.mu.Unlock()
	}

	m.logger.InfoContext(ctx, "Execution monitor started", "topics", len(events.ExecutionEvents))

	return nil
}

func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}

	m.unsubscribe = nil
}

func (m *Monitor) handle(automationType AutomationType) eventbus.EventHandler {
	return func(_ context.Context, msg *eventbus.Message) error {
		var event events.Execution

		err := msg.Decode(&event)
		if err != nil {
			return fmt.Errorf("failed to decode execution event: %w", err)
		}

		m.Record(automationType, event)

		return nil
	}
}

// Record appends an execution to the tenant log, evicting the oldest entry when full.
func (m *Monitor) Record(automationType AutomationType, event events.Execution) *Entry {
	entry := &Entry{
		ID:             event.ID,
		Type:           automationType,
		TenantID:       event.TenantID,
		AutomationID:   event.AutomationID,
		AutomationName: event.AutomationName,
		ExecutionID:    event.ExecutionID,
		Status:         event.Status,
		Error:          event.Error,
		Duration:       event.Duration,
		Timestamp:      event.Timestamp,
	}

	m.mu.Lock()

	log := append(m.logs[entry.TenantID], entry)
	if len(log) > m.capacity {
		evicted := len(log) - m.capacity
		log = append([]*Entry(nil), log[evicted:]...)

		m.metrics.dropped.Add(float64(evicted))
	}

	m.logs[entry.TenantID] = log

	m.mu.Unlock()

	m.metrics.observe(entry)

	return entry
}

// ListExecutions returns matching entries of a tenant, newest first.
func (m *Monitor) ListExecutions(tenantID string, filter Filter) []*Entry {
	m.mu.RLock()
	log := m.logs[tenantID]

	out := make([]*Entry, 0, len(log))

	for _, entry := range log {
		if filter.match(entry) {
			out = append(out, entry)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out
}

// GetStats aggregates the log of a tenant by automation type.
func (m *Monitor) GetStats(tenantID string) *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{ByType: map[AutomationType]*TypeStats{}}

	for _, entry := range m.logs[tenantID] {
		byType, ok := stats.ByType[entry.Type]
		if !ok {
			byType = &TypeStats{ByStatus: map[string]int{}}
			stats.ByType[entry.Type] = byType
		}

		byType.Total++
		byType.ByStatus[entry.Status]++
		byType.AvgDuration = models.RunningMean(byType.AvgDuration, int64(byType.Total), float64(entry.Duration))

		stats.Total++
	}

	return stats
}
