package triggers

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence"
)

// ExecutionFilter narrows ListExecutions. Zero fields match everything.
type ExecutionFilter struct {
	TriggerID string
	Status    models.TriggerExecutionStatus
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

func (f ExecutionFilter) match(execution *models.TriggerExecution) bool {
	switch {
	case f.TriggerID != "" && execution.TriggerID != f.TriggerID:
		return false
	case f.Status != "" && execution.Status != f.Status:
		return false
	case f.StartDate != nil && execution.FiredAt.Before(*f.StartDate):
		return false
	case f.EndDate != nil && execution.FiredAt.After(*f.EndDate):
		return false
	default:
		return true
	}
}

// Stats summarizes the triggers of a tenant.
type Stats struct {
	TotalTriggers      int            `json:"total_triggers"`
	ActiveTriggers     int            `json:"active_triggers"`
	TriggersByType     map[string]int `json:"triggers_by_type"`
	TotalFires         int64          `json:"total_fires"`
	SuccessfulFires    int64          `json:"successful_fires"`
	FailedFires        int64          `json:"failed_fires"`
	ExecutionsByStatus map[string]int `json:"executions_by_status"`
	AvgLatency         float64        `json:"avg_latency"`
}

func (m *Manager) GetExecution(ctx context.Context, tenantID, id string) (*models.TriggerExecution, error) {
	execution, err := m.executions.Get(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return nil, apperr.NotFound("GetExecution", kindExecution, id)
	}

	return execution, err
}

// ListExecutions returns matching executions, newest first.
func (m *Manager) ListExecutions(ctx context.Context, tenantID string, filter ExecutionFilter) ([]*models.TriggerExecution, error) {
	all, err := m.executions.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.TriggerExecution, 0, len(all))

	for _, execution := range all {
		if filter.match(execution) {
			out = append(out, execution)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FiredAt.After(out[j].FiredAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

// GetStats aggregates trigger metadata. The average latency is weighted by fire count.
func (m *Manager) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	triggers, err := m.triggers.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	executions, err := m.executions.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalTriggers:      len(triggers),
		TriggersByType:     map[string]int{},
		ExecutionsByStatus: map[string]int{},
	}

	var weighted float64

	for _, trigger := range triggers {
		if trigger.Status == models.TriggerStatusActive {
			stats.ActiveTriggers++
		}

		stats.TriggersByType[string(trigger.Type)]++
		stats.TotalFires += trigger.Metadata.FireCount
		stats.SuccessfulFires += trigger.Metadata.SuccessCount
		stats.FailedFires += trigger.Metadata.FailureCount
		weighted += trigger.Metadata.AvgLatency * float64(trigger.Metadata.FireCount)
	}

	if stats.TotalFires > 0 {
		stats.AvgLatency = weighted / float64(stats.TotalFires)
	}

	for _, execution := range executions {
		stats.ExecutionsByStatus[string(execution.Status)]++
	}

	return stats, nil
}
