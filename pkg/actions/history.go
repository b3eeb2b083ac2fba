package actions

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/flowrule/pkg/apperr"
	"github.com/dukex/flowrule/pkg/models"
	"github.com/dukex/flowrule/pkg/persistence"
)

const recentExecutions = 10

// ExecutionFilter narrows ListExecutions. Zero fields match everything.
type ExecutionFilter struct {
	DefinitionID string
	InstanceID   string
	Status       models.ActionStatus
	StartDate    *time.Time
	EndDate      *time.Time
	Limit        int
}

func (f ExecutionFilter) match(execution *models.ActionExecution) bool {
	switch {
	case f.DefinitionID != "" && execution.DefinitionID != f.DefinitionID:
		return false
	case f.InstanceID != "" && execution.InstanceID != f.InstanceID:
		return false
	case f.Status != "" && execution.Status != f.Status:
		return false
	case f.StartDate != nil && execution.StartedAt.Before(*f.StartDate):
		return false
	case f.EndDate != nil && execution.StartedAt.After(*f.EndDate):
		return false
	default:
		return true
	}
}

// Stats aggregates the tenant's action executions.
type Stats struct {
	TotalExecutions  int                       `json:"total_executions"`
	ByStatus         map[string]int            `json:"by_status"`
	ByAction         map[string]int            `json:"by_action"`
	AvgDuration      float64                   `json:"avg_duration"`
	SuccessRate      float64                   `json:"success_rate"`
	RecentExecutions []*models.ActionExecution `json:"recent_executions"`
}

func (e *Executor) GetExecution(ctx context.Context, tenantID, id string) (*models.ActionExecution, error) {
	execution, err := e.executions.Get(ctx, tenantID, id)
	if persistence.IsNotFound(err) {
		return nil, apperr.NotFound("GetExecution", kindExecution, id)
	}

	return execution, err
}

// ListExecutions returns matching executions, newest first.
func (e *Executor) ListExecutions(ctx context.Context, tenantID string, filter ExecutionFilter) ([]*models.ActionExecution, error) {
	all, err := e.executions.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ActionExecution, 0, len(all))

	for _, execution := range all {
		if filter.match(execution) {
			out = append(out, execution)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

// GetStats summarizes every execution of the tenant. SuccessRate is a percentage
// and is 100 when nothing ran yet.
func (e *Executor) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	executions, err := e.ListExecutions(ctx, tenantID, ExecutionFilter{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalExecutions: len(executions),
		ByStatus:        map[string]int{},
		ByAction:        map[string]int{},
		SuccessRate:     100,
	}

	var (
		totalDuration int64
		successes     int
	)

	for _, execution := range executions {
		stats.ByStatus[string(execution.Status)]++
		stats.ByAction[execution.DefinitionID]++
		totalDuration += execution.Duration

		if execution.Status == models.ActionStatusSuccess {
			successes++
		}
	}

	if len(executions) > 0 {
		stats.AvgDuration = float64(totalDuration) / float64(len(executions))
		stats.SuccessRate = float64(successes) / float64(len(executions)) * 100
	}

	stats.RecentExecutions = executions[:min(recentExecutions, len(executions))]

	return stats, nil
}
