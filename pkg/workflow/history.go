package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/flowrule/pkg/models"
)

const topWorkflows = 5

// ExecutionFilter narrows ListExecutions. Zero fields match everything.
type ExecutionFilter struct {
	WorkflowID string
	Status     models.ExecutionStatus
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
}

func (f ExecutionFilter) match(execution *models.WorkflowExecution) bool {
	switch {
	case f.WorkflowID != "" && execution.WorkflowID != f.WorkflowID:
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

type WorkflowCount struct {
	WorkflowID     string `json:"workflow_id"`
	Name           string `json:"name"`
	ExecutionCount int64  `json:"execution_count"`
}

// Stats summarizes the workflows of a tenant.
type Stats struct {
	TotalWorkflows     int             `json:"total_workflows"`
	ActiveWorkflows    int             `json:"active_workflows"`
	TotalExecutions    int64           `json:"total_executions"`
	RunningExecutions  int             `json:"running_executions"`
	ExecutionsByStatus map[string]int  `json:"executions_by_status"`
	AvgExecutionTime   float64         `json:"avg_execution_time"`
	TopWorkflows       []WorkflowCount `json:"top_workflows"`
}

// ListExecutions returns matching executions, newest first. Running executions are
// reported with their stored status until they finish.
func (e *Engine) ListExecutions(ctx context.Context, tenantID string, filter ExecutionFilter) ([]*models.WorkflowExecution, error) {
	all, err := e.executions.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.WorkflowExecution, 0, len(all))

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

// GetStats aggregates the per workflow stats. The average execution time is the
// execution weighted mean of the workflows' running means.
func (e *Engine) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	workflows, err := e.workflows.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	executions, err := e.executions.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalWorkflows:     len(workflows),
		ExecutionsByStatus: map[string]int{},
		TopWorkflows:       []WorkflowCount{},
	}

	var weighted float64

	for _, workflow := range workflows {
		if workflow.Status == models.WorkflowStatusActive {
			stats.ActiveWorkflows++
		}

		stats.TotalExecutions += workflow.Stats.TotalExecutions
		weighted += workflow.Stats.AvgExecutionTime * float64(workflow.Stats.TotalExecutions)

		stats.TopWorkflows = append(stats.TopWorkflows, WorkflowCount{
			WorkflowID:     workflow.ID,
			Name:           workflow.Name,
			ExecutionCount: workflow.Stats.TotalExecutions,
		})
	}

	if stats.TotalExecutions > 0 {
		stats.AvgExecutionTime = weighted / float64(stats.TotalExecutions)
	}

	sort.SliceStable(stats.TopWorkflows, func(i, j int) bool {
		return stats.TopWorkflows[i].ExecutionCount > stats.TopWorkflows[j].ExecutionCount
	})

	if len(stats.TopWorkflows) > topWorkflows {
		stats.TopWorkflows = stats.TopWorkflows[:topWorkflows]
	}

	for _, execution := range executions {
		stats.ExecutionsByStatus[string(execution.Status)]++
	}

	e.mu.Lock()
	for _, r := range e.runs {
		if r.execution.TenantID == tenantID {
			stats.RunningExecutions++
		}
	}
	e.mu.Unlock()

	return stats, nil
}
