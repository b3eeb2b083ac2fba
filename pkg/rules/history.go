package rules

import (
	"context"
	"sort"

	"github.com/dukex/flowrule/pkg/models"
)

// EvaluationFilter narrows ListEvaluations. Zero fields match everything.
type EvaluationFilter struct {
	RuleID    string
	RuleSetID string
	Result    models.EvaluationResult
	Limit     int
}

// Stats summarizes the rules of a tenant and their evaluation history.
type Stats struct {
	TotalRules       int            `json:"total_rules"`
	ActiveRules      int            `json:"active_rules"`
	TotalEvaluations int            `json:"total_evaluations"`
	ByResult         map[string]int `json:"by_result"`
	MatchRate        float64        `json:"match_rate"`
	AvgDuration      float64        `json:"avg_duration"`
}

// ListEvaluations returns matching evaluations, newest first.
func (e *Engine) ListEvaluations(ctx context.Context, tenantID string, filter EvaluationFilter) ([]*models.RuleEvaluation, error) {
	all, err := e.evaluations.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.RuleEvaluation, 0, len(all))

	for _, evaluation := range all {
		switch {
		case filter.RuleID != "" && evaluation.RuleID != filter.RuleID:
		case filter.RuleSetID != "" && evaluation.RuleSetID != filter.RuleSetID:
		case filter.Result != "" && evaluation.Result != filter.Result:
		default:
			out = append(out, evaluation)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EvaluatedAt.After(out[j].EvaluatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

// GetStats aggregates rule counts and evaluation outcomes. MatchRate is the share of
// evaluations that were not skipped and matched, as a percentage.
func (e *Engine) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	rules, err := e.rules.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	evaluations, err := e.evaluations.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalRules:       len(rules),
		TotalEvaluations: len(evaluations),
		ByResult:         map[string]int{},
	}

	for _, rule := range rules {
		if rule.Status == models.RuleStatusActive {
			stats.ActiveRules++
		}
	}

	var (
		considered int64
		totalTime  int64
	)

	for _, evaluation := range evaluations {
		stats.ByResult[string(evaluation.Result)]++

		if evaluation.Result == models.ResultSkipped {
			continue
		}

		considered++
		totalTime += evaluation.Duration
	}

	if considered > 0 {
		stats.MatchRate = float64(stats.ByResult[string(models.ResultMatched)]) / float64(considered) * 100
		stats.AvgDuration = float64(totalTime) / float64(considered)
	}

	return stats, nil
}
