package rules

import (
	"time"

	"github.com/dukex/flowrule/pkg/models"
)

const (
	skipNotActive   = "rule is not active"
	skipSchedule    = "outside of schedule"
	skipDailyLimit  = "daily execution limit reached"
	skipHourlyLimit = "hourly execution limit reached"
	skipCooldown    = "cooldown active"

	hour = time.Hour
	day  = 24 * time.Hour
)

// resetCounters starts new windows once they have fully elapsed. A daily reset
// also resets the hourly window.
func resetCounters(counters *models.RuleCounters, now time.Time) {
	if counters.DailyResetAt.IsZero() || now.Sub(counters.DailyResetAt) >= day {
		counters.Daily = 0
		counters.Hourly = 0
		counters.DailyResetAt = now
		counters.HourlyResetAt = now
	}

	if counters.HourlyResetAt.IsZero() || now.Sub(counters.HourlyResetAt) >= hour {
		counters.Hourly = 0
		counters.HourlyResetAt = now
	}
}

// limitReason returns why limits block an evaluation at now, or "" when they do not.
func limitReason(limits *models.RuleLimits, counters models.RuleCounters, now time.Time) string {
	if limits == nil {
		return ""
	}

	switch {
	case limits.MaxExecutionsPerDay > 0 && counters.Daily >= limits.MaxExecutionsPerDay:
		return skipDailyLimit
	case limits.MaxExecutionsPerHour > 0 && counters.Hourly >= limits.MaxExecutionsPerHour:
		return skipHourlyLimit
	case limits.CooldownSeconds > 0 && counters.LastExecutedAt != nil &&
		now.Sub(*counters.LastExecutedAt) < time.Duration(limits.CooldownSeconds)*time.Second:
		return skipCooldown
	default:
		return ""
	}
}

func consume(counters *models.RuleCounters, now time.Time) {
	counters.Daily++
	counters.Hourly++
	counters.LastExecutedAt = &now
}
