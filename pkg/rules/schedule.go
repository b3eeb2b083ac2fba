package rules

import (
	"fmt"
	"slices"
	"time"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/robfig/cron/v3"
)

func validateSchedule(schedule *models.RuleSchedule) []string {
	if schedule == nil {
		return nil
	}

	var problems []string

	if _, err := location(schedule.Timezone); err != nil {
		problems = append(problems, "schedule.timezone: "+err.Error())
	}

	switch schedule.Type {
	case "", models.ScheduleAlways:
	case models.ScheduleTimeWindow:
		start, startErr := minuteOfDay(schedule.StartTime)
		if startErr != nil {
			problems = append(problems, fmt.Sprintf("schedule.start_time: %v", startErr))
		}

		end, endErr := minuteOfDay(schedule.EndTime)
		if endErr != nil {
			problems = append(problems, fmt.Sprintf("schedule.end_time: %v", endErr))
		}

		if startErr == nil && endErr == nil && start == end {
			problems = append(problems, "schedule.end_time: must differ from start_time")
		}

		for _, day := range schedule.DaysOfWeek {
			if day < 0 || day > 6 {
				problems = append(problems, fmt.Sprintf("schedule.days_of_week: %d is not between 0 and 6", day))
			}
		}
	case models.ScheduleCron:
		if _, err := cron.ParseStandard(schedule.Cron); err != nil {
			problems = append(problems, "schedule.cron: "+err.Error())
		}
	case models.ScheduleDateRange:
		if schedule.StartDate != nil && schedule.EndDate != nil && schedule.EndDate.Before(*schedule.StartDate) {
			problems = append(problems, "schedule.end_date is before schedule.start_date")
		}
	default:
		problems = append(problems, fmt.Sprintf("schedule.type: unknown type '%s'", schedule.Type))
	}

	return problems
}

// scheduleAllows reports whether now falls inside the schedule. A nil schedule
// always allows.
func scheduleAllows(schedule *models.RuleSchedule, now time.Time) bool {
	if schedule == nil {
		return true
	}

	loc, err := location(schedule.Timezone)
	if err != nil {
		return false
	}

	local := now.In(loc)

	switch schedule.Type {
	case models.ScheduleTimeWindow:
		return inTimeWindow(schedule, local)
	case models.ScheduleCron:
		return cronMatches(schedule.Cron, local)
	case models.ScheduleDateRange:
		if schedule.StartDate != nil && local.Before(*schedule.StartDate) {
			return false
		}

		return schedule.EndDate == nil || !local.After(*schedule.EndDate)
	default:
		return true
	}
}

// inTimeWindow accepts [start, end). A window whose end is before its start spans midnight.
func inTimeWindow(schedule *models.RuleSchedule, local time.Time) bool {
	if len(schedule.DaysOfWeek) > 0 && !slices.Contains(schedule.DaysOfWeek, int(local.Weekday())) {
		return false
	}

	start, err := minuteOfDay(schedule.StartTime)
	if err != nil {
		return false
	}

	end, err := minuteOfDay(schedule.EndTime)
	if err != nil {
		return false
	}

	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute < end
	}

	return minute >= start || minute < end
}

// cronMatches reports whether the minute containing local is an activation of expr.
func cronMatches(expr string, local time.Time) bool {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return false
	}

	minute := local.Truncate(time.Minute)

	return schedule.Next(minute.Add(-time.Second)).Equal(minute)
}

func minuteOfDay(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("'%s' is not HH:MM", value)
	}

	return parsed.Hour()*60 + parsed.Minute(), nil
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}

	return time.LoadLocation(name)
}
