package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidateSchedule checks a schedule descriptor without computing a run time.
// Invalid descriptors are rejected here, at registration time.
func ValidateSchedule(schedule Schedule) error {
	_, err := NextRun(schedule, time.Now())
	return err
}

// NextRun calculates the next run time in epoch milliseconds for a schedule,
// relative to the given time.
func NextRun(schedule Schedule, from time.Time) (int64, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return nextRunAt(schedule)
	case ScheduleKindEvery:
		return nextRunEvery(schedule, from)
	case ScheduleKindCron:
		return nextRunCron(schedule, from)
	default:
		return 0, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

func nextRunAt(schedule Schedule) (int64, error) {
	if schedule.AtMs <= 0 {
		return 0, fmt.Errorf("'at' schedule requires positive 'atMs' value")
	}
	return schedule.AtMs, nil
}

func nextRunEvery(schedule Schedule, from time.Time) (int64, error) {
	if schedule.EverySeconds <= 0 {
		return 0, fmt.Errorf("'every' schedule requires positive 'everySeconds' value")
	}
	return from.UnixMilli() + schedule.EverySeconds*1000, nil
}

func nextRunCron(schedule Schedule, from time.Time) (int64, error) {
	if schedule.Expr == "" {
		return 0, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression: %w", err)
	}

	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return 0, fmt.Errorf("invalid timezone: %w", err)
		}
		from = from.In(loc)
	}

	return sched.Next(from).UnixMilli(), nil
}
