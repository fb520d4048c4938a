package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronSpec renders a recurring schedule as a five-field cron expression in
// the schedule's own timezone. "once" has no cron form.
func CronSpec(freq schema.Frequency, cfg *schema.ScheduleConfig) (string, error) {
	if err := validation.ValidateSchedule(freq, cfg); err != nil {
		return "", err
	}
	hour, minute, err := clock(cfg.Time)
	if err != nil {
		return "", err
	}

	switch freq {
	case schema.FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case schema.FrequencyWeekly:
		return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(cfg.Days, ",")), nil
	case schema.FrequencyMonthly:
		return fmt.Sprintf("%d %d %d * *", minute, hour, cfg.DayOfMonth), nil
	case schema.FrequencyYearly:
		return fmt.Sprintf("%d %d %d %d *", minute, hour, cfg.DayOfMonth, cfg.Month), nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeScheduleConfig, "%s schedules have no cron form", freq)
	}
}

// NextRun returns the first fire time of a schedule strictly after after,
// ignoring the same-day guard. ok is false when a "once" schedule has
// already passed.
func NextRun(freq schema.Frequency, cfg *schema.ScheduleConfig, after time.Time) (next time.Time, ok bool, err error) {
	if err := validation.ValidateSchedule(freq, cfg); err != nil {
		return time.Time{}, false, err
	}
	loc, err := Location(cfg.Timezone)
	if err != nil {
		return time.Time{}, false, err
	}

	if freq == schema.FrequencyOnce {
		at, err := time.ParseInLocation("2006-01-02 15:04", cfg.Date+" "+cfg.Time, loc)
		if err != nil {
			return time.Time{}, false, schema.NewErrorf(schema.ErrCodeScheduleConfig, "once schedule: %s", err.Error()).WithCause(err)
		}
		return at, at.After(after), nil
	}

	spec, err := CronSpec(freq, cfg)
	if err != nil {
		return time.Time{}, false, err
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, false, schema.NewErrorf(schema.ErrCodeScheduleConfig, "parse cron %q: %s", spec, err.Error()).WithCause(err)
	}
	// Without CRON_TZ the schedule runs in the location of its input.
	next = sched.Next(after.In(loc))
	return next, !next.IsZero(), nil
}

func clock(hhmm string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, 0, schema.NewErrorf(schema.ErrCodeScheduleConfig, "time %q is not HH:MM", hhmm).WithCause(err)
	}
	return t.Hour(), t.Minute(), nil
}
