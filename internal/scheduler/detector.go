package scheduler

import (
	"log/slog"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// defaultLocation is Asia/Kolkata as a fixed +05:30 offset, so schedules
// without a timezone work on hosts without a tz database.
var defaultLocation = time.FixedZone(schema.DefaultTimezone, 5*60*60+30*60)

// Detector decides which scheduled workflows fire at a given minute.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{logger: logger}
}

// IsDue reports whether wf fires at now. A malformed schedule is logged and
// treated as not due.
func (d *Detector) IsDue(wf *store.Workflow, now time.Time) bool {
	due, err := Due(wf, now)
	if err != nil {
		d.logger.Warn("invalid schedule config",
			slog.String("workflow_id", wf.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return due
}

// Due reports whether wf fires at now.
//
// The wall-clock HH:MM in the workflow's timezone must equal the configured
// time. Except for "once", a workflow that already ran on the same local
// calendar day is not due again.
func Due(wf *store.Workflow, now time.Time) (bool, error) {
	if !wf.IsActive || wf.TriggerType != schema.TriggerScheduled {
		return false, nil
	}
	if err := validation.ValidateSchedule(wf.Frequency, wf.Schedule); err != nil {
		return false, err
	}
	cfg := wf.Schedule

	loc, err := Location(cfg.Timezone)
	if err != nil {
		return false, err
	}
	local := now.In(loc)
	if local.Format("15:04") != cfg.Time {
		return false, nil
	}

	if wf.Frequency == schema.FrequencyOnce {
		return wf.LastRunAt == nil && local.Format(time.DateOnly) == cfg.Date, nil
	}

	if wf.LastRunAt != nil && sameDay(wf.LastRunAt.In(loc), local) {
		return false, nil
	}

	switch wf.Frequency {
	case schema.FrequencyDaily:
		return true, nil
	case schema.FrequencyWeekly:
		return slices.Contains(cfg.Days, Weekday(local)), nil
	case schema.FrequencyMonthly:
		return local.Day() == cfg.DayOfMonth, nil
	case schema.FrequencyYearly:
		return local.Day() == cfg.DayOfMonth && int(local.Month()) == cfg.Month, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeScheduleConfig, "unknown frequency %q", wf.Frequency)
	}
}

// Location resolves a schedule timezone. Empty means the default zone.
func Location(name string) (*time.Location, error) {
	if name == "" || name == schema.DefaultTimezone {
		return defaultLocation, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScheduleConfig, "unknown timezone %q", name).WithCause(err)
	}
	return loc, nil
}

// Weekday returns the lowercase three-letter day name of t.
func Weekday(t time.Time) string {
	return strings.ToLower(t.Weekday().String()[:3])
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
