package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// 2026-03-02 is a Monday.
var monday0900UTC = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func scheduled(freq schema.Frequency, cfg schema.ScheduleConfig) *store.Workflow {
	return &store.Workflow{
		ID:          "wf-1",
		OwnerID:     "user-1",
		TriggerType: schema.TriggerScheduled,
		Frequency:   freq,
		Schedule:    &cfg,
		IsActive:    true,
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestDue_Frequencies(t *testing.T) {
	cases := []struct {
		name string
		wf   *store.Workflow
		now  time.Time
		want bool
	}{
		{"daily at time", scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "09:00", Timezone: "UTC"}), monday0900UTC, true},
		{"daily a minute late", scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "09:00", Timezone: "UTC"}), monday0900UTC.Add(time.Minute), false},
		{"daily seconds into the minute", scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "09:00", Timezone: "UTC"}), monday0900UTC.Add(42 * time.Second), true},
		{"weekly on listed day", scheduled(schema.FrequencyWeekly, schema.ScheduleConfig{Time: "09:00", Days: []string{"mon", "thu"}, Timezone: "UTC"}), monday0900UTC, true},
		{"weekly on other day", scheduled(schema.FrequencyWeekly, schema.ScheduleConfig{Time: "09:00", Days: []string{"tue"}, Timezone: "UTC"}), monday0900UTC, false},
		{"monthly on day", scheduled(schema.FrequencyMonthly, schema.ScheduleConfig{Time: "09:00", DayOfMonth: 2, Timezone: "UTC"}), monday0900UTC, true},
		{"monthly off day", scheduled(schema.FrequencyMonthly, schema.ScheduleConfig{Time: "09:00", DayOfMonth: 3, Timezone: "UTC"}), monday0900UTC, false},
		{"yearly on date", scheduled(schema.FrequencyYearly, schema.ScheduleConfig{Time: "09:00", DayOfMonth: 2, Month: 3, Timezone: "UTC"}), monday0900UTC, true},
		{"yearly wrong month", scheduled(schema.FrequencyYearly, schema.ScheduleConfig{Time: "09:00", DayOfMonth: 2, Month: 4, Timezone: "UTC"}), monday0900UTC, false},
		{"once on date", scheduled(schema.FrequencyOnce, schema.ScheduleConfig{Time: "09:00", Date: "2026-03-02", Timezone: "UTC"}), monday0900UTC, true},
		{"once other date", scheduled(schema.FrequencyOnce, schema.ScheduleConfig{Time: "09:00", Date: "2026-03-03", Timezone: "UTC"}), monday0900UTC, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Due(tc.wf, tc.now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDue_WeeklyMondayNineScenario(t *testing.T) {
	wf := scheduled(schema.FrequencyWeekly, schema.ScheduleConfig{Time: "09:00", Days: []string{"mon"}, Timezone: "UTC"})

	due, err := Due(wf, monday0900UTC)
	require.NoError(t, err)
	assert.True(t, due)

	// Fired once: not again the same day.
	wf.LastRunAt = ptr(monday0900UTC)
	due, err = Due(wf, monday0900UTC.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, due)

	// Due again the following Monday.
	due, err = Due(wf, monday0900UTC.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.True(t, due)

	// Not on Tuesday.
	due, err = Due(wf, monday0900UTC.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, due)
}

func TestDue_OnceNeverRefires(t *testing.T) {
	wf := scheduled(schema.FrequencyOnce, schema.ScheduleConfig{Time: "09:00", Date: "2026-03-02", Timezone: "UTC"})
	wf.LastRunAt = ptr(monday0900UTC.AddDate(0, 0, -30))

	due, err := Due(wf, monday0900UTC)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestDue_SameDayGuardUsesLocalDate(t *testing.T) {
	wf := scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "00:30", Timezone: "Asia/Tokyo"})
	// 00:30 in Tokyo on 2026-03-03 is 15:30 UTC on 2026-03-02.
	now := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

	// Last run at 10:00 UTC on the same UTC date, but the previous Tokyo day.
	wf.LastRunAt = ptr(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	due, err := Due(wf, now)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestDue_DefaultTimezoneIsKolkata(t *testing.T) {
	wf := scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "09:00"})

	// 09:00 IST is 03:30 UTC.
	due, err := Due(wf, time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, due)

	due, err = Due(wf, monday0900UTC)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestDue_InactiveOrImmediate(t *testing.T) {
	wf := scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "09:00", Timezone: "UTC"})
	wf.IsActive = false
	due, err := Due(wf, monday0900UTC)
	require.NoError(t, err)
	assert.False(t, due)

	wf = scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "09:00", Timezone: "UTC"})
	wf.TriggerType = schema.TriggerImmediate
	due, err = Due(wf, monday0900UTC)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestDue_MalformedConfig(t *testing.T) {
	cases := map[string]*store.Workflow{
		"missing config": {ID: "wf", IsActive: true, TriggerType: schema.TriggerScheduled, Frequency: schema.FrequencyDaily},
		"weekly no days": scheduled(schema.FrequencyWeekly, schema.ScheduleConfig{Time: "09:00"}),
		"bad time":       scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "9am"}),
		"bad timezone":   scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "09:00", Timezone: "Mars/Olympus"}),
	}
	for name, wf := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Due(wf, monday0900UTC)
			assert.True(t, schema.HasCode(err, schema.ErrCodeScheduleConfig), "got %v", err)

			assert.False(t, NewDetector(nil).IsDue(wf, monday0900UTC))
		})
	}
}

func TestDue_IdempotentWithinADay(t *testing.T) {
	wf := scheduled(schema.FrequencyDaily, schema.ScheduleConfig{Time: "09:00", Timezone: "UTC"})
	d := NewDetector(nil)

	fired := 0
	for now := monday0900UTC.Add(-time.Hour); now.Before(monday0900UTC.Add(time.Hour)); now = now.Add(10 * time.Second) {
		if d.IsDue(wf, now) {
			fired++
			wf.LastRunAt = ptr(now)
		}
	}
	assert.Equal(t, 1, fired)
}

func TestWeekday(t *testing.T) {
	assert.Equal(t, "mon", Weekday(monday0900UTC))
	assert.Equal(t, "sun", Weekday(monday0900UTC.AddDate(0, 0, -1)))
}
