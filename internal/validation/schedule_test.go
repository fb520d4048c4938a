package validation

import (
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		freq    schema.Frequency
		cfg     *schema.ScheduleConfig
		wantErr string
	}{
		{"once", schema.FrequencyOnce, &schema.ScheduleConfig{Time: "07:15", Date: "2026-01-31"}, ""},
		{"daily", schema.FrequencyDaily, &schema.ScheduleConfig{Time: "23:59", Timezone: "Europe/Berlin"}, ""},
		{"weekly", schema.FrequencyWeekly, &schema.ScheduleConfig{Time: "09:00", Days: []string{"mon", "fri"}}, ""},
		{"monthly", schema.FrequencyMonthly, &schema.ScheduleConfig{Time: "09:00", DayOfMonth: 15}, ""},
		{"yearly", schema.FrequencyYearly, &schema.ScheduleConfig{Time: "09:00", DayOfMonth: 1, Month: 12}, ""},

		{"nil config", schema.FrequencyDaily, nil, "schedule_config is required"},
		{"no frequency", "", &schema.ScheduleConfig{Time: "09:00"}, "frequency is required"},
		{"unknown frequency", "hourly", &schema.ScheduleConfig{Time: "09:00"}, "unknown frequency"},
		{"missing time", schema.FrequencyDaily, &schema.ScheduleConfig{}, "time is required"},
		{"bad time", schema.FrequencyDaily, &schema.ScheduleConfig{Time: "25:00"}, "time 25:00 does not match"},
		{"bad date", schema.FrequencyOnce, &schema.ScheduleConfig{Time: "09:00", Date: "31/01/2026"}, "date"},
		{"bad day", schema.FrequencyWeekly, &schema.ScheduleConfig{Time: "09:00", Days: []string{"Mon"}}, "days[0]"},
		{"bad zone", schema.FrequencyDaily, &schema.ScheduleConfig{Time: "09:00", Timezone: "Mars/Olympus"}, "timezone"},
		{"once without date", schema.FrequencyOnce, &schema.ScheduleConfig{Time: "09:00"}, "requires date"},
		{"weekly without days", schema.FrequencyWeekly, &schema.ScheduleConfig{Time: "09:00"}, "requires days"},
		{"yearly without month", schema.FrequencyYearly, &schema.ScheduleConfig{Time: "09:00", DayOfMonth: 3}, "requires month"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.freq, tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, schema.HasCode(err, schema.ErrCodeScheduleConfig), "got %v", err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
