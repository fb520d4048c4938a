package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rendis/autoflow/pkg/schema"
)

var structValidator = newStructValidator()

// newStructValidator reports fields by their JSON names.
func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateSchedule checks a schedule config against its frequency: field
// formats first, then the fields each frequency needs. Failures carry
// SCHEDULE_CONFIG_ERROR.
func ValidateSchedule(freq schema.Frequency, cfg *schema.ScheduleConfig) error {
	if cfg == nil {
		return schema.NewError(schema.ErrCodeScheduleConfig, "schedule_config is required for scheduled workflows")
	}

	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return schema.NewError(schema.ErrCodeScheduleConfig, err.Error()).WithCause(err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describeFieldError(fe))
		}
		return schema.NewError(schema.ErrCodeScheduleConfig, strings.Join(msgs, "; ")).
			WithDetails(map[string]any{"violations": msgs})
	}

	var missing string
	switch freq {
	case schema.FrequencyOnce:
		if cfg.Date == "" {
			missing = "date"
		}
	case schema.FrequencyDaily:
	case schema.FrequencyWeekly:
		if len(cfg.Days) == 0 {
			missing = "days"
		}
	case schema.FrequencyMonthly:
		if cfg.DayOfMonth == 0 {
			missing = "day_of_month"
		}
	case schema.FrequencyYearly:
		if cfg.Month == 0 {
			missing = "month"
		} else if cfg.DayOfMonth == 0 {
			missing = "day_of_month"
		}
	case "":
		return schema.NewError(schema.ErrCodeScheduleConfig, "frequency is required for scheduled workflows")
	default:
		return schema.NewErrorf(schema.ErrCodeScheduleConfig, "unknown frequency %q", freq)
	}
	if missing != "" {
		return schema.NewErrorf(schema.ErrCodeScheduleConfig, "%s schedule requires %s", freq, missing)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "datetime":
		return fmt.Sprintf("%s %v does not match layout %s", field, fe.Value(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s value %v is not one of [%s]", field, fe.Value(), fe.Param())
	case "timezone":
		return fmt.Sprintf("timezone %v is not a known IANA zone", fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}
