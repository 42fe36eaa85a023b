package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/poolscaler/internal/config"
	"github.com/yourusername/poolscaler/pkg/models"
)

// FromConfig 将配置中的策略转换为 Scaling
// 解析错误与不变量错误一起以 ConfigurationErrors 返回
func FromConfig(cfg config.ScalingConfig) (*Scaling, error) {
	var errs ConfigurationErrors

	policies := make([]models.ScalingPolicy, 0, len(cfg.Policies))
	for i, pc := range cfg.Policies {
		field := fmt.Sprintf("policies[%d]", i)

		periods := make([]models.TimePeriod, 0, len(pc.EnabledPeriods))
		for j, rc := range pc.EnabledPeriods {
			period, perr := buildPeriod(fmt.Sprintf("%s.enabled_periods[%d]", field, j), rc)
			errs = append(errs, perr...)
			periods = append(periods, period)
		}

		switch models.PolicyType(strings.ToLower(pc.Type)) {
		case models.PolicyFixed:
			policies = append(policies, models.NewFixedPolicy(pc.Name, periods, pc.SlotsCount))
		case models.PolicyManagedTasksQueue:
			policies = append(policies, models.NewManagedTasksQueuePolicy(pc.Name, periods, models.ManagedTasksQueueScaling{
				MinTotalSlots:      pc.MinTotalSlots,
				MaxTotalSlots:      pc.MaxTotalSlots,
				MinIdleSlots:       pc.MinIdleSlots,
				MinIdleTimeSeconds: pc.MinIdleTimeSeconds,
				ScalingFactor:      pc.ScalingFactor,
			}))
		default:
			errs = append(errs, ConfigurationError{Field: field + ".type", Value: pc.Type, Message: "unknown policy type"})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return NewScaling(policies)
}

func buildPeriod(field string, rc config.PeriodConfig) (models.TimePeriod, []ConfigurationError) {
	switch models.PeriodType(strings.ToLower(rc.Type)) {
	case models.PeriodAlways:
		return models.AlwaysPeriod(rc.Name), nil

	case models.PeriodWeeklyRecurring:
		var errs []ConfigurationError

		days := make([]time.Weekday, 0, len(rc.Days))
		for _, name := range rc.Days {
			day, err := ParseWeekday(name)
			if err != nil {
				errs = append(errs, ConfigurationError{Field: field + ".days", Value: name, Message: err.Error()})
				continue
			}
			days = append(days, day)
		}

		start, err := ParseTimeOfDay(rc.StartTimeUTC)
		if err != nil {
			errs = append(errs, ConfigurationError{Field: field + ".start_time_utc", Value: rc.StartTimeUTC, Message: err.Error()})
		}
		end, err := ParseTimeOfDay(rc.EndTimeUTC)
		if err != nil {
			errs = append(errs, ConfigurationError{Field: field + ".end_time_utc", Value: rc.EndTimeUTC, Message: err.Error()})
		}

		return models.WeeklyPeriod(rc.Name, days, start, end), errs

	default:
		return models.TimePeriod{Name: rc.Name, Type: models.PeriodType(rc.Type)},
			[]ConfigurationError{{Field: field + ".type", Value: rc.Type, Message: "unknown period type"}}
	}
}
