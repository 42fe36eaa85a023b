package policy

import (
	"fmt"
	"math"
	"time"

	"github.com/yourusername/poolscaler/pkg/models"
)

// Scaling 有序策略列表，构造后不可变
// 配置更新时整体替换，不在原对象上修改
type Scaling struct {
	policies []models.ScalingPolicy
	warnings []UnreachablePolicyWarning
}

// NewScaling 校验并构造策略列表
// 配置错误返回 ConfigurationErrors；不可达策略只作为警告记录在 Warnings 中
func NewScaling(policies []models.ScalingPolicy) (*Scaling, error) {
	if errs := Validate(policies); len(errs) > 0 {
		return nil, errs
	}

	cloned := make([]models.ScalingPolicy, len(policies))
	for i, p := range policies {
		cloned[i] = clonePolicy(p)
	}

	return &Scaling{
		policies: cloned,
		warnings: Diagnose(cloned),
	}, nil
}

// MustNewScaling 用于测试和静态配置
func MustNewScaling(policies ...models.ScalingPolicy) *Scaling {
	s, err := NewScaling(policies)
	if err != nil {
		panic(err)
	}
	return s
}

// Policies 返回策略副本
func (s *Scaling) Policies() []models.ScalingPolicy {
	out := make([]models.ScalingPolicy, len(s.policies))
	for i, p := range s.policies {
		out[i] = clonePolicy(p)
	}
	return out
}

// Len 策略数
func (s *Scaling) Len() int {
	return len(s.policies)
}

// Names 策略名称（按顺序）
func (s *Scaling) Names() []string {
	names := make([]string, len(s.policies))
	for i, p := range s.policies {
		names[i] = p.Name
	}
	return names
}

// Warnings 构造时得到的诊断警告
func (s *Scaling) Warnings() []UnreachablePolicyWarning {
	return append([]UnreachablePolicyWarning(nil), s.warnings...)
}

// SelectActive 选出 now 时刻生效的策略
// 返回值与内部共享参数指针，调用方只读
func (s *Scaling) SelectActive(now time.Time) (models.ScalingPolicy, bool) {
	return SelectActive(s.policies, now)
}

// Validate 检查策略列表的全部不变量，返回所有错误
func Validate(policies []models.ScalingPolicy) ConfigurationErrors {
	var errs ConfigurationErrors

	if len(policies) == 0 {
		return append(errs, ConfigurationError{
			Field:   "policies",
			Message: "at least one scaling policy is required",
		})
	}

	seen := make(map[string]int, len(policies))
	for i, p := range policies {
		field := fmt.Sprintf("policies[%d]", i)

		if p.Name == "" {
			errs = append(errs, ConfigurationError{Field: field + ".name", Message: "policy name must not be empty"})
		} else if first, dup := seen[p.Name]; dup {
			errs = append(errs, ConfigurationError{
				Field:   field + ".name",
				Value:   p.Name,
				Message: fmt.Sprintf("duplicate policy name (first defined at policies[%d])", first),
			})
		} else {
			seen[p.Name] = i
		}

		if len(p.EnabledPeriods) == 0 {
			errs = append(errs, ConfigurationError{Field: field + ".enabled_periods", Message: "at least one enabled period is required"})
		}
		for j, period := range p.EnabledPeriods {
			errs = append(errs, validatePeriod(fmt.Sprintf("%s.enabled_periods[%d]", field, j), period)...)
		}

		errs = append(errs, validateParameters(field, p)...)
	}

	return errs
}

func validatePeriod(field string, period models.TimePeriod) []ConfigurationError {
	var errs []ConfigurationError

	if period.Name == "" {
		errs = append(errs, ConfigurationError{Field: field + ".name", Message: "period name must not be empty"})
	}

	switch period.Type {
	case models.PeriodAlways:
	case models.PeriodWeeklyRecurring:
		if len(period.Days) == 0 {
			errs = append(errs, ConfigurationError{Field: field + ".days", Message: "at least one weekday is required"})
		}
		for _, d := range period.Days {
			if d < time.Sunday || d > time.Saturday {
				errs = append(errs, ConfigurationError{Field: field + ".days", Value: int(d), Message: "weekday out of range"})
			}
		}
		if period.Start < 0 || period.Start >= models.EndOfDay {
			errs = append(errs, ConfigurationError{Field: field + ".start_time_utc", Value: period.Start, Message: "must be within [00:00, 24:00)"})
		}
		if period.End < 0 || period.End > models.EndOfDay {
			errs = append(errs, ConfigurationError{Field: field + ".end_time_utc", Value: period.End, Message: "must be within [00:00, 24:00]"})
		}
		if period.Start == period.End {
			errs = append(errs, ConfigurationError{Field: field, Value: period.Start, Message: "zero-length window (start equals end)"})
		}
	default:
		errs = append(errs, ConfigurationError{Field: field + ".type", Value: period.Type, Message: "unknown period type"})
	}

	return errs
}

func validateParameters(field string, p models.ScalingPolicy) []ConfigurationError {
	var errs []ConfigurationError

	switch p.Type {
	case models.PolicyFixed:
		if p.Fixed == nil {
			return append(errs, ConfigurationError{Field: field + ".fixed", Message: "fixed policy parameters are missing"})
		}
		if p.Fixed.SlotsCount < 0 {
			errs = append(errs, ConfigurationError{Field: field + ".slots_count", Value: p.Fixed.SlotsCount, Message: "must be >= 0"})
		}
		errs = append(errs, checkSlotCount(field+".slots_count", p.Fixed.SlotsCount)...)

	case models.PolicyManagedTasksQueue:
		m := p.ManagedQueue
		if m == nil {
			return append(errs, ConfigurationError{Field: field + ".managed_tasks_queue", Message: "managed tasks queue policy parameters are missing"})
		}
		if m.MinTotalSlots < 0 {
			errs = append(errs, ConfigurationError{Field: field + ".min_total_slots", Value: m.MinTotalSlots, Message: "must be >= 0"})
		}
		if m.MinTotalSlots > m.MaxTotalSlots {
			errs = append(errs, ConfigurationError{
				Field:   field + ".max_total_slots",
				Value:   m.MaxTotalSlots,
				Message: fmt.Sprintf("must be >= min_total_slots (%d)", m.MinTotalSlots),
			})
		}
		if m.MinIdleSlots < 0 {
			errs = append(errs, ConfigurationError{Field: field + ".min_idle_slots", Value: m.MinIdleSlots, Message: "must be >= 0"})
		}
		errs = append(errs, checkSlotCount(field+".min_total_slots", m.MinTotalSlots)...)
		errs = append(errs, checkSlotCount(field+".max_total_slots", m.MaxTotalSlots)...)
		errs = append(errs, checkSlotCount(field+".min_idle_slots", m.MinIdleSlots)...)
		if m.MinIdleTimeSeconds < 0 {
			errs = append(errs, ConfigurationError{Field: field + ".min_idle_time_seconds", Value: m.MinIdleTimeSeconds, Message: "must be >= 0"})
		}
		if math.IsNaN(m.ScalingFactor) || m.ScalingFactor <= 0 || m.ScalingFactor > 1 {
			errs = append(errs, ConfigurationError{Field: field + ".scaling_factor", Value: m.ScalingFactor, Message: "must be within (0, 1]"})
		}

	default:
		errs = append(errs, ConfigurationError{Field: field + ".type", Value: p.Type, Message: "unknown policy type"})
	}

	return errs
}

// Diagnose 找出被 always 策略遮蔽的后续策略
// 只报告第一个遮蔽点，其后的策略（包括其他 always 策略）都列为不可达
func Diagnose(policies []models.ScalingPolicy) []UnreachablePolicyWarning {
	for i, p := range policies {
		if !p.AlwaysEnabled() || i == len(policies)-1 {
			continue
		}

		unreachable := make([]string, 0, len(policies)-i-1)
		for _, later := range policies[i+1:] {
			unreachable = append(unreachable, later.Name)
		}
		return []UnreachablePolicyWarning{{
			Policy:      p.Name,
			Index:       i,
			Unreachable: unreachable,
		}}
	}
	return nil
}

func clonePolicy(p models.ScalingPolicy) models.ScalingPolicy {
	out := p
	out.EnabledPeriods = make([]models.TimePeriod, len(p.EnabledPeriods))
	for i, period := range p.EnabledPeriods {
		period.Days = append([]time.Weekday(nil), period.Days...)
		out.EnabledPeriods[i] = period
	}
	if p.Fixed != nil {
		fixed := *p.Fixed
		out.Fixed = &fixed
	}
	if p.ManagedQueue != nil {
		managed := *p.ManagedQueue
		out.ManagedQueue = &managed
	}
	return out
}

// checkSlotCount 槽位数不能超过工作负载副本数的表示范围
func checkSlotCount(field string, n int) []ConfigurationError {
	if n > models.MaxSlotCount {
		return []ConfigurationError{{Field: field, Value: n, Message: fmt.Sprintf("must be <= %d", models.MaxSlotCount)}}
	}
	return nil
}
