package models

import (
	"fmt"
	"math"
	"time"
)

// MaxSlotCount 槽位数上限，工作负载副本数是 int32
const MaxSlotCount = math.MaxInt32

// PeriodType 时间段类型
type PeriodType string

const (
	PeriodAlways          PeriodType = "always"
	PeriodWeeklyRecurring PeriodType = "weekly_recurring"
)

// PolicyType 伸缩策略类型
type PolicyType string

const (
	PolicyFixed             PolicyType = "fixed"
	PolicyManagedTasksQueue PolicyType = "managed_tasks_queue"
)

// TimeOfDay 一天中的时刻（UTC，自零点起的偏移，纳秒精度）
// 取值范围 [0, 24h]，24h 仅用于表示区间右端的"一天结束"
type TimeOfDay time.Duration

// EndOfDay 表示 24:00:00
const EndOfDay = TimeOfDay(24 * time.Hour)

// NewTimeOfDay 由时分秒构造
func NewTimeOfDay(hour, minute, second, nanos int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second +
		time.Duration(nanos))
}

// TimeOfDayOf 取时间点在 UTC 下的时刻
func TimeOfDayOf(t time.Time) TimeOfDay {
	t = t.UTC()
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second(), t.Nanosecond())
}

// String 以 ISO-8601 扩展格式输出
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ns := d - s*time.Second
	if ns == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%09d", h, m, s, ns)
}

// TimePeriod 策略生效时间段
// Type 为 always 时其余字段无意义
type TimePeriod struct {
	Name  string         `json:"name"`
	Type  PeriodType     `json:"type"`
	Days  []time.Weekday `json:"days,omitempty"`
	Start TimeOfDay      `json:"start_time_utc,omitempty"`
	End   TimeOfDay      `json:"end_time_utc,omitempty"`
}

// AlwaysPeriod 构造任意时刻都匹配的时间段
func AlwaysPeriod(name string) TimePeriod {
	return TimePeriod{Name: name, Type: PeriodAlways}
}

// WeeklyPeriod 构造按周重复的时间段
func WeeklyPeriod(name string, days []time.Weekday, start, end TimeOfDay) TimePeriod {
	return TimePeriod{
		Name:  name,
		Type:  PeriodWeeklyRecurring,
		Days:  append([]time.Weekday(nil), days...),
		Start: start,
		End:   end,
	}
}

// FixedScaling 固定槽位数策略参数
type FixedScaling struct {
	SlotsCount int `json:"slots_count"`
}

// ManagedTasksQueueScaling 基于任务队列的弹性策略参数
type ManagedTasksQueueScaling struct {
	MinTotalSlots      int     `json:"min_total_slots"`
	MaxTotalSlots      int     `json:"max_total_slots"`
	MinIdleSlots       int     `json:"min_idle_slots"`
	MinIdleTimeSeconds int     `json:"min_idle_time_seconds"`
	ScalingFactor      float64 `json:"scaling_factor"`
}

// MinIdleTime 空闲阈值
func (m *ManagedTasksQueueScaling) MinIdleTime() time.Duration {
	return time.Duration(m.MinIdleTimeSeconds) * time.Second
}

// ScalingPolicy 伸缩策略
// 按 Type 只填充 Fixed 或 ManagedQueue 其中之一
type ScalingPolicy struct {
	Name           string                    `json:"name"`
	Type           PolicyType                `json:"type"`
	EnabledPeriods []TimePeriod              `json:"enabled_periods"`
	Fixed          *FixedScaling             `json:"fixed,omitempty"`
	ManagedQueue   *ManagedTasksQueueScaling `json:"managed_tasks_queue,omitempty"`
}

// NewFixedPolicy 构造固定策略
func NewFixedPolicy(name string, periods []TimePeriod, slotsCount int) ScalingPolicy {
	return ScalingPolicy{
		Name:           name,
		Type:           PolicyFixed,
		EnabledPeriods: append([]TimePeriod(nil), periods...),
		Fixed:          &FixedScaling{SlotsCount: slotsCount},
	}
}

// NewManagedTasksQueuePolicy 构造弹性策略
func NewManagedTasksQueuePolicy(name string, periods []TimePeriod, params ManagedTasksQueueScaling) ScalingPolicy {
	p := params
	return ScalingPolicy{
		Name:           name,
		Type:           PolicyManagedTasksQueue,
		EnabledPeriods: append([]TimePeriod(nil), periods...),
		ManagedQueue:   &p,
	}
}

// AlwaysEnabled 是否存在 always 时间段
func (p *ScalingPolicy) AlwaysEnabled() bool {
	for _, period := range p.EnabledPeriods {
		if period.Type == PeriodAlways {
			return true
		}
	}
	return false
}
