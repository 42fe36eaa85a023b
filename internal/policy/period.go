package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yourusername/poolscaler/pkg/models"
)

// Matches 判断时间段是否覆盖 now（按UTC计算）
// 零长度区间 (start == end) 不匹配任何时刻
func Matches(period models.TimePeriod, now time.Time) bool {
	switch period.Type {
	case models.PeriodAlways:
		return true
	case models.PeriodWeeklyRecurring:
		return matchesWeekly(period, now.UTC())
	default:
		return false
	}
}

func matchesWeekly(period models.TimePeriod, now time.Time) bool {
	start, end := period.Start, period.End
	if start == end {
		return false
	}

	tod := models.TimeOfDayOf(now)
	if start < end {
		return tod >= start && tod < end && hasDay(period.Days, now.Weekday())
	}

	// 跨零点：零点之后的部分属于窗口开启的那一天
	if tod >= start {
		return hasDay(period.Days, now.Weekday())
	}
	if tod < end {
		return hasDay(period.Days, previousDay(now.Weekday()))
	}
	return false
}

func hasDay(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

func previousDay(day time.Weekday) time.Weekday {
	return (day + 6) % 7
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// ParseWeekday 解析星期名（英文全称或三字母缩写，不区分大小写）
func ParseWeekday(s string) (time.Weekday, error) {
	day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return time.Sunday, fmt.Errorf("unknown weekday %q", s)
	}
	return day, nil
}

var endOfDayPattern = regexp.MustCompile(`^24:00(:00(\.0+)?)?$`)

// ParseTimeOfDay 解析 ISO-8601 时刻: HH:MM, HH:MM:SS, HH:MM:SS.fffffffff
// 允许 24:00[:00[.000]] 表示一天结束
func ParseTimeOfDay(s string) (models.TimeOfDay, error) {
	raw := strings.TrimSuffix(strings.TrimSpace(s), "Z")
	if raw == "" {
		return 0, fmt.Errorf("empty time of day")
	}

	if strings.HasPrefix(raw, "24:") {
		if !endOfDayPattern.MatchString(raw) {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
		return models.EndOfDay, nil
	}

	layout := "15:04:05"
	if strings.Count(raw, ":") == 1 {
		layout = "15:04"
	}

	t, err := time.Parse(layout, raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return models.NewTimeOfDay(t.Hour(), t.Minute(), t.Second(), t.Nanosecond()), nil
}
