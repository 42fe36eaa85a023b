package policy

import (
	"time"

	"github.com/yourusername/poolscaler/pkg/models"
)

// MatchingPeriod 返回策略中第一个覆盖 now 的时间段
func MatchingPeriod(p models.ScalingPolicy, now time.Time) (models.TimePeriod, bool) {
	for _, period := range p.EnabledPeriods {
		if Matches(period, now) {
			return period, true
		}
	}
	return models.TimePeriod{}, false
}

// IsEnabled 策略在 now 是否启用
func IsEnabled(p models.ScalingPolicy, now time.Time) bool {
	_, ok := MatchingPeriod(p, now)
	return ok
}

// SelectActive 按列表顺序返回第一个启用的策略
// 没有策略启用时返回 false，这不是错误
func SelectActive(policies []models.ScalingPolicy, now time.Time) (models.ScalingPolicy, bool) {
	for _, p := range policies {
		if IsEnabled(p, now) {
			return p, true
		}
	}
	return models.ScalingPolicy{}, false
}
