package scaling

import (
	"fmt"
	"math"
	"time"

	"github.com/yourusername/poolscaler/pkg/models"
)

// ceilTolerance 避免 0.1*30 这类浮点误差多算一个槽位
const ceilTolerance = 1e-9

// Option configures an Engine.
type Option func(*Engine)

// WithScaleUpCooldown 两次扩容之间的最小间隔
// 0 表示沿用策略的 MinIdleTime，负数表示不限制
func WithScaleUpCooldown(d time.Duration) Option {
	return func(e *Engine) { e.scaleUpCooldown = d }
}

// Engine 计算目标槽位数
// 无内部可变状态，可并发使用
type Engine struct {
	scaleUpCooldown time.Duration
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ScaleUpCooldown returns the configured cooldown.
func (e *Engine) ScaleUpCooldown() time.Duration {
	return e.scaleUpCooldown
}

// CooldownFor 返回对策略生效的扩容冷却时间
func (e *Engine) CooldownFor(m *models.ManagedTasksQueueScaling) time.Duration {
	switch {
	case e.scaleUpCooldown > 0:
		return e.scaleUpCooldown
	case e.scaleUpCooldown < 0 || m == nil:
		return 0
	default:
		return m.MinIdleTime()
	}
}

// Decide 在给定策略和资源池状态下计算目标槽位数
// 对合法输入是全函数，不返回错误
func (e *Engine) Decide(policy models.ScalingPolicy, state models.PoolState, now time.Time) models.ScalingDecision {
	current := nonNegative(state.TotalSlots)

	decision := models.ScalingDecision{
		ActivePolicyName:  policy.Name,
		CurrentTotalSlots: current,
		TargetTotalSlots:  current,
		EvaluatedAt:       now,
	}

	switch policy.Type {
	case models.PolicyFixed:
		if policy.Fixed != nil {
			decision.TargetTotalSlots = nonNegative(policy.Fixed.SlotsCount)
			decision.Reason = fmt.Sprintf("fixed policy: %d slots", decision.TargetTotalSlots)
		}
	case models.PolicyManagedTasksQueue:
		if policy.ManagedQueue != nil {
			e.decideManaged(policy.ManagedQueue, state, now, &decision)
		}
	}

	if decision.Reason == "" {
		decision.Reason = fmt.Sprintf("unsupported policy type %q, keeping current size", policy.Type)
	}
	decision.Step = decision.TargetTotalSlots - current
	return decision
}

// NoActivePolicy 没有生效策略时的决策：保持当前规模
func NoActivePolicy(state models.PoolState, now time.Time) models.ScalingDecision {
	current := nonNegative(state.TotalSlots)
	return models.ScalingDecision{
		CurrentTotalSlots: current,
		TargetTotalSlots:  current,
		Reason:            "no active policy",
		EvaluatedAt:       now,
	}
}

func (e *Engine) decideManaged(m *models.ManagedTasksQueueScaling, state models.PoolState, now time.Time, d *models.ScalingDecision) {
	current := d.CurrentTotalSlots
	idle := state.IdleCount()
	queued := nonNegative(state.QueuedTaskCount)

	// 排队任务优先占用空闲槽位，放不下的部分计入积压
	available := nonNegative(idle - queued)
	backlog := nonNegative(queued - idle)
	target := current

	switch {
	case available < m.MinIdleSlots || backlog > 0:
		missing := m.MinIdleSlots - available + backlog
		limit := StepLimit(m)
		increase := missing
		if increase > limit {
			increase = limit
		}

		if cooldown := e.CooldownFor(m); inCooldown(cooldown, state, now) {
			d.Reason = fmt.Sprintf("%d idle slots needed but scale-up cooldown active until %s",
				missing, state.LastScaleUp.Add(cooldown).UTC().Format(time.RFC3339))
		} else {
			target = current + increase
			d.Reason = fmt.Sprintf("%d available idle slots (%d idle, %d queued) below minimum %d: +%d of %d needed (step limit %d)",
				available, idle, queued, m.MinIdleSlots, increase, missing, limit)
		}

	case available > m.MinIdleSlots:
		surplus := available - m.MinIdleSlots
		candidates := RemovalCandidates(state.IdleSlots, surplus, m.MinIdleTime(), now)
		target = current - len(candidates)
		d.RemovalCandidates = slotIDs(candidates)
		d.Reason = fmt.Sprintf("%d surplus idle slots, %d idle for at least %s", surplus, len(candidates), m.MinIdleTime())

	default:
		d.Reason = fmt.Sprintf("idle headroom satisfied (%d idle, %d queued)", idle, queued)
	}

	clamped := clamp(target, m.MinTotalSlots, m.MaxTotalSlots)
	if clamped != target {
		d.Reason += fmt.Sprintf("; clamped %d to [%d, %d]", target, m.MinTotalSlots, m.MaxTotalSlots)
		if clamped > target {
			d.RemovalCandidates = trimCandidates(d.RemovalCandidates, current-clamped)
		}
	}
	d.TargetTotalSlots = clamped
}

func inCooldown(cooldown time.Duration, state models.PoolState, now time.Time) bool {
	if cooldown <= 0 || state.LastScaleUp.IsZero() {
		return false
	}
	return now.Sub(state.LastScaleUp) < cooldown
}

// StepLimit 单次评估最多增加的槽位数: ceil(scalingFactor * maxTotalSlots)
func StepLimit(m *models.ManagedTasksQueueScaling) int {
	limit := int(math.Ceil(m.ScalingFactor*float64(m.MaxTotalSlots) - ceilTolerance))
	return nonNegative(limit)
}

// RemovalCandidates 从空闲最久的槽位开始，选出最多 surplus 个空闲时长达到阈值的槽位
func RemovalCandidates(idle []models.IdleSlot, surplus int, threshold time.Duration, now time.Time) []models.IdleSlot {
	if surplus <= 0 || len(idle) == 0 {
		return nil
	}

	sorted := append([]models.IdleSlot(nil), idle...)
	models.SortIdleSlotsByAge(sorted)

	var out []models.IdleSlot
	for _, slot := range sorted {
		if len(out) == surplus {
			break
		}
		if slot.IdleFor(now) < threshold {
			// 之后的槽位空闲时间更短
			break
		}
		out = append(out, slot)
	}
	return out
}

func slotIDs(slots []models.IdleSlot) []string {
	if len(slots) == 0 {
		return nil
	}
	ids := make([]string, len(slots))
	for i, s := range slots {
		ids[i] = s.SlotID
	}
	return ids
}

func trimCandidates(ids []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if n < len(ids) {
		return ids[:n]
	}
	return ids
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
