package models

import (
	"sort"
	"time"
)

// IdleSlot 空闲槽位
type IdleSlot struct {
	SlotID   string    `json:"slot_id"`
	LastBusy time.Time `json:"last_busy"` // 最近一次忙碌结束的时间
}

// IdleFor 截至 now 的连续空闲时长
func (s IdleSlot) IdleFor(now time.Time) time.Duration {
	if now.Before(s.LastBusy) {
		return 0
	}
	return now.Sub(s.LastBusy)
}

// PoolState 资源池状态快照
type PoolState struct {
	QueuedTaskCount  int        `json:"queued_task_count"`
	TotalSlots       int        `json:"total_slots"`
	IdleSlots        []IdleSlot `json:"idle_slots"`
	LastScaleUp      time.Time  `json:"last_scale_up,omitempty"`
	LastEvaluation   time.Time  `json:"last_evaluation,omitempty"`
	LastQueueUpdate  time.Time  `json:"last_queue_update,omitempty"`
	LastSlotActivity time.Time  `json:"last_slot_activity,omitempty"`
}

// IdleCount 空闲槽位数
func (s *PoolState) IdleCount() int {
	return len(s.IdleSlots)
}

// Clone 深拷贝
func (s PoolState) Clone() PoolState {
	out := s
	out.IdleSlots = append([]IdleSlot(nil), s.IdleSlots...)
	return out
}

// SortIdleSlotsByAge 按空闲时长从长到短排序（LastBusy 越早越靠前）
func SortIdleSlotsByAge(slots []IdleSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].LastBusy.Equal(slots[j].LastBusy) {
			return slots[i].SlotID < slots[j].SlotID
		}
		return slots[i].LastBusy.Before(slots[j].LastBusy)
	})
}

// ScalingDecision 单次评估结果
type ScalingDecision struct {
	ActivePolicyName  string    `json:"active_policy_name,omitempty"` // 为空表示没有生效策略
	TargetTotalSlots  int       `json:"target_total_slots"`
	CurrentTotalSlots int       `json:"current_total_slots"`
	Step              int       `json:"step"`
	Reason            string    `json:"reason"`
	EvaluatedAt       time.Time `json:"evaluated_at"`
	// 缩容时优先移除的槽位（空闲最久的在前）
	RemovalCandidates []string `json:"removal_candidates,omitempty"`
}

// HasActivePolicy 是否存在生效策略
func (d *ScalingDecision) HasActivePolicy() bool {
	return d.ActivePolicyName != ""
}

// IsScaleUp 是否扩容
func (d *ScalingDecision) IsScaleUp() bool {
	return d.TargetTotalSlots > d.CurrentTotalSlots
}

// ScaleRequest 发送给执行方的伸缩请求
type ScaleRequest struct {
	ID                 string    `json:"id"`
	Pool               string    `json:"pool"`
	TargetTotalSlots   int       `json:"target_total_slots"`
	PreviousTotalSlots int       `json:"previous_total_slots"`
	PolicyName         string    `json:"policy_name"`
	RequestedAt        time.Time `json:"requested_at"`
	RemovalCandidates  []string  `json:"removal_candidates,omitempty"`
}

// IsScaleDown 是否缩容
func (r *ScaleRequest) IsScaleDown() bool {
	return r.TargetTotalSlots < r.PreviousTotalSlots
}

// Observation 对外暴露的最新评估结果
type Observation struct {
	Pool             string    `json:"pool"`
	ActivePolicyName string    `json:"active_policy_name"`
	TargetTotalSlots int       `json:"target_total_slots"`
	EvaluatedAt      time.Time `json:"evaluated_at,omitempty"`
	Phase            string    `json:"phase"`
	Reason           string    `json:"reason,omitempty"`
	Warnings         []string  `json:"warnings,omitempty"`
}
