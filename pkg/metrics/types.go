package metrics

import (
	"time"
)

// SlotEvent 槽位忙闲状态上报
type SlotEvent struct {
	SlotID    string    `json:"slot_id"`
	Busy      bool      `json:"busy"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"` // annotation, cpu, agent ...
}

// QueueSnapshot 任务队列深度
type QueueSnapshot struct {
	QueuedTaskCount int       `json:"queued_task_count"`
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source,omitempty"`
}

// CapacitySnapshot 执行方上报的已供给槽位总数
type CapacitySnapshot struct {
	TotalSlots int       `json:"total_slots"`
	Timestamp  time.Time `json:"timestamp"`
}

// SlotUsage 单个槽位的资源使用（来自metrics-server）
type SlotUsage struct {
	SlotID     string    `json:"slot_id"`
	CPUUsage   int64     `json:"cpu_usage"`   // 毫核
	CPURequest int64     `json:"cpu_request"` // 毫核
	Timestamp  time.Time `json:"timestamp"`
}

// Valid 检查事件是否可用
func (e *SlotEvent) Valid() bool {
	return e.SlotID != "" && !e.Timestamp.IsZero()
}

// Valid 检查快照是否可用
func (q *QueueSnapshot) Valid() bool {
	return q.QueuedTaskCount >= 0 && !q.Timestamp.IsZero()
}

// UsageRate CPU使用率（相对于request, 0-100）
func (u *SlotUsage) UsageRate() float64 {
	if u.CPURequest <= 0 {
		return 0
	}
	return float64(u.CPUUsage) / float64(u.CPURequest) * 100.0
}
