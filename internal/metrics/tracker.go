package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	metricstypes "github.com/yourusername/poolscaler/pkg/metrics"
	"github.com/yourusername/poolscaler/pkg/models"
)

// slotState 单个槽位的最新状态
type slotState struct {
	busy      bool
	lastEvent time.Time
	idleSince time.Time // busy=false 时有效
}

// Tracker 槽位活动跟踪器
// 遥测数据的唯一写入方，读取方通过 Snapshot 获取副本
type Tracker struct {
	mu sync.RWMutex

	slots map[string]*slotState

	queued          int
	lastQueueUpdate time.Time

	capacity         int
	hasCapacity      bool
	lastSlotActivity time.Time

	logger *logrus.Logger
}

// NewTracker 创建跟踪器
func NewTracker(logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}
	return &Tracker{
		slots:  make(map[string]*slotState),
		logger: logger,
	}
}

// ObserveSlot 记录槽位忙闲事件
// 早于该槽位最新事件的上报会被丢弃，返回 false
func (t *Tracker) ObserveSlot(event metricstypes.SlotEvent) bool {
	if !event.Valid() {
		t.logger.Debugf("Dropping invalid slot event: %+v", event)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.slots[event.SlotID]
	if !exists {
		s = &slotState{}
		t.slots[event.SlotID] = s
	} else if event.Timestamp.Before(s.lastEvent) {
		t.logger.Debugf("Ignoring out-of-order event for slot %s (%s < %s)",
			event.SlotID, event.Timestamp.Format(time.RFC3339Nano), s.lastEvent.Format(time.RFC3339Nano))
		return false
	}

	switch {
	case event.Busy:
		s.busy = true
		s.idleSince = time.Time{}
	case !exists || s.busy:
		// 忙 -> 闲，或首次出现即为空闲
		s.busy = false
		s.idleSince = event.Timestamp
	}
	// 已空闲的槽位重复上报空闲时保留最早的空闲起点

	s.lastEvent = event.Timestamp
	if event.Timestamp.After(t.lastSlotActivity) {
		t.lastSlotActivity = event.Timestamp
	}
	return true
}

// ObserveQueue 记录任务队列深度
func (t *Tracker) ObserveQueue(snapshot metricstypes.QueueSnapshot) bool {
	if !snapshot.Valid() {
		t.logger.Debugf("Dropping invalid queue snapshot: %+v", snapshot)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if snapshot.Timestamp.Before(t.lastQueueUpdate) {
		return false
	}
	t.queued = snapshot.QueuedTaskCount
	t.lastQueueUpdate = snapshot.Timestamp
	return true
}

// ObserveCapacity 记录执行方上报的槽位总数
func (t *Tracker) ObserveCapacity(snapshot metricstypes.CapacitySnapshot) {
	if snapshot.TotalSlots < 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.capacity = snapshot.TotalSlots
	t.hasCapacity = true
}

// RemoveSlot 槽位被回收后删除
func (t *Tracker) RemoveSlot(slotID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.slots[slotID]; ok {
		delete(t.slots, slotID)
		t.logger.Debugf("Slot %s removed from tracker", slotID)
	}
}

// SlotCount 已跟踪的槽位数
func (t *Tracker) SlotCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// Snapshot 返回资源池状态的一致副本
// 空闲槽位按空闲时长从长到短排列
func (t *Tracker) Snapshot() models.PoolState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := models.PoolState{
		QueuedTaskCount:  t.queued,
		TotalSlots:       len(t.slots),
		LastQueueUpdate:  t.lastQueueUpdate,
		LastSlotActivity: t.lastSlotActivity,
		IdleSlots:        make([]models.IdleSlot, 0, len(t.slots)),
	}
	if t.hasCapacity {
		state.TotalSlots = t.capacity
	}

	for id, s := range t.slots {
		if s.busy {
			continue
		}
		state.IdleSlots = append(state.IdleSlots, models.IdleSlot{SlotID: id, LastBusy: s.idleSince})
	}
	models.SortIdleSlotsByAge(state.IdleSlots)

	return state
}

// SlotIDs 已跟踪的槽位ID（排序后）
func (t *Tracker) SlotIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.slots))
	for id := range t.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
