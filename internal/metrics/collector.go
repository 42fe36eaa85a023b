package metrics

import (
	"context"

	mt "github.com/yourusername/poolscaler/pkg/metrics"
)

// SlotSource 轮询式槽位忙闲数据源
type SlotSource interface {
	// CollectSlotEvents 采集所有槽位的当前状态
	CollectSlotEvents(ctx context.Context) ([]mt.SlotEvent, error)
}

// QueueSource 任务队列深度数据源
type QueueSource interface {
	// CollectQueueDepth 采集排队任务数
	CollectQueueDepth(ctx context.Context) (mt.QueueSnapshot, error)
}

// CapacitySource 已供给槽位总数数据源
type CapacitySource interface {
	// CollectCapacity 采集槽位总数
	CollectCapacity(ctx context.Context) (mt.CapacitySnapshot, error)
}

// Sink 遥测数据的接收方（Tracker）
type Sink interface {
	ObserveSlot(event mt.SlotEvent) bool
	ObserveQueue(snapshot mt.QueueSnapshot) bool
	ObserveCapacity(snapshot mt.CapacitySnapshot)
}

var _ Sink = (*Tracker)(nil)
