package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Manager 定期轮询各数据源并写入 Sink
type Manager struct {
	// 数据源
	slotSource     SlotSource
	queueSource    QueueSource
	capacitySource CapacitySource

	sink Sink

	// 配置
	interval time.Duration
	logger   *logrus.Logger

	// 最近一次采集的统计
	lastCollect time.Time
	lastErr     error
	statsMutex  sync.RWMutex

	// 控制
	stopChan chan struct{}
	running  bool
	runMutex sync.Mutex
}

// ManagerConfig 管理器配置
type ManagerConfig struct {
	CollectInterval time.Duration // 采集间隔
	Slots           SlotSource    // 可选
	Queue           QueueSource   // 可选
	Capacity        CapacitySource
}

// NewManager 创建指标管理器
func NewManager(sink Sink, config ManagerConfig, logger *logrus.Logger) (*Manager, error) {
	if sink == nil {
		return nil, fmt.Errorf("metrics sink is required")
	}
	if config.CollectInterval <= 0 {
		return nil, fmt.Errorf("collect interval must be positive, got %v", config.CollectInterval)
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	manager := &Manager{
		slotSource:     config.Slots,
		queueSource:    config.Queue,
		capacitySource: config.Capacity,
		sink:           sink,
		interval:       config.CollectInterval,
		logger:         logger,
		stopChan:       make(chan struct{}),
	}

	if config.Slots != nil {
		logger.Info("Slot usage collector enabled")
	}
	if config.Queue != nil {
		logger.Info("Queue depth collector enabled")
	}
	if config.Capacity != nil {
		logger.Info("Capacity collector enabled")
	}

	return manager, nil
}

// Start 启动定期采集
func (m *Manager) Start(ctx context.Context) error {
	m.runMutex.Lock()
	if m.running {
		m.runMutex.Unlock()
		return fmt.Errorf("metrics manager is already running")
	}
	m.running = true
	m.runMutex.Unlock()

	defer func() {
		m.runMutex.Lock()
		m.running = false
		m.runMutex.Unlock()
	}()

	m.logger.Infof("Starting metrics manager with interval: %v", m.interval)

	// 立即采集一次
	if err := m.Collect(ctx); err != nil {
		m.logger.Errorf("Initial metrics collection failed: %v", err)
	}

	// 定期采集
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Metrics manager stopped by context")
			return nil

		case <-m.stopChan:
			m.logger.Info("Metrics manager stopped")
			return nil

		case <-ticker.C:
			if err := m.Collect(ctx); err != nil {
				m.logger.Errorf("Failed to collect metrics: %v", err)
			}
		}
	}
}

// Stop 停止采集
func (m *Manager) Stop() error {
	m.runMutex.Lock()
	defer m.runMutex.Unlock()

	if !m.running {
		return fmt.Errorf("metrics manager is not running")
	}

	close(m.stopChan)
	m.running = false
	return nil
}

// Collect 执行一次采集
// 各数据源并发采集，结果写入sink；返回第一个错误，其余只记录日志
func (m *Manager) Collect(ctx context.Context) error {
	startTime := time.Now()

	var wg sync.WaitGroup
	var slotErr, queueErr, capacityErr error
	var slotCount int

	if m.slotSource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events, err := m.slotSource.CollectSlotEvents(ctx)
			if err != nil {
				slotErr = err
				m.logger.Errorf("Failed to collect slot events: %v", err)
				return
			}
			for _, event := range events {
				if m.sink.ObserveSlot(event) {
					slotCount++
				}
			}
		}()
	}

	if m.queueSource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := m.queueSource.CollectQueueDepth(ctx)
			if err != nil {
				queueErr = err
				m.logger.Errorf("Failed to collect queue depth: %v", err)
				return
			}
			m.sink.ObserveQueue(snapshot)
		}()
	}

	if m.capacitySource != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, err := m.capacitySource.CollectCapacity(ctx)
			if err != nil {
				capacityErr = err
				m.logger.Errorf("Failed to collect capacity: %v", err)
				return
			}
			m.sink.ObserveCapacity(snapshot)
		}()
	}

	wg.Wait()

	var firstErr error
	for _, err := range []error{slotErr, queueErr, capacityErr} {
		if err != nil {
			firstErr = err
			break
		}
	}

	m.statsMutex.Lock()
	m.lastCollect = startTime
	m.lastErr = firstErr
	m.statsMutex.Unlock()

	m.logger.Debugf("Metrics collection completed in %v (slot events: %d)", time.Since(startTime), slotCount)
	return firstErr
}

// LastCollect 最近一次采集的时间和错误
func (m *Manager) LastCollect() (time.Time, error) {
	m.statsMutex.RLock()
	defer m.statsMutex.RUnlock()
	return m.lastCollect, m.lastErr
}
