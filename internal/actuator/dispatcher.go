package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/poolscaler/pkg/models"
)

// Scaler 实际执行伸缩的后端，调用会阻塞直到完成
type Scaler interface {
	Scale(ctx context.Context, req models.ScaleRequest) error
}

// ScalerFunc 函数适配器
type ScalerFunc func(ctx context.Context, req models.ScaleRequest) error

// Scale implements Scaler
func (f ScalerFunc) Scale(ctx context.Context, req models.ScaleRequest) error {
	return f(ctx, req)
}

// Stats 执行统计
type Stats struct {
	Applied    int // 成功执行
	Failed     int // 执行失败
	Superseded int // 未执行就被更新的请求替换
	Skipped    int // 与最近一次执行的目标相同
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDedupeWindow 在该时间窗口内跳过与上次成功执行相同的目标
func WithDedupeWindow(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.dedupeWindow = d }
}

// WithApplyTimeout 单次执行的超时时间
func WithApplyTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.applyTimeout = d }
}

// Dispatcher 异步执行伸缩请求
// Request 不阻塞；只保留最新的待执行请求，旧请求被丢弃
type Dispatcher struct {
	scaler Scaler
	logger *logrus.Logger

	dedupeWindow time.Duration
	applyTimeout time.Duration

	mu          sync.Mutex
	pending     *models.ScaleRequest
	lastApplied *models.ScaleRequest
	appliedAt   time.Time
	stats       Stats

	notify chan struct{}
	now    func() time.Time
}

// NewDispatcher 创建执行器
func NewDispatcher(scaler Scaler, logger *logrus.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	d := &Dispatcher{
		scaler:       scaler,
		logger:       logger,
		dedupeWindow: 30 * time.Second,
		applyTimeout: 30 * time.Second,
		notify:       make(chan struct{}, 1),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Request 提交伸缩请求，立即返回
func (d *Dispatcher) Request(req models.ScaleRequest) {
	d.mu.Lock()
	if d.pending != nil {
		d.stats.Superseded++
		d.logger.Debugf("Scale request %s superseded by %s", d.pending.ID, req.ID)
	}
	r := req
	d.pending = &r
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Run 处理请求，直到ctx取消
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Starting scale dispatcher")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Scale dispatcher stopped")
			return nil
		case <-d.notify:
			d.drain(ctx)
		}
	}
}

// drain 执行当前待处理的请求
func (d *Dispatcher) drain(ctx context.Context) {
	d.mu.Lock()
	req := d.pending
	d.pending = nil
	if req != nil && d.isDuplicate(req) {
		d.stats.Skipped++
		d.mu.Unlock()
		d.logger.Debugf("Skipping scale request %s: target %d already applied", req.ID, req.TargetTotalSlots)
		return
	}
	d.mu.Unlock()

	if req == nil {
		return
	}

	applyCtx := ctx
	if d.applyTimeout > 0 {
		var cancel context.CancelFunc
		applyCtx, cancel = context.WithTimeout(ctx, d.applyTimeout)
		defer cancel()
	}

	fields := logrus.Fields{
		"request_id": req.ID,
		"pool":       req.Pool,
		"policy":     req.PolicyName,
		"from":       req.PreviousTotalSlots,
		"to":         req.TargetTotalSlots,
	}

	if err := d.scaler.Scale(applyCtx, *req); err != nil {
		d.mu.Lock()
		d.stats.Failed++
		d.mu.Unlock()
		d.logger.WithFields(fields).Errorf("Failed to apply scale request: %v", err)
		return
	}

	d.mu.Lock()
	d.stats.Applied++
	d.lastApplied = req
	d.appliedAt = d.now()
	d.mu.Unlock()

	d.logger.WithFields(fields).Info("Scale request applied")
}

// isDuplicate 调用方持有锁
func (d *Dispatcher) isDuplicate(req *models.ScaleRequest) bool {
	if d.lastApplied == nil || d.dedupeWindow <= 0 {
		return false
	}
	if d.lastApplied.TargetTotalSlots != req.TargetTotalSlots {
		return false
	}
	return d.now().Sub(d.appliedAt) < d.dedupeWindow
}

// LastApplied 最近一次成功执行的请求
func (d *Dispatcher) LastApplied() (models.ScaleRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastApplied == nil {
		return models.ScaleRequest{}, false
	}
	return *d.lastApplied, true
}

// Stats 返回执行统计
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// LogScaler 只记录日志的Scaler（dry-run）
type LogScaler struct {
	Logger *logrus.Logger
}

// Scale implements Scaler
func (s LogScaler) Scale(ctx context.Context, req models.ScaleRequest) error {
	s.Logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"pool":       req.Pool,
		"policy":     req.PolicyName,
		"candidates": req.RemovalCandidates,
	}).Infof("[dry-run] would scale pool from %d to %d slots", req.PreviousTotalSlots, req.TargetTotalSlots)
	return nil
}
