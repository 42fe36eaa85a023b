package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/poolscaler/internal/policy"
	"github.com/yourusername/poolscaler/internal/scaling"
	"github.com/yourusername/poolscaler/pkg/models"

	"k8s.io/utils/clock"
)

// 控制循环状态
const (
	PhaseIdle       = "Idle"
	PhaseEvaluating = "Evaluating"
	PhaseApplying   = "Applying"
)

// Snapshotter 提供资源池状态副本（由 metrics.Tracker 实现）
type Snapshotter interface {
	Snapshot() models.PoolState
}

// Requester 接收伸缩请求，不阻塞（由 actuator.Dispatcher 实现）
type Requester interface {
	Request(req models.ScaleRequest)
}

// Config 控制器配置
type Config struct {
	Pool     string
	Interval time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger 使用指定的日志实例
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock 替换时钟（测试用）
func WithClock(clk clock.WithTicker) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// Controller 伸缩控制循环
// 每个周期读取一次策略配置和资源池快照，计算目标槽位数并提交伸缩请求
type Controller struct {
	logger   *logrus.Logger
	clock    clock.WithTicker
	pool     string
	interval time.Duration

	scaling  atomic.Pointer[policy.Scaling]
	tracker  Snapshotter
	engine   *scaling.Engine
	actuator Requester

	phase atomic.Value // string

	mu             sync.RWMutex
	observation    models.Observation
	lastScaleUp    time.Time
	lastEvaluation time.Time
	lastActive     string
	evaluated      bool

	// 串行化评估，Run 与外部调用 Evaluate 不会交错
	evalMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewController 构造控制器
// 策略配置必须已经通过校验，运行期间不会再出现非法配置
func NewController(s *policy.Scaling, tracker Snapshotter, engine *scaling.Engine, actuator Requester, cfg Config, opts ...Option) (*Controller, error) {
	if s == nil {
		return nil, fmt.Errorf("scaling configuration is required")
	}
	if tracker == nil || actuator == nil {
		return nil, fmt.Errorf("tracker and actuator are required")
	}
	if engine == nil {
		engine = scaling.NewEngine()
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}

	c := &Controller{
		logger:   logger,
		clock:    clock.RealClock{},
		pool:     cfg.Pool,
		interval: cfg.Interval,
		tracker:  tracker,
		engine:   engine,
		actuator: actuator,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.phase.Store(PhaseIdle)
	c.install(s)
	c.observation = models.Observation{Pool: c.pool, Phase: PhaseIdle, Warnings: warningStrings(s)}
	return c, nil
}

// Run 启动控制循环，直到ctx取消或调用Stop
// 启动后立即评估一次，之后每个周期评估一次
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Infof("Starting scaling controller for pool %s (interval: %s)", c.pool, c.interval)

	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.Evaluate(ctx)

		select {
		case <-ctx.Done():
			c.logger.Info("Scaling controller stopped")
			return nil
		case <-c.stopCh:
			c.logger.Info("Scaling controller stopped")
			return nil
		case <-ticker.C():
		}
	}
}

// Stop 停止控制循环；正在进行的评估会完成
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// UpdateScaling 整体替换策略配置
// 下一次评估开始时生效，进行中的评估继续使用旧配置
func (c *Controller) UpdateScaling(s *policy.Scaling) {
	if s == nil {
		return
	}
	c.install(s)
	c.logger.Infof("Scaling configuration updated for pool %s: %s", c.pool, strings.Join(s.Names(), ", "))
}

// Scaling 当前策略配置
func (c *Controller) Scaling() *policy.Scaling {
	return c.scaling.Load()
}

func (c *Controller) install(s *policy.Scaling) {
	c.scaling.Store(s)
	for _, w := range s.Warnings() {
		c.logger.Warn(w.String())
	}
}

// Evaluate 执行一次评估
// 决策路径上没有阻塞I/O，伸缩请求只是入队
func (c *Controller) Evaluate(_ context.Context) models.ScalingDecision {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	c.phase.Store(PhaseEvaluating)
	defer c.phase.Store(PhaseIdle)

	// 每次评估只读取一次配置
	cfg := c.scaling.Load()
	now := c.clock.Now().UTC()

	state := c.tracker.Snapshot()
	c.mu.RLock()
	state.LastScaleUp = c.lastScaleUp
	state.LastEvaluation = c.lastEvaluation
	c.mu.RUnlock()

	active, ok := cfg.SelectActive(now)
	if !ok {
		decision := scaling.NoActivePolicy(state, now)
		c.logNoActivePolicy(decision.CurrentTotalSlots)
		c.record(cfg, decision, now)
		return decision
	}

	decision := c.engine.Decide(active, state, now)
	c.logPolicyChange(active.Name)

	fields := logrus.Fields{
		"pool":    c.pool,
		"policy":  decision.ActivePolicyName,
		"current": decision.CurrentTotalSlots,
		"target":  decision.TargetTotalSlots,
		"idle":    state.IdleCount(),
		"queued":  state.QueuedTaskCount,
	}

	if decision.TargetTotalSlots != decision.CurrentTotalSlots {
		c.phase.Store(PhaseApplying)

		req := models.ScaleRequest{
			ID:                 uuid.NewString(),
			Pool:               c.pool,
			TargetTotalSlots:   decision.TargetTotalSlots,
			PreviousTotalSlots: decision.CurrentTotalSlots,
			PolicyName:         decision.ActivePolicyName,
			RequestedAt:        now,
			RemovalCandidates:  append([]string(nil), decision.RemovalCandidates...),
		}
		c.actuator.Request(req)

		if decision.IsScaleUp() {
			c.mu.Lock()
			c.lastScaleUp = now
			c.mu.Unlock()
		}

		fields["request_id"] = req.ID
		c.logger.WithFields(fields).Infof("Scaling pool: %s", decision.Reason)
	} else {
		c.logger.WithFields(fields).Debugf("No change: %s", decision.Reason)
	}

	c.record(cfg, decision, now)
	return decision
}

// Observation 最近一次评估的结果
// 首次评估前 ActivePolicyName 为空
func (c *Controller) Observation() models.Observation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obs := c.observation
	obs.Warnings = append([]string(nil), c.observation.Warnings...)
	obs.Phase = c.Phase()
	return obs
}

// Phase 控制循环当前状态
func (c *Controller) Phase() string {
	if p, ok := c.phase.Load().(string); ok {
		return p
	}
	return PhaseIdle
}

// LastScaleUp 最近一次扩容请求的时间
func (c *Controller) LastScaleUp() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastScaleUp
}

func (c *Controller) record(cfg *policy.Scaling, decision models.ScalingDecision, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastEvaluation = now
	c.lastActive = decision.ActivePolicyName
	c.evaluated = true
	c.observation = models.Observation{
		Pool:             c.pool,
		ActivePolicyName: decision.ActivePolicyName,
		TargetTotalSlots: decision.TargetTotalSlots,
		EvaluatedAt:      now,
		Reason:           decision.Reason,
		Warnings:         warningStrings(cfg),
	}
}

func (c *Controller) logNoActivePolicy(total int) {
	c.mu.RLock()
	transition := !c.evaluated || c.lastActive != ""
	c.mu.RUnlock()

	if transition {
		c.logger.Infof("No active scaling policy for pool %s, keeping %d slots", c.pool, total)
		return
	}
	c.logger.Debugf("Still no active scaling policy for pool %s", c.pool)
}

func (c *Controller) logPolicyChange(name string) {
	c.mu.RLock()
	previous, evaluated := c.lastActive, c.evaluated
	c.mu.RUnlock()

	if !evaluated || previous != name {
		c.logger.Infof("Active scaling policy for pool %s: %q (was %q)", c.pool, name, previous)
	}
}

func warningStrings(s *policy.Scaling) []string {
	warnings := s.Warnings()
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.String()
	}
	return out
}
