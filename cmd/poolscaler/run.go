package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yourusername/poolscaler/internal/actuator"
	"github.com/yourusername/poolscaler/internal/config"
	"github.com/yourusername/poolscaler/internal/controller"
	"github.com/yourusername/poolscaler/internal/k8s"
	"github.com/yourusername/poolscaler/internal/metrics"
	"github.com/yourusername/poolscaler/internal/metrics/sources"
	"github.com/yourusername/poolscaler/internal/policy"
	"github.com/yourusername/poolscaler/internal/scaling"
	"golang.org/x/sync/errgroup"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scaling control loop against the cluster",
	Long: `Watches the pool's slot pods and task queue, evaluates the active scaling
policy every controller.interval and scales the pool workload to the target.`,
	RunE: runController,
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log scale requests instead of applying them")
}

func runController(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Infof("Starting poolscaler for pool %s (namespace: %s, workload: %s/%s)",
		cfg.Pool.Name, cfg.Pool.Namespace, cfg.Pool.WorkloadKind, cfg.Pool.WorkloadName)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. 初始化K8s客户端
	client, err := k8s.NewClient(&cfg.K8s, logger)
	if err != nil {
		return fmt.Errorf("failed to create k8s client: %w", err)
	}
	if err := client.TestConnection(); err != nil {
		return fmt.Errorf("failed to connect to k8s: %w", err)
	}

	poolScalingName := valueOr(cfg.K8s.PoolScalingName, cfg.Pool.Name)

	// 2. 策略配置：配置文件优先，否则从 PoolScaling 读取
	policies, policyWatcher, err := initialScaling(ctx, cfg, client, poolScalingName)
	if err != nil {
		return err
	}

	// 3. 执行方
	workload, err := k8s.NewWorkloadScaler(client, cfg.Pool.Namespace, cfg.Pool.WorkloadKind, cfg.Pool.WorkloadName)
	if err != nil {
		return err
	}
	var backend actuator.Scaler = workload
	if dryRun {
		logger.Warn("Dry-run mode: scale requests are only logged")
		backend = actuator.LogScaler{Logger: logger}
	}
	dispatcher := actuator.NewDispatcher(backend, logger)

	// 4. 控制器
	tracker := metrics.NewTracker(logger)
	engine := scaling.NewEngine(scaling.WithScaleUpCooldown(cfg.Controller.ScaleUpCooldown))
	ctrl, err := controller.NewController(policies, tracker, engine, dispatcher, controller.Config{
		Pool:     cfg.Pool.Name,
		Interval: cfg.Controller.Interval,
	}, controller.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	// 5. 遥测
	cpuMode := strings.EqualFold(cfg.Telemetry.BusySource, "cpu")
	slotWatcher := k8s.NewSlotWatcher(client, tracker, k8s.SlotWatcherConfig{
		Namespace:      cfg.Pool.Namespace,
		Selector:       cfg.Pool.SlotSelector,
		BusyAnnotation: cfg.Telemetry.BusyAnnotation,
		MembershipOnly: cpuMode,
	})

	manager, err := metrics.NewManager(tracker, managerConfig(cfg, client, workload, logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create metrics manager: %w", err)
	}

	// 6. 启动
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return slotWatcher.Run(gctx) })
	g.Go(func() error { return manager.Start(gctx) })
	g.Go(func() error { return ctrl.Run(gctx) })

	if cfg.K8s.WatchPolicy {
		if policyWatcher == nil {
			policyWatcher = k8s.NewPolicyWatcher(client, ctrl, cfg.Pool.Namespace, poolScalingName)
		} else {
			policyWatcher.SetUpdater(ctrl)
		}
		g.Go(func() error { return policyWatcher.Run(gctx) })
	}
	if cfg.K8s.PublishStatus {
		publisher := k8s.NewStatusPublisher(client, ctrl, cfg.Pool.Namespace, poolScalingName, cfg.Controller.StatusInterval)
		g.Go(func() error { return publisher.Run(gctx) })
	}

	err = g.Wait()

	stats := dispatcher.Stats()
	logger.WithFields(logrus.Fields{
		"applied":    stats.Applied,
		"failed":     stats.Failed,
		"superseded": stats.Superseded,
		"skipped":    stats.Skipped,
	}).Info("Poolscaler exited")
	return err
}

// managerConfig 根据遥测配置选择轮询数据源
func managerConfig(cfg *config.Config, client *k8s.Client, workload *k8s.WorkloadScaler, logger *logrus.Logger) metrics.ManagerConfig {
	mc := metrics.ManagerConfig{CollectInterval: cfg.Telemetry.PollInterval}
	if mc.CollectInterval <= 0 {
		mc.CollectInterval = 5 * time.Second
	}

	if strings.EqualFold(cfg.Telemetry.BusySource, "cpu") {
		mc.Slots = sources.NewSlotUsageCollector(client.Kubernetes(), client.Metrics(),
			cfg.Pool.Namespace, cfg.Pool.SlotSelector, cfg.Telemetry.CPUBusyMillicores).WithLogger(logger)
	}
	if cfg.Telemetry.EnableQueueCRD {
		mc.Queue = sources.NewQueueDepthCollector(client.Dynamic(), cfg.Pool.Namespace,
			valueOr(cfg.K8s.TaskQueueName, cfg.Pool.Name), cfg.Telemetry.QueuePendingField).WithLogger(logger)
	}
	if cfg.Telemetry.EnableCapacityPoll {
		mc.Capacity = workload
	}
	return mc
}

// scalingHolder 启动时暂存从 PoolScaling 读取的策略
type scalingHolder struct {
	scaling *policy.Scaling
}

func (h *scalingHolder) UpdateScaling(s *policy.Scaling) {
	h.scaling = s
}

// initialScaling 返回启动时的策略配置
// 从 PoolScaling 读取时一并返回所用的 PolicyWatcher，后续监控沿用它记录的 generation
func initialScaling(ctx context.Context, cfg *config.Config, client *k8s.Client, poolScalingName string) (*policy.Scaling, *k8s.PolicyWatcher, error) {
	if len(cfg.Scaling.Policies) > 0 {
		s, err := policy.FromConfig(cfg.Scaling)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid scaling configuration: %w", err)
		}
		return s, nil, nil
	}

	if !cfg.K8s.WatchPolicy {
		return nil, nil, fmt.Errorf("no scaling policies configured and k8s.watch_policy is disabled")
	}

	holder := &scalingHolder{}
	pw := k8s.NewPolicyWatcher(client, holder, cfg.Pool.Namespace, poolScalingName)
	if err := pw.CheckCRD(ctx); err != nil {
		return nil, nil, err
	}
	if _, err := pw.Sync(ctx); err != nil {
		return nil, nil, err
	}
	if holder.scaling == nil {
		return nil, nil, fmt.Errorf("no valid scaling policies in %s %s/%s", k8s.PoolScalingKind, cfg.Pool.Namespace, poolScalingName)
	}
	return holder.scaling, pw, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
