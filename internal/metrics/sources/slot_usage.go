package sources

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/poolscaler/internal/k8s"
	metricstypes "github.com/yourusername/poolscaler/pkg/metrics"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"
)

// SlotUsageCollector 基于metrics-server的CPU用量判断槽位忙闲
type SlotUsageCollector struct {
	kubeClient     kubernetes.Interface
	metricsClient  metricsclientset.Interface
	namespace      string
	selector       string
	busyMillicores int64
	logger         *logrus.Logger
}

// NewSlotUsageCollector 创建槽位用量采集器
func NewSlotUsageCollector(kubeClient kubernetes.Interface, metricsClient metricsclientset.Interface, namespace, selector string, busyMillicores int64) *SlotUsageCollector {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	return &SlotUsageCollector{
		kubeClient:     kubeClient,
		metricsClient:  metricsClient,
		namespace:      namespace,
		selector:       selector,
		busyMillicores: busyMillicores,
		logger:         logger,
	}
}

// WithLogger 替换日志实例
func (c *SlotUsageCollector) WithLogger(logger *logrus.Logger) *SlotUsageCollector {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// CollectSlotUsage 采集每个运行中槽位的CPU用量
// 没有指标的Pod（刚启动）不返回
func (c *SlotUsageCollector) CollectSlotUsage(ctx context.Context) ([]metricstypes.SlotUsage, error) {
	// 1. 获取Pod列表
	pods, err := c.kubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: c.selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in namespace %s: %w", c.namespace, err)
	}

	// 2. 获取Pod的实时指标
	podMetrics, err := c.metricsClient.MetricsV1beta1().PodMetricses(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: c.selector})
	if err != nil {
		return nil, fmt.Errorf("failed to get pod metrics from metrics server for namespace %s: %w", c.namespace, err)
	}

	metricsMap := make(map[string]*metricsv1beta1.PodMetrics, len(podMetrics.Items))
	for i := range podMetrics.Items {
		pm := &podMetrics.Items[i]
		metricsMap[pm.Name] = pm
	}

	// 3. 组合数据
	var result []metricstypes.SlotUsage
	for i := range pods.Items {
		pod := &pods.Items[i]
		if !k8s.IsSlotPod(pod) {
			continue
		}
		metric, ok := metricsMap[pod.Name]
		if !ok {
			continue
		}

		var cpuUsage int64
		for _, container := range metric.Containers {
			cpuUsage += container.Usage.Cpu().MilliValue()
		}

		timestamp := metric.Timestamp.Time
		if timestamp.IsZero() {
			timestamp = time.Now()
		}

		result = append(result, metricstypes.SlotUsage{
			SlotID:     pod.Name,
			CPUUsage:   cpuUsage,
			CPURequest: k8s.PodCPURequest(pod),
			Timestamp:  timestamp.UTC(),
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].SlotID < result[j].SlotID })
	return result, nil
}

// CollectSlotEvents 实现 metrics.SlotSource
func (c *SlotUsageCollector) CollectSlotEvents(ctx context.Context) ([]metricstypes.SlotEvent, error) {
	usage, err := c.CollectSlotUsage(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]metricstypes.SlotEvent, 0, len(usage))
	for _, u := range usage {
		events = append(events, metricstypes.SlotEvent{
			SlotID:    u.SlotID,
			Busy:      u.CPUUsage >= c.busyMillicores,
			Timestamp: u.Timestamp,
			Source:    "cpu",
		})
	}

	c.logger.Debugf("Collected CPU usage for %d slots", len(events))
	return events, nil
}
