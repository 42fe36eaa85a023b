package k8s

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	metricstypes "github.com/yourusername/poolscaler/pkg/metrics"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
)

// SlotSink 接收槽位事件（由 Tracker 实现）
type SlotSink interface {
	ObserveSlot(event metricstypes.SlotEvent) bool
	RemoveSlot(slotID string)
	SlotIDs() []string
}

// SlotWatcherConfig 槽位监控配置
type SlotWatcherConfig struct {
	Namespace      string
	Selector       string // label selector
	BusyAnnotation string
	// MembershipOnly 只维护槽位的增删，忙闲状态由其他数据源提供
	MembershipOnly bool
}

// SlotWatcher 监控资源池的Pod，每个运行中的Pod是一个槽位
type SlotWatcher struct {
	client *Client
	sink   SlotSink
	cfg    SlotWatcherConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewSlotWatcher 创建新的槽位监控器
func NewSlotWatcher(client *Client, sink SlotSink, cfg SlotWatcherConfig) *SlotWatcher {
	if cfg.BusyAnnotation == "" {
		cfg.BusyAnnotation = DefaultBusyAnnotation
	}
	return &SlotWatcher{
		client: client,
		sink:   sink,
		cfg:    cfg,
		logger: client.logger,
		now:    time.Now,
	}
}

// Run 开始监控，直到ctx取消
func (w *SlotWatcher) Run(ctx context.Context) error {
	w.logger.Infof("Starting slot watcher in namespace %s (selector: %q)", w.cfg.Namespace, w.cfg.Selector)

	for {
		if err := w.doWatchPods(ctx); err != nil {
			w.logger.Errorf("Slot watcher error: %v", err)
		}

		// 如果连接断开，等待一段时间后重试
		select {
		case <-ctx.Done():
			w.logger.Info("Slot watcher stopped")
			return nil
		case <-time.After(w.client.reconnectInterval):
		}
	}
}

// Resync 列出当前的槽位Pod并与sink对齐
// 返回列表的 resourceVersion，供后续watch使用
func (w *SlotWatcher) Resync(ctx context.Context) (string, error) {
	pods, err := w.client.clientset.CoreV1().Pods(w.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: w.cfg.Selector,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods in namespace %s: %w", w.cfg.Namespace, err)
	}

	present := make(map[string]bool, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if IsSlotPod(pod) {
			present[pod.Name] = true
		}
		w.handlePod(watch.Added, pod)
	}

	// 删除期间错过的Pod
	for _, id := range w.sink.SlotIDs() {
		if !present[id] {
			w.sink.RemoveSlot(id)
		}
	}

	w.logger.Debugf("Resynced %d slot pods", len(present))
	return pods.ResourceVersion, nil
}

// doWatchPods 执行Pod监控
func (w *SlotWatcher) doWatchPods(ctx context.Context) error {
	resourceVersion, err := w.Resync(ctx)
	if err != nil {
		return err
	}

	watcher, err := w.client.clientset.CoreV1().Pods(w.cfg.Namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector:   w.cfg.Selector,
		ResourceVersion: resourceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to watch pods in namespace %s: %w", w.cfg.Namespace, err)
	}
	defer watcher.Stop()

	w.logger.Infof("Watching slot pods in namespace: %s", w.cfg.Namespace)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				w.logger.Warnf("Pod watcher channel closed for namespace: %s", w.cfg.Namespace)
				return nil
			}

			switch event.Type {
			case watch.Added, watch.Modified, watch.Deleted:
				pod, ok := event.Object.(*corev1.Pod)
				if !ok {
					w.logger.Warnf("Received non-pod object in pod watcher")
					continue
				}
				w.handlePod(event.Type, pod)
				w.logger.Debugf("Pod %s/%s: %s", pod.Namespace, pod.Name, event.Type)

			case watch.Error:
				w.logger.Warnf("Pod watch returned error event: %v", event.Object)
				return nil
			}
		}
	}
}

// handlePod 处理单个Pod变化
func (w *SlotWatcher) handlePod(eventType watch.EventType, pod *corev1.Pod) {
	if eventType == watch.Deleted || !IsSlotPod(pod) {
		w.sink.RemoveSlot(pod.Name)
		return
	}

	event := convertPodToSlotEvent(pod, w.cfg.BusyAnnotation, w.now())
	if w.cfg.MembershipOnly {
		// 只登记槽位，忙闲由CPU数据源决定
		if contains(w.sink.SlotIDs(), pod.Name) {
			return
		}
		event.Busy = false
		event.Source = "membership"
	}
	w.sink.ObserveSlot(event)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
