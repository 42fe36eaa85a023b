package k8s

import (
	"strconv"
	"strings"
	"time"

	metricstypes "github.com/yourusername/poolscaler/pkg/metrics"

	corev1 "k8s.io/api/core/v1"
)

// BusyChangedAtSuffix 与忙碌标记配套的时间戳注解后缀，值为RFC3339
const BusyChangedAtSuffix = "-changed-at"

// IsSlotPod Pod是否算作一个可用槽位
func IsSlotPod(pod *corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}
	return pod.Status.Phase == corev1.PodRunning
}

// convertPodToSlotEvent 将K8s Pod对象转换为槽位事件
// 时间戳优先取 <annotation>-changed-at，其次取 now
func convertPodToSlotEvent(pod *corev1.Pod, busyAnnotation string, now time.Time) metricstypes.SlotEvent {
	event := metricstypes.SlotEvent{
		SlotID:    pod.Name,
		Busy:      parseBusy(pod.Annotations[busyAnnotation]),
		Timestamp: now,
		Source:    "annotation",
	}

	if raw, ok := pod.Annotations[busyAnnotation+BusyChangedAtSuffix]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			event.Timestamp = ts
		}
	}

	return event
}

// parseBusy 解析忙碌标记，无法识别的值视为空闲
func parseBusy(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return strings.EqualFold(value, "busy")
}

// PodCPURequest Pod所有容器的CPU request之和（毫核）
func PodCPURequest(pod *corev1.Pod) int64 {
	var total int64
	for _, container := range pod.Spec.Containers {
		if req := container.Resources.Requests.Cpu(); req != nil {
			total += req.MilliValue()
		}
	}
	return total
}
