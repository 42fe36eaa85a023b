package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/poolscaler/internal/k8s"
	metricstypes "github.com/yourusername/poolscaler/pkg/metrics"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/dynamic"
)

// QueueDepthCollector 从 TaskQueue 自定义资源的 status 读取排队任务数
type QueueDepthCollector struct {
	dynamicClient dynamic.Interface
	namespace     string
	name          string
	field         string
	logger        *logrus.Logger
}

// NewQueueDepthCollector 创建队列深度采集器
// field 为 status 下的字段名，默认 pending
func NewQueueDepthCollector(dynamicClient dynamic.Interface, namespace, name, field string) *QueueDepthCollector {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	if field == "" {
		field = "pending"
	}

	return &QueueDepthCollector{
		dynamicClient: dynamicClient,
		namespace:     namespace,
		name:          name,
		field:         field,
		logger:        logger,
	}
}

// WithLogger 替换日志实例
func (c *QueueDepthCollector) WithLogger(logger *logrus.Logger) *QueueDepthCollector {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// CollectQueueDepth 实现 metrics.QueueSource
func (c *QueueDepthCollector) CollectQueueDepth(ctx context.Context) (metricstypes.QueueSnapshot, error) {
	obj, err := c.dynamicClient.Resource(k8s.TaskQueueGVR).Namespace(c.namespace).Get(ctx, c.name, metav1.GetOptions{})
	if err != nil {
		return metricstypes.QueueSnapshot{}, fmt.Errorf("failed to get %s %s/%s: %w", k8s.TaskQueueKind, c.namespace, c.name, err)
	}

	pending, err := c.pendingCount(obj)
	if err != nil {
		return metricstypes.QueueSnapshot{}, err
	}

	snapshot := metricstypes.QueueSnapshot{
		QueuedTaskCount: pending,
		Timestamp:       time.Now().UTC(),
		Source:          k8s.TaskQueueKind + "/" + c.name,
	}

	// status.updatedAt 存在时以它为准，避免把旧数据当成新数据
	if raw, found, _ := unstructured.NestedString(obj.Object, "status", "updatedAt"); found {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			snapshot.Timestamp = ts.UTC()
		}
	}

	c.logger.Debugf("Queue %s/%s has %d pending tasks", c.namespace, c.name, pending)
	return snapshot, nil
}

func (c *QueueDepthCollector) pendingCount(obj *unstructured.Unstructured) (int, error) {
	value, found, err := unstructured.NestedFieldNoCopy(obj.Object, "status", c.field)
	if err != nil {
		return 0, fmt.Errorf("invalid status.%s: %w", c.field, err)
	}
	if !found {
		return 0, fmt.Errorf("status.%s not found on %s %s/%s", c.field, k8s.TaskQueueKind, c.namespace, c.name)
	}

	var n int64
	switch v := value.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		n = int64(v)
	default:
		return 0, fmt.Errorf("status.%s has unexpected type %T", c.field, value)
	}

	if n < 0 {
		return 0, fmt.Errorf("status.%s is negative: %d", c.field, n)
	}
	return int(n), nil
}
