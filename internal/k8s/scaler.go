package k8s

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	metricstypes "github.com/yourusername/poolscaler/pkg/metrics"
	"github.com/yourusername/poolscaler/pkg/models"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// WorkloadKind 支持伸缩的工作负载类型
type WorkloadKind string

const (
	KindDeployment  WorkloadKind = "Deployment"
	KindStatefulSet WorkloadKind = "StatefulSet"
)

// removalDeletionCost 标记为待回收的空闲槽位
const removalDeletionCost = -1000

// ParseWorkloadKind 解析工作负载类型（不区分大小写）
func ParseWorkloadKind(s string) (WorkloadKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deployment", "deployments", "":
		return KindDeployment, nil
	case "statefulset", "statefulsets":
		return KindStatefulSet, nil
	default:
		return "", fmt.Errorf("unsupported workload kind %q (want Deployment or StatefulSet)", s)
	}
}

// WorkloadScaler 通过 scale 子资源设置槽位数
type WorkloadScaler struct {
	client    *Client
	namespace string
	kind      WorkloadKind
	name      string
	logger    *logrus.Logger
}

// NewWorkloadScaler 创建工作负载伸缩器
func NewWorkloadScaler(client *Client, namespace, kind, name string) (*WorkloadScaler, error) {
	if name == "" {
		return nil, fmt.Errorf("workload name is required")
	}
	k, err := ParseWorkloadKind(kind)
	if err != nil {
		return nil, err
	}
	return &WorkloadScaler{
		client:    client,
		namespace: namespace,
		kind:      k,
		name:      name,
		logger:    client.logger,
	}, nil
}

// String 便于日志输出
func (s *WorkloadScaler) String() string {
	return fmt.Sprintf("%s %s/%s", s.kind, s.namespace, s.name)
}

// Scale 应用伸缩请求
// 缩容前先给待回收的Pod打上较低的删除代价，使ReplicaSet优先删除空闲最久的槽位
func (s *WorkloadScaler) Scale(ctx context.Context, req models.ScaleRequest) error {
	if req.IsScaleDown() && s.kind == KindDeployment {
		s.markForRemoval(ctx, req.RemovalCandidates)
	}
	return s.SetTargetSlots(ctx, req.TargetTotalSlots)
}

// SetTargetSlots 设置副本数
func (s *WorkloadScaler) SetTargetSlots(ctx context.Context, n int) error {
	if n < 0 || n > models.MaxSlotCount {
		return fmt.Errorf("invalid target slot count %d (want 0..%d)", n, models.MaxSlotCount)
	}

	scale, err := s.getScale(ctx)
	if err != nil {
		return err
	}

	if scale.Spec.Replicas == int32(n) {
		s.logger.Debugf("%s already at %d replicas", s, n)
		return nil
	}

	previous := scale.Spec.Replicas
	scale.Spec.Replicas = int32(n)
	if _, err := s.updateScale(ctx, scale); err != nil {
		return err
	}

	s.logger.Infof("Scaled %s from %d to %d replicas", s, previous, n)
	return nil
}

// CollectCapacity 读取当前已运行的副本数作为槽位总数
func (s *WorkloadScaler) CollectCapacity(ctx context.Context) (metricstypes.CapacitySnapshot, error) {
	scale, err := s.getScale(ctx)
	if err != nil {
		return metricstypes.CapacitySnapshot{}, err
	}
	return metricstypes.CapacitySnapshot{
		TotalSlots: int(scale.Status.Replicas),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (s *WorkloadScaler) getScale(ctx context.Context) (*autoscalingv1.Scale, error) {
	var scale *autoscalingv1.Scale
	var err error

	switch s.kind {
	case KindStatefulSet:
		scale, err = s.client.clientset.AppsV1().StatefulSets(s.namespace).GetScale(ctx, s.name, metav1.GetOptions{})
	default:
		scale, err = s.client.clientset.AppsV1().Deployments(s.namespace).GetScale(ctx, s.name, metav1.GetOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scale of %s: %w", s, err)
	}
	return scale, nil
}

func (s *WorkloadScaler) updateScale(ctx context.Context, scale *autoscalingv1.Scale) (*autoscalingv1.Scale, error) {
	var updated *autoscalingv1.Scale
	var err error

	switch s.kind {
	case KindStatefulSet:
		updated, err = s.client.clientset.AppsV1().StatefulSets(s.namespace).UpdateScale(ctx, s.name, scale, metav1.UpdateOptions{})
	default:
		updated, err = s.client.clientset.AppsV1().Deployments(s.namespace).UpdateScale(ctx, s.name, scale, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update scale of %s: %w", s, err)
	}
	return updated, nil
}

// markForRemoval 失败只记录日志，不影响伸缩本身
func (s *WorkloadScaler) markForRemoval(ctx context.Context, podNames []string) {
	if len(podNames) == 0 {
		return
	}

	patch, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": map[string]string{
				PodDeletionCostAnnotation: strconv.Itoa(removalDeletionCost),
			},
		},
	})
	if err != nil {
		s.logger.Warnf("Failed to build deletion cost patch: %v", err)
		return
	}

	for _, name := range podNames {
		_, err := s.client.clientset.CoreV1().Pods(s.namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
		if err != nil {
			s.logger.Warnf("Failed to mark pod %s/%s for removal: %v", s.namespace, name, err)
			continue
		}
		s.logger.Debugf("Marked pod %s/%s for removal", s.namespace, name)
	}
}
