package k8s

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/poolscaler/pkg/models"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ObservationSource 提供最新的评估结果（由控制器实现）
type ObservationSource interface {
	Observation() models.Observation
}

// StatusPublisher 定期把评估结果写入 PoolScaling 的 status
type StatusPublisher struct {
	client    *Client
	source    ObservationSource
	namespace string
	name      string
	interval  time.Duration
	logger    *logrus.Logger

	lastPublished time.Time
}

// NewStatusPublisher 创建状态发布器
func NewStatusPublisher(client *Client, source ObservationSource, namespace, name string, interval time.Duration) *StatusPublisher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &StatusPublisher{
		client:    client,
		source:    source,
		namespace: namespace,
		name:      name,
		interval:  interval,
		logger:    client.logger,
	}
}

// Run 定期发布，直到ctx取消
func (p *StatusPublisher) Run(ctx context.Context) error {
	p.logger.Infof("Starting status publisher for %s %s/%s with interval: %v", PoolScalingKind, p.namespace, p.name, p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Status publisher stopped")
			return nil
		case <-ticker.C:
			if err := p.Publish(ctx); err != nil {
				p.logger.Errorf("Failed to publish status: %v", err)
			}
		}
	}
}

// Publish 写入一次状态；评估结果没有变化时跳过
func (p *StatusPublisher) Publish(ctx context.Context) error {
	obs := p.source.Observation()
	if obs.EvaluatedAt.IsZero() || obs.EvaluatedAt.Equal(p.lastPublished) {
		return nil
	}

	resource := p.client.dynamicClient.Resource(PoolScalingGVR).Namespace(p.namespace)
	obj, err := resource.Get(ctx, p.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		p.logger.Debugf("%s %s/%s not found, skipping status update", PoolScalingKind, p.namespace, p.name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get %s %s/%s: %w", PoolScalingKind, p.namespace, p.name, err)
	}

	if err := unstructured.SetNestedMap(obj.Object, observationToStatus(obs, obj.GetGeneration()), "status"); err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}

	if _, err := resource.UpdateStatus(ctx, obj, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update status of %s %s/%s: %w", PoolScalingKind, p.namespace, p.name, err)
	}

	p.lastPublished = obs.EvaluatedAt
	p.logger.Debugf("Published status: policy=%q target=%d phase=%s", obs.ActivePolicyName, obs.TargetTotalSlots, obs.Phase)
	return nil
}

// observationToStatus 转换为 unstructured 可接受的类型
func observationToStatus(obs models.Observation, generation int64) map[string]interface{} {
	warnings := make([]interface{}, len(obs.Warnings))
	for i, w := range obs.Warnings {
		warnings[i] = w
	}

	return map[string]interface{}{
		"activePolicy":       obs.ActivePolicyName,
		"targetTotalSlots":   int64(obs.TargetTotalSlots),
		"lastEvaluationTime": obs.EvaluatedAt.UTC().Format(time.RFC3339),
		"phase":              obs.Phase,
		"reason":             obs.Reason,
		"warnings":           warnings,
		"observedGeneration": generation,
	}
}
