package k8s

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourusername/poolscaler/internal/config"
	"github.com/yourusername/poolscaler/internal/policy"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
)

// ScalingUpdater 接收新的策略配置（由控制器实现）
type ScalingUpdater interface {
	UpdateScaling(s *policy.Scaling)
}

// PolicyWatcher 监控 PoolScaling 资源，spec 变化时整体替换策略配置
type PolicyWatcher struct {
	client    *Client
	updater   ScalingUpdater
	namespace string
	name      string
	logger    *logrus.Logger

	lastGeneration int64
}

// NewPolicyWatcher 创建策略监控器
func NewPolicyWatcher(client *Client, updater ScalingUpdater, namespace, name string) *PolicyWatcher {
	return &PolicyWatcher{
		client:    client,
		updater:   updater,
		namespace: namespace,
		name:      name,
		logger:    client.logger,
	}
}

// SetUpdater 更换策略接收方，已应用的 generation 保留
// 启动时先用临时接收方读取策略，控制器创建后再交给控制器
func (pw *PolicyWatcher) SetUpdater(updater ScalingUpdater) {
	pw.updater = updater
}

// CheckCRD 检查 PoolScaling CRD 已安装并处于 Established 状态
func (pw *PolicyWatcher) CheckCRD(ctx context.Context) error {
	crd, err := pw.client.crdClient.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, PoolScalingCRDName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get CRD %s: %w", PoolScalingCRDName, err)
	}

	if !isEstablished(crd) {
		return fmt.Errorf("CRD %s is not established", PoolScalingCRDName)
	}

	served := false
	for _, v := range crd.Spec.Versions {
		if v.Name == Version && v.Served {
			served = true
			break
		}
	}
	if !served {
		return fmt.Errorf("CRD %s does not serve version %s", PoolScalingCRDName, Version)
	}

	return nil
}

// Run 持续监控，直到ctx取消
func (pw *PolicyWatcher) Run(ctx context.Context) error {
	pw.logger.Infof("Starting policy watcher for %s %s/%s", PoolScalingKind, pw.namespace, pw.name)

	for {
		if err := pw.CheckCRD(ctx); err != nil {
			pw.logger.Errorf("Policy watcher: %v", err)
		} else if err := pw.doWatch(ctx); err != nil {
			pw.logger.Errorf("Policy watcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			pw.logger.Info("Policy watcher stopped")
			return nil
		case <-time.After(pw.client.reconnectInterval):
		}
	}
}

// Sync 读取一次当前的 PoolScaling 并应用
func (pw *PolicyWatcher) Sync(ctx context.Context) (string, error) {
	obj, err := pw.client.dynamicClient.Resource(PoolScalingGVR).Namespace(pw.namespace).Get(ctx, pw.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		pw.logger.Warnf("%s %s/%s not found, keeping current policies", PoolScalingKind, pw.namespace, pw.name)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s %s/%s: %w", PoolScalingKind, pw.namespace, pw.name, err)
	}

	if err := pw.apply(obj); err != nil {
		pw.logger.Errorf("Rejected %s %s/%s: %v", PoolScalingKind, pw.namespace, pw.name, err)
	}
	return obj.GetResourceVersion(), nil
}

// doWatch 执行自定义资源监控
func (pw *PolicyWatcher) doWatch(ctx context.Context) error {
	resourceVersion, err := pw.Sync(ctx)
	if err != nil {
		return err
	}

	watcher, err := pw.client.dynamicClient.Resource(PoolScalingGVR).Namespace(pw.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector:   fields.OneTermEqualSelector("metadata.name", pw.name).String(),
		ResourceVersion: resourceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", PoolScalingGVR.Resource, err)
	}
	defer watcher.Stop()

	pw.logger.Infof("Watching %s %s/%s", PoolScalingKind, pw.namespace, pw.name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				pw.logger.Warnf("%s watcher channel closed", PoolScalingKind)
				return nil
			}

			obj, ok := event.Object.(*unstructured.Unstructured)
			if !ok {
				pw.logger.Warn("Received non-unstructured object in policy watcher")
				continue
			}
			if obj.GetName() != pw.name {
				continue
			}

			switch event.Type {
			case watch.Added, watch.Modified:
				if err := pw.apply(obj); err != nil {
					pw.logger.Errorf("Rejected %s %s/%s: %v", PoolScalingKind, pw.namespace, pw.name, err)
				}
			case watch.Deleted:
				pw.logger.Warnf("%s %s/%s deleted, keeping current policies", PoolScalingKind, pw.namespace, pw.name)
				pw.lastGeneration = 0
			}
		}
	}
}

// apply 解析spec并替换策略；非法配置不会替换当前策略
// status 更新不会改变 generation，因此不会触发重新加载
func (pw *PolicyWatcher) apply(obj *unstructured.Unstructured) error {
	generation := obj.GetGeneration()
	if generation != 0 && generation == pw.lastGeneration {
		return nil
	}

	spec, found, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil {
		return fmt.Errorf("invalid spec: %w", err)
	}
	if !found {
		return fmt.Errorf("spec is missing")
	}

	scaling, err := ScalingFromSpec(spec)
	if err != nil {
		return err
	}

	pw.updater.UpdateScaling(scaling)
	pw.lastGeneration = generation
	pw.logger.Infof("Loaded %d scaling policies from %s %s/%s (generation %d)",
		scaling.Len(), PoolScalingKind, pw.namespace, pw.name, generation)
	return nil
}

// ScalingFromSpec 将 PoolScaling.spec 转换为校验过的策略列表
func ScalingFromSpec(spec map[string]interface{}) (*policy.Scaling, error) {
	cfg, err := config.DecodeScaling(spec)
	if err != nil {
		return nil, err
	}
	return policy.FromConfig(cfg)
}

// isEstablished CRD是否已建立
func isEstablished(crd *apiextensionsv1.CustomResourceDefinition) bool {
	for _, condition := range crd.Status.Conditions {
		if condition.Type == apiextensionsv1.Established && condition.Status == apiextensionsv1.ConditionTrue {
			return true
		}
	}
	return false
}
