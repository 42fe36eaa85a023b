package k8s

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// Group 自定义资源所在的API组
	Group = "scaling.poolscaler.io"
	// Version 自定义资源版本
	Version = "v1alpha1"

	// PoolScalingCRDName PoolScaling 的CRD名称
	PoolScalingCRDName = "poolscalings." + Group
	// PoolScalingKind PoolScaling 资源类型
	PoolScalingKind = "PoolScaling"

	// TaskQueueKind TaskQueue 资源类型
	TaskQueueKind = "TaskQueue"

	// DefaultBusyAnnotation 槽位忙碌标记
	DefaultBusyAnnotation = Group + "/busy"

	// PodDeletionCostAnnotation ReplicaSet 缩容时优先删除 cost 较低的Pod
	PodDeletionCostAnnotation = "controller.kubernetes.io/pod-deletion-cost"
)

var (
	// PoolScalingGVR PoolScaling 资源
	PoolScalingGVR = schema.GroupVersionResource{Group: Group, Version: Version, Resource: "poolscalings"}

	// TaskQueueGVR TaskQueue 资源
	TaskQueueGVR = schema.GroupVersionResource{Group: Group, Version: Version, Resource: "taskqueues"}
)
