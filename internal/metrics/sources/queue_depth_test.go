package sources

import (
	"context"
	"testing"
	"time"

	"github.com/yourusername/poolscaler/internal/k8s"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
)

func taskQueue(name string, status map[string]interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": k8s.Group + "/" + k8s.Version,
		"kind":       k8s.TaskQueueKind,
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": testNamespace,
		},
		"status": status,
	}}
}

func newDynamicClient(objects ...runtime.Object) *dynamicfake.FakeDynamicClient {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{
			k8s.TaskQueueGVR: k8s.TaskQueueKind + "List",
		}, objects...)
}

func TestQueueDepthCollector_CollectQueueDepth(t *testing.T) {
	updatedAt := time.Date(2024, 1, 3, 7, 0, 5, 0, time.UTC)
	dyn := newDynamicClient(taskQueue("render-queue", map[string]interface{}{
		"pending":   int64(8),
		"running":   int64(4),
		"updatedAt": updatedAt.Format(time.RFC3339),
	}))

	c := NewQueueDepthCollector(dyn, testNamespace, "render-queue", "")
	snap, err := c.CollectQueueDepth(context.Background())
	if err != nil {
		t.Fatalf("CollectQueueDepth() error = %v", err)
	}
	if snap.QueuedTaskCount != 8 || !snap.Timestamp.Equal(updatedAt) || snap.Source != "TaskQueue/render-queue" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestQueueDepthCollector_CustomField(t *testing.T) {
	dyn := newDynamicClient(taskQueue("render-queue", map[string]interface{}{
		"backlog": int64(3),
	}))

	before := time.Now().UTC()
	snap, err := NewQueueDepthCollector(dyn, testNamespace, "render-queue", "backlog").CollectQueueDepth(context.Background())
	if err != nil {
		t.Fatalf("CollectQueueDepth() error = %v", err)
	}
	if snap.QueuedTaskCount != 3 || snap.Timestamp.Before(before) {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestQueueDepthCollector_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status map[string]interface{}
	}{
		{"missing field", map[string]interface{}{"running": int64(1)}},
		{"negative", map[string]interface{}{"pending": int64(-1)}},
		{"wrong type", map[string]interface{}{"pending": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dyn := newDynamicClient(taskQueue("render-queue", tt.status))
			c := NewQueueDepthCollector(dyn, testNamespace, "render-queue", "pending")
			if _, err := c.CollectQueueDepth(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}

	t.Run("not found", func(t *testing.T) {
		c := NewQueueDepthCollector(newDynamicClient(), testNamespace, "render-queue", "pending")
		if _, err := c.CollectQueueDepth(context.Background()); err == nil {
			t.Error("expected error for missing TaskQueue")
		}
	})
}
