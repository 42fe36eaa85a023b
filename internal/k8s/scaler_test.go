package k8s

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/yourusername/poolscaler/pkg/models"

	autoscalingv1 "k8s.io/api/autoscaling/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

// fakeScale 模拟 scale 子资源
type fakeScale struct {
	mu       sync.Mutex
	spec     int32
	status   int32
	updates  []int32
	resource string
}

func (f *fakeScale) install(cs *fake.Clientset) {
	cs.PrependReactor("get", f.resource, func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.GetSubresource() != "scale" {
			return false, nil, nil
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		return true, &autoscalingv1.Scale{
			ObjectMeta: metav1.ObjectMeta{Name: "workers", Namespace: testNamespace},
			Spec:       autoscalingv1.ScaleSpec{Replicas: f.spec},
			Status:     autoscalingv1.ScaleStatus{Replicas: f.status},
		}, nil
	})
	cs.PrependReactor("update", f.resource, func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.GetSubresource() != "scale" {
			return false, nil, nil
		}
		scale := action.(k8stesting.UpdateAction).GetObject().(*autoscalingv1.Scale)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.spec = scale.Spec.Replicas
		f.updates = append(f.updates, scale.Spec.Replicas)
		return true, scale, nil
	})
}

func (f *fakeScale) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func TestParseWorkloadKind(t *testing.T) {
	tests := []struct {
		in      string
		want    WorkloadKind
		wantErr bool
	}{
		{"", KindDeployment, false},
		{"Deployment", KindDeployment, false},
		{"deployments", KindDeployment, false},
		{"StatefulSet", KindStatefulSet, false},
		{" statefulsets ", KindStatefulSet, false},
		{"DaemonSet", "", true},
	}

	for _, tt := range tests {
		got, err := ParseWorkloadKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseWorkloadKind(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWorkloadScaler_ScaleUp(t *testing.T) {
	client, cs := newTestClient()
	scale := &fakeScale{spec: 4, status: 4, resource: "deployments"}
	scale.install(cs)

	s, err := NewWorkloadScaler(client, testNamespace, "Deployment", "workers")
	if err != nil {
		t.Fatal(err)
	}

	req := models.ScaleRequest{ID: "r1", TargetTotalSlots: 12, PreviousTotalSlots: 4}
	if err := s.Scale(context.Background(), req); err != nil {
		t.Fatalf("Scale() error = %v", err)
	}
	if scale.spec != 12 || scale.updateCount() != 1 {
		t.Errorf("spec = %d, updates = %v", scale.spec, scale.updates)
	}

	// 目标未变化时不再更新
	if err := s.SetTargetSlots(context.Background(), 12); err != nil {
		t.Fatal(err)
	}
	if scale.updateCount() != 1 {
		t.Errorf("updates = %v, want a single update", scale.updates)
	}

	if err := s.SetTargetSlots(context.Background(), -1); err == nil {
		t.Error("expected error for negative target")
	}
}

func TestWorkloadScaler_ScaleDownMarksCandidates(t *testing.T) {
	client, cs := newTestClient(
		slotPod("slot-0", corev1.PodRunning, nil),
		slotPod("slot-1", corev1.PodRunning, nil),
		slotPod("slot-2", corev1.PodRunning, nil),
	)
	scale := &fakeScale{spec: 3, status: 3, resource: "deployments"}
	scale.install(cs)

	s, err := NewWorkloadScaler(client, testNamespace, "Deployment", "workers")
	if err != nil {
		t.Fatal(err)
	}

	req := models.ScaleRequest{
		ID:                 "r2",
		TargetTotalSlots:   1,
		PreviousTotalSlots: 3,
		RemovalCandidates:  []string{"slot-0", "slot-2", "slot-missing"},
	}
	if err := s.Scale(context.Background(), req); err != nil {
		t.Fatalf("Scale() error = %v", err)
	}
	if scale.spec != 1 {
		t.Errorf("spec = %d, want 1", scale.spec)
	}

	want := strconv.Itoa(removalDeletionCost)
	for name, marked := range map[string]bool{"slot-0": true, "slot-1": false, "slot-2": true} {
		pod, err := cs.CoreV1().Pods(testNamespace).Get(context.Background(), name, metav1.GetOptions{})
		if err != nil {
			t.Fatal(err)
		}
		got, ok := pod.Annotations[PodDeletionCostAnnotation]
		if marked && got != want {
			t.Errorf("%s deletion cost = %q, want %q", name, got, want)
		}
		if !marked && ok {
			t.Errorf("%s unexpectedly marked", name)
		}
	}
}

func TestWorkloadScaler_StatefulSet(t *testing.T) {
	client, cs := newTestClient(slotPod("slot-0", corev1.PodRunning, nil))
	scale := &fakeScale{spec: 5, status: 4, resource: "statefulsets"}
	scale.install(cs)

	s, err := NewWorkloadScaler(client, testNamespace, "StatefulSet", "workers")
	if err != nil {
		t.Fatal(err)
	}

	capacity, err := s.CollectCapacity(context.Background())
	if err != nil {
		t.Fatalf("CollectCapacity() error = %v", err)
	}
	if capacity.TotalSlots != 4 || capacity.Timestamp.IsZero() {
		t.Errorf("capacity = %+v, want status replicas 4", capacity)
	}

	req := models.ScaleRequest{TargetTotalSlots: 2, PreviousTotalSlots: 5, RemovalCandidates: []string{"slot-0"}}
	if err := s.Scale(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if scale.spec != 2 {
		t.Errorf("spec = %d, want 2", scale.spec)
	}
	for _, action := range cs.Actions() {
		if action.GetVerb() == "patch" {
			t.Errorf("StatefulSet scale-down must not patch pods: %v", action)
		}
	}
}

func TestNewWorkloadScaler_Invalid(t *testing.T) {
	client, _ := newTestClient()
	if _, err := NewWorkloadScaler(client, testNamespace, "Deployment", ""); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := NewWorkloadScaler(client, testNamespace, "CronJob", "workers"); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

func TestWorkloadScaler_SetTargetSlotsOutOfRange(t *testing.T) {
	client, cs := newTestClient()
	scale := &fakeScale{spec: 3, status: 3, resource: "deployments"}
	scale.install(cs)

	s, err := NewWorkloadScaler(client, testNamespace, "Deployment", "workers")
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{-1, models.MaxSlotCount + 1, 1<<32 + 2} {
		if err := s.SetTargetSlots(context.Background(), n); err == nil {
			t.Errorf("SetTargetSlots(%d) expected error", n)
		}
	}
	if scale.spec != 3 || scale.updateCount() != 0 {
		t.Errorf("spec = %d, updates = %v, want untouched", scale.spec, scale.updates)
	}
}
