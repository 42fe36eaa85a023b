package k8s

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/yourusername/poolscaler/internal/policy"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsfake "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/fake"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
)

// recordingUpdater 记录收到的策略配置
type recordingUpdater struct {
	mu      sync.Mutex
	updates []*policy.Scaling
}

func (u *recordingUpdater) UpdateScaling(s *policy.Scaling) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updates = append(u.updates, s)
}

func (u *recordingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.updates)
}

func newDynamicTestClient(objects ...runtime.Object) (*Client, *dynamicfake.FakeDynamicClient) {
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(),
		map[schema.GroupVersionResource]string{
			PoolScalingGVR: PoolScalingKind + "List",
			TaskQueueGVR:   TaskQueueKind + "List",
		}, objects...)
	logger, _ := test.NewNullLogger()
	return NewClientFromInterfaces(fake.NewSimpleClientset(), dyn, apiextensionsfake.NewSimpleClientset(), nil, logger), dyn
}

func poolScalingSpec() map[string]interface{} {
	return map[string]interface{}{
		"policies": []interface{}{
			map[string]interface{}{
				"name": "morning-spikes",
				"type": "fixed",
				"enabled_periods": []interface{}{
					map[string]interface{}{
						"name":           "weekday-mornings",
						"type":           "weekly_recurring",
						"days":           []interface{}{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"},
						"start_time_utc": "06:00:00",
						"end_time_utc":   "10:00:00",
					},
				},
				"slots_count": int64(512),
			},
			map[string]interface{}{
				"name":                  "auto-elastic",
				"type":                  "managed_tasks_queue",
				"enabled_periods":       []interface{}{map[string]interface{}{"name": "default", "type": "always"}},
				"min_total_slots":       int64(4),
				"max_total_slots":       int64(128),
				"min_idle_slots":        int64(4),
				"min_idle_time_seconds": int64(90),
				"scaling_factor":        0.2,
			},
		},
	}
}

func poolScalingObject(generation int64, spec map[string]interface{}) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": Group + "/" + Version,
		"kind":       PoolScalingKind,
		"metadata": map[string]interface{}{
			"name":      "render-pool",
			"namespace": testNamespace,
		},
		"spec": spec,
	}}
	obj.SetGeneration(generation)
	return obj
}

func TestPolicyWatcher_CheckCRD(t *testing.T) {
	crd := func(established bool, version string) *apiextensionsv1.CustomResourceDefinition {
		status := apiextensionsv1.ConditionFalse
		if established {
			status = apiextensionsv1.ConditionTrue
		}
		return &apiextensionsv1.CustomResourceDefinition{
			ObjectMeta: metav1.ObjectMeta{Name: PoolScalingCRDName},
			Spec: apiextensionsv1.CustomResourceDefinitionSpec{
				Group:    Group,
				Versions: []apiextensionsv1.CustomResourceDefinitionVersion{{Name: version, Served: true, Storage: true}},
			},
			Status: apiextensionsv1.CustomResourceDefinitionStatus{
				Conditions: []apiextensionsv1.CustomResourceDefinitionCondition{{Type: apiextensionsv1.Established, Status: status}},
			},
		}
	}

	tests := []struct {
		name    string
		objects []runtime.Object
		wantErr bool
	}{
		{"established", []runtime.Object{crd(true, Version)}, false},
		{"not established", []runtime.Object{crd(false, Version)}, true},
		{"wrong version", []runtime.Object{crd(true, "v2")}, true},
		{"missing", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			client := NewClientFromInterfaces(fake.NewSimpleClientset(), nil, apiextensionsfake.NewSimpleClientset(tt.objects...), nil, logger)
			pw := NewPolicyWatcher(client, &recordingUpdater{}, testNamespace, "render-pool")

			err := pw.CheckCRD(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckCRD() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPolicyWatcher_Sync(t *testing.T) {
	client, _ := newDynamicTestClient(poolScalingObject(1, poolScalingSpec()))
	updater := &recordingUpdater{}
	pw := NewPolicyWatcher(client, updater, testNamespace, "render-pool")

	if _, err := pw.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if updater.count() != 1 {
		t.Fatalf("updates = %d, want 1", updater.count())
	}

	names := updater.updates[0].Names()
	if len(names) != 2 || names[0] != "morning-spikes" || names[1] != "auto-elastic" {
		t.Errorf("names = %v", names)
	}

	// generation 未变化（例如只更新了 status）时不重新加载
	if _, err := pw.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if updater.count() != 1 {
		t.Errorf("updates = %d after unchanged generation, want 1", updater.count())
	}
}

func TestPolicyWatcher_SetUpdaterKeepsGeneration(t *testing.T) {
	client, dyn := newDynamicTestClient(poolScalingObject(1, poolScalingSpec()))
	bootstrap := &recordingUpdater{}
	pw := NewPolicyWatcher(client, bootstrap, testNamespace, "render-pool")

	if _, err := pw.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if bootstrap.count() != 1 {
		t.Fatalf("bootstrap updates = %d, want 1", bootstrap.count())
	}

	ctrl := &recordingUpdater{}
	pw.SetUpdater(ctrl)
	if _, err := pw.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ctrl.count() != 0 {
		t.Errorf("same generation re-applied after SetUpdater: %d updates", ctrl.count())
	}

	if _, err := dyn.Resource(PoolScalingGVR).Namespace(testNamespace).Update(context.Background(),
		poolScalingObject(2, poolScalingSpec()), metav1.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := pw.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ctrl.count() != 1 || bootstrap.count() != 1 {
		t.Errorf("updates after new generation: ctrl = %d, bootstrap = %d", ctrl.count(), bootstrap.count())
	}
}

func TestPolicyWatcher_SyncNotFound(t *testing.T) {
	client, _ := newDynamicTestClient()
	updater := &recordingUpdater{}
	pw := NewPolicyWatcher(client, updater, testNamespace, "render-pool")

	rv, err := pw.Sync(context.Background())
	if err != nil || rv != "" {
		t.Errorf("Sync() = %q, %v", rv, err)
	}
	if updater.count() != 0 {
		t.Error("policies replaced although the resource does not exist")
	}
}

func TestPolicyWatcher_InvalidSpecKeepsPolicies(t *testing.T) {
	client, _ := newDynamicTestClient()
	updater := &recordingUpdater{}
	pw := NewPolicyWatcher(client, updater, testNamespace, "render-pool")

	if err := pw.apply(poolScalingObject(1, poolScalingSpec())); err != nil {
		t.Fatal(err)
	}

	// 结构错误：没有策略
	if err := pw.apply(poolScalingObject(2, map[string]interface{}{"policies": []interface{}{}})); err == nil {
		t.Error("expected schema error for empty policy list")
	}

	// 语义错误：min > max
	spec := poolScalingSpec()
	elastic := spec["policies"].([]interface{})[1].(map[string]interface{})
	elastic["min_total_slots"] = int64(200)
	err := pw.apply(poolScalingObject(3, spec))
	if !errors.Is(err, policy.ErrInvalidConfiguration) {
		t.Errorf("apply() error = %v, want ErrInvalidConfiguration", err)
	}

	if updater.count() != 1 {
		t.Errorf("updates = %d, want only the valid spec applied", updater.count())
	}

	// 之后的合法版本仍然生效
	if err := pw.apply(poolScalingObject(4, poolScalingSpec())); err != nil {
		t.Fatal(err)
	}
	if updater.count() != 2 {
		t.Errorf("updates = %d, want 2", updater.count())
	}
}

func TestScalingFromSpec(t *testing.T) {
	s, err := ScalingFromSpec(poolScalingSpec())
	if err != nil {
		t.Fatalf("ScalingFromSpec() error = %v", err)
	}
	p := s.Policies()[1]
	if p.ManagedQueue == nil || p.ManagedQueue.MaxTotalSlots != 128 || p.ManagedQueue.ScalingFactor != 0.2 {
		t.Errorf("managed policy = %+v", p)
	}
	if len(s.Warnings()) != 0 {
		t.Errorf("warnings = %v", s.Warnings())
	}
}
