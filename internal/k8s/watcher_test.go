package k8s

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	metricstypes "github.com/yourusername/poolscaler/pkg/metrics"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

const testNamespace = "render"

var podTime = time.Date(2024, 1, 3, 7, 0, 0, 0, time.UTC)

// fakeSink 记录收到的槽位事件
type fakeSink struct {
	mu      sync.Mutex
	slots   map[string]metricstypes.SlotEvent
	events  []metricstypes.SlotEvent
	removed []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{slots: make(map[string]metricstypes.SlotEvent)}
}

func (s *fakeSink) ObserveSlot(event metricstypes.SlotEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.slots[event.SlotID] = event
	return true
}

func (s *fakeSink) RemoveSlot(slotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, slotID)
	s.removed = append(s.removed, slotID)
}

func (s *fakeSink) SlotIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *fakeSink) slot(id string) (metricstypes.SlotEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.slots[id]
	return e, ok
}

func (s *fakeSink) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func slotPod(name string, phase corev1.PodPhase, annotations map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   testNamespace,
			Labels:      map[string]string{"app": "render-worker"},
			Annotations: annotations,
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func newTestClient(objects ...runtime.Object) (*Client, *fake.Clientset) {
	cs := fake.NewSimpleClientset(objects...)
	logger, _ := test.NewNullLogger()
	client := NewClientFromInterfaces(cs, nil, nil, nil, logger)
	client.SetReconnectInterval(10 * time.Millisecond)
	return client, cs
}

func TestSlotWatcher_Resync(t *testing.T) {
	busyAt := podTime.Add(-time.Minute)
	client, _ := newTestClient(
		slotPod("slot-busy", corev1.PodRunning, map[string]string{
			DefaultBusyAnnotation:                       "true",
			DefaultBusyAnnotation + BusyChangedAtSuffix: busyAt.Format(time.RFC3339),
		}),
		slotPod("slot-idle", corev1.PodRunning, nil),
		slotPod("slot-pending", corev1.PodPending, nil),
	)

	sink := newFakeSink()
	sink.ObserveSlot(metricstypes.SlotEvent{SlotID: "slot-gone", Timestamp: podTime})

	w := NewSlotWatcher(client, sink, SlotWatcherConfig{Namespace: testNamespace, Selector: "app=render-worker"})
	w.now = func() time.Time { return podTime }

	if _, err := w.Resync(context.Background()); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}

	got := sink.SlotIDs()
	if len(got) != 2 || got[0] != "slot-busy" || got[1] != "slot-idle" {
		t.Fatalf("slots = %v, want [slot-busy slot-idle]", got)
	}

	busy, _ := sink.slot("slot-busy")
	if !busy.Busy || !busy.Timestamp.Equal(busyAt) {
		t.Errorf("slot-busy event = %+v", busy)
	}
	idle, _ := sink.slot("slot-idle")
	if idle.Busy || !idle.Timestamp.Equal(podTime) {
		t.Errorf("slot-idle event = %+v", idle)
	}
}

func TestSlotWatcher_WatchEvents(t *testing.T) {
	client, cs := newTestClient()
	fw := watch.NewFake()
	cs.PrependWatchReactor("pods", k8stesting.DefaultWatchReactor(fw, nil))

	sink := newFakeSink()
	w := NewSlotWatcher(client, sink, SlotWatcherConfig{Namespace: testNamespace})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.doWatchPods(ctx) }()

	fw.Add(slotPod("slot-a", corev1.PodRunning, nil))
	waitFor(t, func() bool { _, ok := sink.slot("slot-a"); return ok })

	fw.Modify(slotPod("slot-a", corev1.PodRunning, map[string]string{DefaultBusyAnnotation: "busy"}))
	waitFor(t, func() bool { e, _ := sink.slot("slot-a"); return e.Busy })

	fw.Delete(slotPod("slot-a", corev1.PodRunning, nil))
	waitFor(t, func() bool { _, ok := sink.slot("slot-a"); return !ok })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("doWatchPods() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestSlotWatcher_TerminatingPodIsRemoved(t *testing.T) {
	client, _ := newTestClient()
	sink := newFakeSink()
	w := NewSlotWatcher(client, sink, SlotWatcherConfig{Namespace: testNamespace})

	pod := slotPod("slot-a", corev1.PodRunning, nil)
	w.handlePod(watch.Added, pod)

	now := metav1.NewTime(podTime)
	pod.DeletionTimestamp = &now
	w.handlePod(watch.Modified, pod)

	if ids := sink.SlotIDs(); len(ids) != 0 {
		t.Errorf("slots = %v, want none", ids)
	}
}

func TestSlotWatcher_MembershipOnly(t *testing.T) {
	client, _ := newTestClient()
	sink := newFakeSink()
	w := NewSlotWatcher(client, sink, SlotWatcherConfig{Namespace: testNamespace, MembershipOnly: true})

	pod := slotPod("slot-a", corev1.PodRunning, map[string]string{DefaultBusyAnnotation: "true"})
	w.handlePod(watch.Added, pod)
	w.handlePod(watch.Modified, pod)

	if n := sink.eventCount(); n != 1 {
		t.Fatalf("events = %d, want 1", n)
	}
	e, _ := sink.slot("slot-a")
	if e.Busy || e.Source != "membership" {
		t.Errorf("event = %+v", e)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
