package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nodiggity/zonewatch/pkg/model"
)

// fakeHandler records invocations and can be told to fail, panic or hang.
type fakeHandler struct {
	name  string
	fail  error
	panic bool
	block time.Duration

	mu     sync.Mutex
	alerts []model.Alert
}

func (h *fakeHandler) Name() string { return h.name }

func (h *fakeHandler) Trigger(ctx context.Context, alert *model.Alert) error {
	if h.panic {
		panic("broken handler")
	}
	if h.block > 0 {
		select {
		case <-time.After(h.block):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	h.alerts = append(h.alerts, *alert)
	h.mu.Unlock()
	return h.fail
}

func (h *fakeHandler) Close() error { return nil }

func (h *fakeHandler) invocations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.alerts)
}

func testEvent(frameID uint64, detections int) *model.DetectionEvent {
	ev := &model.DetectionEvent{FrameID: frameID, Timestamp: time.Now()}
	for i := 0; i < detections; i++ {
		ev.Detections = append(ev.Detections, model.Detection{
			X1: 10, Y1: 10, X2: 100, Y2: 200, Confidence: 0.9, ClassName: "dog",
		})
	}
	return ev
}

func constantCooldown(d time.Duration) func(string) time.Duration {
	return func(string) time.Duration { return d }
}

func TestDispatchInvokesAllHandlersInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	mk := func(name string) Handler {
		return handlerFunc{name: name, fn: func(context.Context, *model.Alert) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}}
	}
	d := NewDispatcher(NewCooldownGate(constantCooldown(time.Minute)),
		[]Handler{mk("gpio"), mk("snapshot"), mk("log")}, time.Second, nil)

	result := d.Dispatch(testEvent(1, 1), []string{"couch"}, time.Now())
	if !result.Dispatched {
		t.Fatalf("expected dispatch")
	}
	want := []string{"gpio", "snapshot", "log"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("handler order = %v, want %v", order, want)
	}
}

func TestDispatchIsolatesFailingHandler(t *testing.T) {
	first := &fakeHandler{name: "first"}
	broken := &fakeHandler{name: "broken", fail: errors.New("boom")}
	last := &fakeHandler{name: "last"}

	d := NewDispatcher(NewCooldownGate(constantCooldown(time.Minute)),
		[]Handler{first, broken, last}, time.Second, nil)

	result := d.Dispatch(testEvent(1, 2), []string{"couch"}, time.Now())
	if !result.Dispatched {
		t.Fatalf("failing handler suppressed the alert")
	}
	if first.invocations() != 1 || last.invocations() != 1 {
		t.Fatalf("handlers around the failure were skipped: first=%d last=%d",
			first.invocations(), last.invocations())
	}

	failed := result.Failed()
	if len(failed) != 1 || failed[0].Handler != "broken" {
		t.Fatalf("failed = %+v, want exactly the broken handler", failed)
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	panicky := &fakeHandler{name: "panicky", panic: true}
	after := &fakeHandler{name: "after"}

	d := NewDispatcher(NewCooldownGate(constantCooldown(time.Minute)),
		[]Handler{panicky, after}, time.Second, nil)

	result := d.Dispatch(testEvent(1, 1), []string{"couch"}, time.Now())
	failed := result.Failed()
	if len(failed) != 1 || !strings.Contains(failed[0].Err.Error(), "panic") {
		t.Fatalf("panic not converted to handler error: %+v", failed)
	}
	if after.invocations() != 1 {
		t.Fatalf("handler after the panic was not invoked")
	}
}

func TestDispatchTimesOutSlowHandler(t *testing.T) {
	slow := &fakeHandler{name: "slow", block: time.Second}
	d := NewDispatcher(NewCooldownGate(constantCooldown(time.Minute)),
		[]Handler{slow}, 20*time.Millisecond, nil)

	result := d.Dispatch(testEvent(1, 1), []string{"couch"}, time.Now())
	failed := result.Failed()
	if len(failed) != 1 {
		t.Fatalf("slow handler did not time out: %+v", result.Handlers)
	}
}

func TestDispatchDropsCoolingZonesKeepsRest(t *testing.T) {
	gate := NewCooldownGate(constantCooldown(30 * time.Second))
	h := &fakeHandler{name: "h"}
	info := map[string]ZoneInfo{
		"couch":   {Name: "Couch"},
		"counter": {Name: "Counter"},
	}
	d := NewDispatcher(gate, []Handler{h}, time.Second, info)

	t0 := time.Unix(1000, 0)
	gate.MarkDispatched([]string{"couch"}, t0)

	result := d.Dispatch(testEvent(5, 1), []string{"couch", "counter"}, t0.Add(10*time.Second))
	if !result.Dispatched {
		t.Fatalf("alert suppressed entirely; only couch was cooling down")
	}
	if len(result.Alert.Zones) != 1 || result.Alert.Zones[0] != "Counter" {
		t.Fatalf("alert zones = %v, want [Counter]", result.Alert.Zones)
	}

	// couch's cooldown stamp must be untouched by the reduced alert.
	if gate.Allow("couch", t0.Add(29*time.Second)) {
		t.Fatalf("couch cooldown was re-stamped or cleared")
	}
	if !gate.Allow("couch", t0.Add(30*time.Second)) {
		t.Fatalf("couch cooldown extended by an alert it was not part of")
	}
}

func TestDispatchEmptySurvivingSetMutatesNothing(t *testing.T) {
	gate := NewCooldownGate(constantCooldown(30 * time.Second))
	h := &fakeHandler{name: "h"}
	d := NewDispatcher(gate, []Handler{h}, time.Second, nil)

	t0 := time.Unix(1000, 0)
	gate.MarkDispatched([]string{"couch"}, t0)

	result := d.Dispatch(testEvent(7, 1), []string{"couch"}, t0.Add(time.Second))
	if result.Dispatched {
		t.Fatalf("dispatched with every zone cooling down")
	}
	if h.invocations() != 0 {
		t.Fatalf("handlers ran for a fully suppressed alert")
	}
	// Original stamp preserved.
	if !gate.Allow("couch", t0.Add(30*time.Second)) {
		t.Fatalf("suppressed dispatch re-stamped the cooldown")
	}
}

func TestDispatchAlertCarriesEventData(t *testing.T) {
	info := map[string]ZoneInfo{"couch": {Name: "Couch", Polygon: []model.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}}}
	d := NewDispatcher(NewCooldownGate(constantCooldown(time.Minute)), nil, time.Second, info)

	ev := testEvent(42, 3)
	ev.FrameJPEG = []byte{0xff, 0xd8}
	result := d.Dispatch(ev, []string{"couch"}, time.Now())

	a := result.Alert
	if a.ID == "" {
		t.Fatalf("alert has no ID")
	}
	if a.FrameID != 42 || a.DetectionCount != 3 {
		t.Fatalf("alert frame/count = %d/%d, want 42/3", a.FrameID, a.DetectionCount)
	}
	if len(a.ZonePolygons["couch"]) != 3 {
		t.Fatalf("zone polygon not carried into the alert")
	}
	if len(a.FrameJPEG) == 0 {
		t.Fatalf("frame payload not carried into the alert")
	}
}

// handlerFunc adapts a function to the Handler interface for tests.
type handlerFunc struct {
	name string
	fn   func(context.Context, *model.Alert) error
}

func (h handlerFunc) Name() string { return h.name }
func (h handlerFunc) Trigger(ctx context.Context, a *model.Alert) error {
	return h.fn(ctx, a)
}
func (h handlerFunc) Close() error { return nil }
