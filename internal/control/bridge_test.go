package control

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/experiment-core/internal/instrument"
)

type published struct {
	payload  []byte
	retained bool
}

// fakeBroker records publishes and hands out the registered handlers.
type fakeBroker struct {
	mu           sync.Mutex
	published    map[string]published
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	subscribeErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		published: make(map[string]published),
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = published{payload: payload, retained: retained}
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil && len(f.handlers) > 0 {
		return f.subscribeErr
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topic)
	delete(f.handlers, topic)
	return nil
}

// deliver routes a message the way the broker would for the two patterns
// the bridge subscribes to.
func (f *fakeBroker) deliver(t *testing.T, pattern, topic, payload string) error {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[pattern]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed for %s", pattern)
	}
	return h(topic, []byte(payload))
}

func (f *fakeBroker) state(t *testing.T, topic string) SlotState {
	t.Helper()
	f.mu.Lock()
	p, ok := f.published[topic]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("nothing published on %s", topic)
	}
	if !p.retained {
		t.Errorf("%s published without retain", topic)
	}
	var s SlotState
	if err := json.Unmarshal(p.payload, &s); err != nil {
		t.Fatalf("invalid state payload: %v", err)
	}
	return s
}

func startBridge(t *testing.T) (*component.Container, *fakeBroker, *Bridge) {
	t.Helper()
	c := component.NewContainer()
	if err := instrument.RegisterAll(c); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	broker := newFakeBroker()
	b := New(c, broker, 1)
	b.jogInterval = 0 // tests drive step directly
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Stop() })
	return c, broker, b
}

func TestShapeAxis(t *testing.T) {
	tests := []struct {
		raw  float64
		want float64
	}{
		{0, 0},
		{0.1, 0},
		{-0.19, 0},
		{1, 1},
		{-1, -1},
		{2, 1},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := ShapeAxis(tt.raw, DefaultDeadZone); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ShapeAxis(%v) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	// Monotonic and fine-grained near the dead zone.
	prev := 0.0
	for raw := 0.2; raw <= 1; raw += 0.05 {
		v := ShapeAxis(raw, DefaultDeadZone)
		if v < prev {
			t.Errorf("ShapeAxis not monotonic at %v", raw)
		}
		prev = v
	}
	if v := ShapeAxis(0.6, DefaultDeadZone); v <= 0 || v > 0.1 {
		t.Errorf("ShapeAxis(0.6) = %v, want a small positive value", v)
	}
	if v := ShapeAxis(0.5, 0); v <= 0 {
		t.Errorf("ShapeAxis without dead zone = %v, want positive", v)
	}
	if v := ShapeAxis(1, 1); v != 0 {
		t.Errorf("ShapeAxis with full dead zone = %v, want 0", v)
	}
}

func TestBridge_PublishesInitialState(t *testing.T) {
	_, broker, _ := startBridge(t)

	s := broker.state(t, "experiment/core/slot/pressure/pressure-sensor/active")
	if s.Contract != "pressure" || s.Slot != "Pressure Sensor" || s.Implementation != "" {
		t.Errorf("state = %+v", s)
	}
}

func TestBridge_Command(t *testing.T) {
	c, broker, _ := startBridge(t)
	pattern := mqtt.Topics{}.AllSlotCommands()

	err := broker.deliver(t, pattern, "experiment/command/slot/laser/laser",
		`{"implementation":"FakeLaser","settings":{"Test":"c"}}`)
	if err != nil {
		t.Fatalf("command error = %v", err)
	}

	laser, ok, _ := component.ActiveAs[*instrument.FakeLaser](c, instrument.LaserContract, "")
	if !ok || laser.Settings().Test != "c" {
		t.Fatalf("laser not activated with settings: %v", ok)
	}
	s := broker.state(t, "experiment/core/slot/laser/laser/active")
	if s.Implementation != "FakeLaser" || s.DisplayName == "" {
		t.Errorf("state = %+v", s)
	}

	if err := broker.deliver(t, pattern, "experiment/command/slot/laser/laser", `{"implementation":null}`); err != nil {
		t.Fatalf("disable command error = %v", err)
	}
	if name, _ := c.ActiveName(instrument.LaserContract, ""); name != "" {
		t.Errorf("ActiveName() = %q after null command", name)
	}
}

func TestBridge_CommandErrors(t *testing.T) {
	_, broker, _ := startBridge(t)
	pattern := mqtt.Topics{}.AllSlotCommands()

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"unknown slot", "experiment/command/slot/laser/nope", `{}`, ErrUnknownTopic},
		{"wrong contract", "experiment/command/slot/stage/laser", `{}`, ErrUnknownTopic},
		{"bad json", "experiment/command/slot/laser/laser", `{`, ErrInvalidPayload},
		{"unknown implementation", "experiment/command/slot/laser/laser", `{"implementation":"X"}`, component.ErrUnknownImplementation},
		{"invalid settings", "experiment/command/slot/laser/laser", `{"implementation":"FakeLaser","settings":{"Test":"z"}}`, component.ErrInvalidSettings},
		{"misspelt setting", "experiment/command/slot/laser/laser", `{"implementation":"FakeLaser","settings":{"Tset":"b"}}`, component.ErrSettingsTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := broker.deliver(t, pattern, tt.topic, tt.payload); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBridge_Jog(t *testing.T) {
	c, broker, b := startBridge(t)
	pattern := mqtt.Topics{}.AllStageAxisInputs()

	if err := c.Activate(instrument.StageContract, "", "FakeStage", nil); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	stage, _, _ := component.ActiveAs[instrument.Stage](c, instrument.StageContract, "")

	if err := broker.deliver(t, pattern, "experiment/input/stage/stage/axis/x", "1"); err != nil {
		t.Fatalf("axis input error = %v", err)
	}
	if err := broker.deliver(t, pattern, "experiment/input/stage/stage/axis/z", "0.1"); err != nil {
		t.Fatalf("axis input error = %v", err)
	}

	b.step(0.1)
	if got := stage.Axes()[0].TargetPosition(); math.Abs(got-20) > 1e-9 {
		t.Errorf("x target = %v, want 20", got)
	}
	if got := stage.Axes()[2].TargetPosition(); got != 0 {
		t.Errorf("z target = %v, want 0 inside the dead zone", got)
	}

	// Releasing the stick stops the axis.
	if err := broker.deliver(t, pattern, "experiment/input/stage/stage/axis/x", "0"); err != nil {
		t.Fatalf("axis input error = %v", err)
	}
	b.step(0.1)
	if got := stage.Axes()[0].TargetPosition(); math.Abs(got-20) > 1e-9 {
		t.Errorf("x target = %v after release, want 20", got)
	}

	// Swapping the stage drops pending jogs.
	_ = broker.deliver(t, pattern, "experiment/input/stage/stage/axis/y", "-1")
	if err := c.Reload(instrument.StageContract, ""); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	b.mu.Lock()
	pending := len(b.jog)
	b.mu.Unlock()
	if pending != 0 {
		t.Errorf("%d jogs pending after stage swap", pending)
	}
}

func TestBridge_AxisInputErrors(t *testing.T) {
	_, broker, _ := startBridge(t)
	pattern := mqtt.Topics{}.AllStageAxisInputs()

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"unknown stage", "experiment/input/stage/other/axis/x", "1", ErrUnknownTopic},
		{"unknown axis", "experiment/input/stage/stage/axis/q", "1", ErrUnknownTopic},
		{"not a number", "experiment/input/stage/stage/axis/x", "fast", ErrInvalidPayload},
		{"infinite", "experiment/input/stage/stage/axis/x", "Inf", ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := broker.deliver(t, pattern, tt.topic, tt.payload); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBridge_StartStop(t *testing.T) {
	_, broker, b := startBridge(t)

	if err := b.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(broker.unsubscribed) != 2 {
		t.Errorf("unsubscribed = %v, want both patterns", broker.unsubscribed)
	}
	if err := b.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestBridge_StartSubscribeFailure(t *testing.T) {
	c := component.NewContainer()
	defer c.Close()
	broker := newFakeBroker()
	broker.subscribeErr = errors.New("not authorised")

	b := New(c, broker, 1)
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want subscribe failure")
	}
	if len(broker.unsubscribed) != 1 {
		t.Errorf("unsubscribed = %v, want the first pattern rolled back", broker.unsubscribed)
	}
	// A failed start can be retried.
	broker.subscribeErr = nil
	if err := b.Start(context.Background()); err != nil {
		t.Errorf("retry Start() error = %v", err)
	}
	_ = b.Stop()
}
