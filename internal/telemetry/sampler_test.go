package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/instrument"
)

type reading struct {
	contract       string
	slot           string
	implementation string
	fields         map[string]any
}

type change struct {
	slot           string
	implementation string
	failed         bool
}

type fakeWriter struct {
	mu       sync.Mutex
	readings []reading
	changes  []change
	err      error
}

func (f *fakeWriter) WriteSlotChange(_, slot, implementation string, activationErr error, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, change{slot, implementation, activationErr != nil})
	return nil
}

func (f *fakeWriter) slotChanges() []change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]change(nil), f.changes...)
}

func (f *fakeWriter) WriteReading(contract, slot, implementation string, fields map[string]any, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.readings = append(f.readings, reading{contract, slot, implementation, fields})
	return nil
}

func (f *fakeWriter) snapshot() []reading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reading(nil), f.readings...)
}

func (f *fakeWriter) reset() {
	f.mu.Lock()
	f.readings = nil
	f.changes = nil
	f.mu.Unlock()
}

func newContainer(t *testing.T) *component.Container {
	t.Helper()
	c := component.NewContainer()
	if err := instrument.RegisterAll(c); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func activate(t *testing.T, c *component.Container, contract *component.Contract, name string) {
	t.Helper()
	if err := c.Activate(contract, "", name, nil); err != nil {
		t.Fatalf("Activate(%s) error = %v", name, err)
	}
}

func TestReadings(t *testing.T) {
	laser, _ := instrument.NewFakeLaser(instrument.FakeLaserSettings{Test: "a"})
	stage, _ := instrument.NewFakeStage()
	rotation, _ := instrument.NewFakeRotation()
	adc, _ := instrument.NewFakeADC()
	scope, _ := instrument.NewFakeOscilloscope(instrument.FakeOscilloscopeSettings{})
	t.Cleanup(func() {
		_ = laser.Close()
		_ = stage.Close()
		_ = rotation.Close()
		_ = adc.Close()
	})

	tests := []struct {
		name       string
		instance   component.Component
		wantFields []string
	}{
		{"laser", laser, []string{"on", "target_power", "actual_power"}},
		{"stage", stage, []string{"position_x", "position_y", "position_z"}},
		{"rotation", rotation, []string{"position_x"}},
		{"adc", adc, []string{"voltage_0"}},
		{"oscilloscope", scope, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Readings(tt.instance)
			if tt.wantFields == nil && fields != nil {
				t.Errorf("Readings() = %v, want nil", fields)
			}
			for _, f := range tt.wantFields {
				if _, ok := fields[f]; !ok {
					t.Errorf("Readings() missing %q in %v", f, fields)
				}
			}
		})
	}
}

func TestSample_SkipsDisabledSlots(t *testing.T) {
	c := newContainer(t)
	w := &fakeWriter{}
	s := New(c, w, time.Hour)

	if n := s.Sample(time.Now()); n != 0 {
		t.Errorf("Sample() with nothing active = %d, want 0", n)
	}

	activate(t, c, instrument.LaserContract, "FakeLaser")
	activate(t, c, instrument.StageContract, "FakeStage")
	activate(t, c, instrument.OscilloscopeContract, "FakeOscilloscope")

	if n := s.Sample(time.Now()); n != 2 {
		t.Fatalf("Sample() = %d, want 2", n)
	}
	got := w.snapshot()
	if got[0].contract != "laser" || got[0].slot != "Laser" || got[0].implementation != "FakeLaser" {
		t.Errorf("first reading = %+v", got[0])
	}
	if got[1].contract != "stage" {
		t.Errorf("second reading contract = %q, want stage", got[1].contract)
	}
}

func TestSample_WriteError(t *testing.T) {
	c := newContainer(t)
	activate(t, c, instrument.LaserContract, "FakeLaser")

	w := &fakeWriter{err: errors.New("buffer full")}
	s := New(c, w, time.Hour)
	if n := s.Sample(time.Now()); n != 0 {
		t.Errorf("Sample() = %d with a failing writer, want 0", n)
	}
}

func TestSampler_SamplesOnActivation(t *testing.T) {
	c := newContainer(t)
	w := &fakeWriter{}
	s := New(c, w, time.Hour)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	activate(t, c, instrument.PressureSensorContract, "FakePressureSensor")
	got := w.snapshot()
	if len(got) != 1 || got[0].contract != "pressure" {
		t.Fatalf("readings = %+v, want one pressure reading", got)
	}
	if _, ok := got[0].fields["pressure"].(float64); !ok {
		t.Errorf("pressure field = %T, want float64", got[0].fields["pressure"])
	}

	// Disabling records the change but no reading.
	w.reset()
	if err := c.Disable(instrument.PressureSensorContract, ""); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if got := w.snapshot(); len(got) != 0 {
		t.Errorf("readings after disable = %+v", got)
	}
	if got := w.slotChanges(); len(got) != 1 || got[0].implementation != "" || got[0].failed {
		t.Errorf("changes after disable = %+v", got)
	}
}

func TestSampler_RecordsFailedActivation(t *testing.T) {
	c := newContainer(t)
	broken := component.Implement("BrokenStage", component.Descriptor{}, func() (*instrument.FakeStage, error) {
		return nil, errors.New("controller offline")
	})
	if err := c.RegisterImplementation(broken); err != nil {
		t.Fatalf("RegisterImplementation() error = %v", err)
	}

	w := &fakeWriter{}
	s := New(c, w, time.Hour)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if err := c.Activate(instrument.StageContract, "", "BrokenStage", nil); err == nil {
		t.Fatal("Activate(BrokenStage) succeeded")
	}
	got := w.slotChanges()
	if len(got) != 1 || got[0].slot != "Stage" || !got[0].failed {
		t.Errorf("changes = %+v, want one failed Stage change", got)
	}
	if len(w.snapshot()) != 0 {
		t.Error("failed activation produced a reading")
	}
}

func TestSampler_Loop(t *testing.T) {
	c := newContainer(t)
	activate(t, c, instrument.LaserContract, "FakeLaser")

	w := &fakeWriter{}
	s := New(c, w, 5*time.Millisecond)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(w.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	if n := len(w.snapshot()); n < 2 {
		t.Fatalf("readings = %d, want at least 2", n)
	}

	// No writes after Stop, including on activation.
	w.reset()
	activate(t, c, instrument.StageContract, "FakeStage")
	time.Sleep(20 * time.Millisecond)
	if got := w.snapshot(); len(got) != 0 {
		t.Errorf("readings after Stop = %+v", got)
	}
	if got := w.slotChanges(); len(got) != 0 {
		t.Errorf("changes after Stop = %+v", got)
	}
}

func TestSampler_StartTwice(t *testing.T) {
	c := newContainer(t)
	s := New(c, &fakeWriter{}, 0)
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want DefaultInterval", s.interval)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	s.Stop()
	s.Stop()
}
