package telemetry

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/instrument"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = time.Second

// ErrAlreadyStarted is returned by Start on a running sampler.
var ErrAlreadyStarted = errors.New("telemetry: sampler already started")

// axisNames label stage and rotation axes by index.
var axisNames = []string{"x", "y", "z", "u", "v", "w"}

// Writer stores readings and activation outcomes. It is implemented by
// *influxdb.Client.
type Writer interface {
	WriteReading(contract, slot, implementation string, fields map[string]any, ts time.Time) error
	WriteSlotChange(contract, slot, implementation string, activationErr error, ts time.Time) error
}

// Logger defines the logging interface used by the Sampler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sampler periodically reads the live properties of every active instance
// and hands them to a Writer. A freshly activated instance is sampled right
// away.
type Sampler struct {
	container *component.Container
	writer    Writer
	interval  time.Duration
	logger    Logger

	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	stopChange func()
}

// New creates a Sampler writing to w every interval.
func New(c *component.Container, w Writer, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		container: c,
		writer:    w,
		interval:  interval,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the sampler.
func (s *Sampler) SetLogger(logger Logger) {
	s.logger = logger
}

// Start begins sampling in the background until ctx is cancelled or Stop
// is called.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopChange = s.container.OnChange(s.onChange)

	go s.loop(ctx)
	s.logger.Info("telemetry sampler started", "interval", s.interval)
	return nil
}

// Stop halts sampling and waits for the loop to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done, stopChange := s.cancel, s.done, s.stopChange
	s.cancel, s.stopChange = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	stopChange()
	cancel()
	<-done
}

func (s *Sampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sample(now)
		}
	}
}

// onChange records the activation outcome and samples the new instance
// right away.
func (s *Sampler) onChange(ch component.Change) {
	now := time.Now()
	if err := s.writer.WriteSlotChange(ch.Slot.Contract.Key(), ch.Slot.ID, ch.Implementation, ch.Err, now); err != nil {
		s.logger.Warn("writing slot change failed", "slot", ch.Slot.Key(), "error", err)
	}
	if ch.Err != nil || ch.Component == nil {
		return
	}
	s.write(ch.Slot, ch.Implementation, ch.Component, now)
}

// Sample writes one reading for every active instance with readable
// properties and returns how many were written. Disabled slots are skipped.
func (s *Sampler) Sample(ts time.Time) int {
	written := 0
	for _, info := range s.container.Slots() {
		if info.Active == "" {
			continue
		}
		active, err := s.container.Active(info.Ref.Contract, info.Ref.ID)
		if err != nil || active == nil {
			continue
		}
		if s.write(info.Ref, info.Active, active, ts) {
			written++
		}
	}
	return written
}

func (s *Sampler) write(ref component.SlotRef, implementation string, active component.Component, ts time.Time) bool {
	fields := Readings(active)
	if len(fields) == 0 {
		return false
	}
	if err := s.writer.WriteReading(ref.Contract.Key(), ref.ID, implementation, fields, ts); err != nil {
		s.logger.Warn("writing reading failed", "slot", ref.Key(), "error", err)
		return false
	}
	return true
}

// Readings returns the live properties of an instance as point fields.
// Instances of a contract with nothing to sample return nil.
func Readings(active component.Component) map[string]any {
	switch v := active.(type) {
	case instrument.Laser:
		return map[string]any{
			"on":           v.IsOn(),
			"target_power": v.TargetPower(),
			"actual_power": v.ActualPower(),
		}
	case instrument.Stage:
		fields := make(map[string]any)
		for i, ax := range v.Axes() {
			fields["position_"+axisName(i)] = ax.ActualPosition()
		}
		return fields
	case instrument.Rotation:
		fields := make(map[string]any)
		for i, ax := range v.Axes() {
			fields["position_"+axisName(i)] = ax.ActualPosition()
		}
		return fields
	case instrument.ADC:
		fields := make(map[string]any)
		for i, ch := range v.Channels() {
			fields["voltage_"+strconv.Itoa(i)] = ch.Voltage()
		}
		return fields
	case instrument.PressureSensor:
		return map[string]any{"pressure": float64(v.CurrentPressure())}
	case instrument.Camera:
		return map[string]any{
			"framerate":    v.Framerate(),
			"buffer_usage": v.BufferUsage(),
			"exposure":     v.Exposure(),
		}
	}
	return nil
}

func axisName(i int) string {
	if i < len(axisNames) {
		return axisNames[i]
	}
	return strconv.Itoa(i)
}
