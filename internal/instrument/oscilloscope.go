package instrument

import (
	"math"

	"github.com/nerrad567/experiment-core/internal/component"
)

// Sample is one waveform point.
type Sample struct {
	Time  float32 `json:"t"`
	Value float32 `json:"v"`
}

// Oscilloscope is the capability contract of a sampling oscilloscope.
type Oscilloscope interface {
	component.Component

	Waveform(channel string) ([]Sample, error)
}

// FakeOscilloscopeSettings configures the FakeOscilloscope. It has no
// fields yet but keeps the settings editor path exercised.
type FakeOscilloscopeSettings struct{}

const fakeWaveformPoints = 1000

// FakeOscilloscope returns one sine period on every channel.
type FakeOscilloscope struct{}

// NewFakeOscilloscope creates a FakeOscilloscope.
func NewFakeOscilloscope(FakeOscilloscopeSettings) (*FakeOscilloscope, error) {
	return &FakeOscilloscope{}, nil
}

func (o *FakeOscilloscope) Waveform(string) ([]Sample, error) {
	out := make([]Sample, fakeWaveformPoints)
	for i := range out {
		t := float64(i) / fakeWaveformPoints
		out[i] = Sample{Time: float32(t), Value: float32(math.Sin(2 * math.Pi * t))}
	}
	return out, nil
}

func (o *FakeOscilloscope) Close() error {
	return nil
}
