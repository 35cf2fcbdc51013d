package instrument

import (
	"sync"

	"github.com/nerrad567/experiment-core/internal/component"
)

// RotationAxis is one rotary axis, in degrees.
type RotationAxis interface {
	TargetPosition() float64
	SetTargetPosition(deg float64)
	ActualPosition() float64
}

// Rotation is the capability contract of a rotation mount.
type Rotation interface {
	component.Component

	Axes() []RotationAxis
}

// FakeRotationAxis is an unbounded rotary axis with a noisy reading.
type FakeRotationAxis struct {
	mu     sync.Mutex
	target float64
}

func (a *FakeRotationAxis) TargetPosition() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.target
}

func (a *FakeRotationAxis) SetTargetPosition(deg float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.target = deg
}

func (a *FakeRotationAxis) ActualPosition() float64 {
	return a.TargetPosition() + noise()*0.1
}

// FakeRotation is a four-axis rotation mount stand-in.
type FakeRotation struct {
	axes []RotationAxis
}

// NewFakeRotation creates a FakeRotation.
func NewFakeRotation() (*FakeRotation, error) {
	axes := make([]RotationAxis, 4)
	for i := range axes {
		axes[i] = &FakeRotationAxis{}
	}
	return &FakeRotation{axes: axes}, nil
}

func (r *FakeRotation) Axes() []RotationAxis {
	return r.axes
}

func (r *FakeRotation) Close() error {
	return nil
}
