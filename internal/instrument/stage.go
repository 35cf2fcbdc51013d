package instrument

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
)

// Axis is one linear axis of a stage.
type Axis interface {
	TargetPosition() float64
	// SetTargetPosition clamps to [MinPosition, MaxPosition].
	SetTargetPosition(pos float64)
	ActualPosition() float64
	MinPosition() float64
	MaxPosition() float64
}

// Stage is the capability contract of a motorised positioning stage.
type Stage interface {
	component.Component

	Axes() []Axis

	// ScanCircle moves the first two axes around the current target
	// position and restores it afterwards. It returns when the requested
	// number of circles is done or ctx is cancelled.
	ScanCircle(ctx context.Context, radius float64, period time.Duration, circles int) error
}

// ErrInvalidScan is returned for a non-positive scan period or circle count.
var ErrInvalidScan = errors.New("instrument: invalid scan parameters")

const scanStep = 10 * time.Millisecond

// FakeAxis is a 0..1000 axis with a noisy position reading.
type FakeAxis struct {
	mu       sync.Mutex
	position float64
}

func (a *FakeAxis) TargetPosition() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

func (a *FakeAxis) SetTargetPosition(pos float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.position = clamp(pos, a.MinPosition(), a.MaxPosition())
}

func (a *FakeAxis) ActualPosition() float64 {
	return a.TargetPosition() + noise()*0.1
}

func (a *FakeAxis) MinPosition() float64 { return 0 }
func (a *FakeAxis) MaxPosition() float64 { return 1000 }

// FakeStage is a three-axis stage stand-in.
type FakeStage struct {
	axes []Axis
}

// NewFakeStage creates a FakeStage with three axes at 0.
func NewFakeStage() (*FakeStage, error) {
	return &FakeStage{axes: []Axis{&FakeAxis{}, &FakeAxis{}, &FakeAxis{}}}, nil
}

// Axes returns the stage axes. The slice is shared; do not modify it.
func (s *FakeStage) Axes() []Axis {
	return s.axes
}

func (s *FakeStage) ScanCircle(ctx context.Context, radius float64, period time.Duration, circles int) error {
	if period <= 0 || circles <= 0 {
		return ErrInvalidScan
	}

	x, y := s.axes[0], s.axes[1]
	centreX, centreY := x.TargetPosition(), y.TargetPosition()
	defer func() {
		x.SetTargetPosition(centreX)
		y.SetTargetPosition(centreY)
	}()

	ticker := time.NewTicker(scanStep)
	defer ticker.Stop()

	start := time.Now()
	for {
		round := float64(time.Since(start)) / float64(period)
		if round > float64(circles) {
			return nil
		}
		phi := 2 * math.Pi * round
		x.SetTargetPosition(centreX + radius*math.Sin(phi))
		y.SetTargetPosition(centreY + radius*math.Cos(phi))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *FakeStage) Close() error {
	return nil
}
