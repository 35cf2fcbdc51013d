package instrument

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
)

// PressureSensor is the capability contract of a vacuum gauge.
type PressureSensor interface {
	component.Component

	CurrentPressure() float32
}

const fakePressureInterval = 500 * time.Millisecond

// FakePressureSensor polls a random pressure in [0, 1) every 500 ms.
type FakePressureSensor struct {
	pressure atomic.Uint32 // float32 bits

	interval  time.Duration
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewFakePressureSensor creates a FakePressureSensor and starts polling.
func NewFakePressureSensor() (*FakePressureSensor, error) {
	return newFakePressureSensor(fakePressureInterval), nil
}

func newFakePressureSensor(interval time.Duration) *FakePressureSensor {
	s := &FakePressureSensor{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.poll()
	return s
}

func (s *FakePressureSensor) poll() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.pressure.Store(math.Float32bits(rand.Float32()))
		}
	}
}

func (s *FakePressureSensor) CurrentPressure() float32 {
	return math.Float32frombits(s.pressure.Load())
}

// Close stops polling. It is safe to call more than once.
func (s *FakePressureSensor) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
