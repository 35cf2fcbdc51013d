package instrument

import (
	"math"
	"sync"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
)

// Laser is the capability contract of a pulsed laser source.
type Laser interface {
	component.Component

	IsOn() bool
	SetOn(on bool)

	// TargetPower is the requested output power; SetTargetPower clamps to
	// [0, MaxTargetPower].
	TargetPower() float64
	SetTargetPower(power float64)
	MaxTargetPower() float64

	// ActualPower is the measured output power, 0 when the laser is off.
	ActualPower() float64

	BurstSize() int
	SetBurstSize(n int)
	BurstFrequencyDivider() int
	SetBurstFrequencyDivider(n int)
	Burst() error
}

// FakeLaserSettings configures the FakeLaser.
type FakeLaserSettings struct {
	Test string `validate:"omitempty,oneof=a b c"`
}

// SettingOptions restricts Test to the values the fake understands.
func (FakeLaserSettings) SettingOptions() map[string][]string {
	return map[string][]string{"Test": {"a", "b", "c"}}
}

const fakeLaserMaxPower = 1000

// FakeLaser is a laser stand-in with a noisy power reading.
type FakeLaser struct {
	mu       sync.Mutex
	settings FakeLaserSettings
	on       bool
	power    float64
	size     int
	divider  int
	bursts   int
}

// NewFakeLaser creates a FakeLaser.
func NewFakeLaser(settings FakeLaserSettings) (*FakeLaser, error) {
	return &FakeLaser{settings: settings}, nil
}

// Settings returns the settings the laser was built with.
func (l *FakeLaser) Settings() FakeLaserSettings {
	return l.settings
}

func (l *FakeLaser) IsOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *FakeLaser) SetOn(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = on
}

func (l *FakeLaser) TargetPower() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.power
}

func (l *FakeLaser) SetTargetPower(power float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.power = clamp(power, 0, fakeLaserMaxPower)
}

func (l *FakeLaser) MaxTargetPower() float64 {
	return fakeLaserMaxPower
}

func (l *FakeLaser) ActualPower() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.on {
		return 0
	}
	return l.power + noise()*10
}

func (l *FakeLaser) BurstSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

func (l *FakeLaser) SetBurstSize(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.size = n
}

func (l *FakeLaser) BurstFrequencyDivider() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.divider
}

func (l *FakeLaser) SetBurstFrequencyDivider(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.divider = n
}

// Burst records a burst; the fake has no hardware to fire.
func (l *FakeLaser) Burst() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bursts++
	return nil
}

func (l *FakeLaser) Close() error {
	l.SetOn(false)
	return nil
}

// noise returns a value in [0, 2] that varies with wall-clock time.
func noise() float64 {
	return 1 + math.Sin(float64(time.Now().UnixNano()))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
