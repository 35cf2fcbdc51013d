package instrument

import (
	"errors"
	"math"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
)

// ChannelRange is the input range of an analog channel.
type ChannelRange int

const (
	Range10V ChannelRange = iota
	Range1V
	Range100mV
	Range10mV
)

func (r ChannelRange) String() string {
	switch r {
	case Range10V:
		return "10V"
	case Range1V:
		return "1V"
	case Range100mV:
		return "100mV"
	case Range10mV:
		return "10mV"
	default:
		return "unknown"
	}
}

// ErrUnsupportedRange is returned when a channel cannot switch range.
var ErrUnsupportedRange = errors.New("instrument: unsupported channel range")

// Channel is one analog input.
type Channel interface {
	Range() ChannelRange
	SetRange(r ChannelRange) error
	Voltage() float64
}

// ADC is the capability contract of a multi-channel analog-to-digital
// converter.
type ADC interface {
	component.Component

	Channels() []Channel
}

const fakeADCChannels = 14

// FakeChannel is fixed to the 10 V range and reads around 2 V.
type FakeChannel struct{}

func (FakeChannel) Range() ChannelRange { return Range10V }

func (FakeChannel) SetRange(r ChannelRange) error {
	if r != Range10V {
		return ErrUnsupportedRange
	}
	return nil
}

func (FakeChannel) Voltage() float64 {
	return 2 + math.Cos(float64(time.Now().UnixNano()))
}

// FakeADC is a 14-channel ADC stand-in.
type FakeADC struct {
	channels []Channel
}

// NewFakeADC creates a FakeADC.
func NewFakeADC() (*FakeADC, error) {
	channels := make([]Channel, fakeADCChannels)
	for i := range channels {
		channels[i] = FakeChannel{}
	}
	return &FakeADC{channels: channels}, nil
}

// Channels returns a copy of the channel list.
func (a *FakeADC) Channels() []Channel {
	out := make([]Channel, len(a.channels))
	copy(out, a.channels)
	return out
}

func (a *FakeADC) Close() error {
	return nil
}
