package instrument

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
)

// Camera is the capability contract of a scientific camera.
type Camera interface {
	component.Component

	// Exposure is in milliseconds.
	Exposure() float64
	SetExposure(ms float64)
	MinExposure() float64
	MaxExposure() float64

	// Framerate is in frames per second.
	Framerate() float64

	// BufferUsage is the fraction of frame buffers currently held by
	// consumers.
	BufferUsage() float64

	SensorWidth() int
	SensorHeight() int
	ROI() (width, height int)
	SetROI(width, height int)

	// Frames registers fn for every new frame. fn must call Release on the
	// frame when done with it. The returned function unregisters fn.
	Frames(fn func(*Frame)) (unsubscribe func())

	ReferenceFrame() []float64
	SetReferenceFrame(frame []float64)
}

// ErrFrameUnavailable is returned when a frame is read after its camera has
// been closed.
var ErrFrameUnavailable = errors.New("instrument: frame not available")

// Frame is one camera image, shared by every frame consumer.
//
// The buffer is returned to the camera once every consumer has called
// Release.
type Frame struct {
	Pixels       []uint16
	Width        int
	Height       int
	BitsPerPixel int

	// Interval is the time since the previous frame.
	Interval time.Duration

	refs      atomic.Int32
	onRelease func()
	available func() bool

	sumOnce sync.Once
	sum     uint64
}

// NewFrame creates a frame held by refs consumers.
func NewFrame(pixels []uint16, width, height, bits, refs int, onRelease func(), available func() bool) *Frame {
	f := &Frame{
		Pixels:       pixels,
		Width:        width,
		Height:       height,
		BitsPerPixel: bits,
		onRelease:    onRelease,
		available:    available,
	}
	f.refs.Store(int32(refs))
	return f
}

// Available reports whether the frame's camera is still running.
func (f *Frame) Available() bool {
	return f.available == nil || f.available()
}

// Sum returns the sum of all pixel values.
func (f *Frame) Sum() (uint64, error) {
	if !f.Available() {
		return 0, ErrFrameUnavailable
	}
	f.sumOnce.Do(func() {
		for _, p := range f.Pixels {
			f.sum += uint64(p)
		}
	})
	return f.sum, nil
}

// Release gives up one consumer's hold on the frame.
func (f *Frame) Release() {
	if f.refs.Add(-1) == 0 && f.onRelease != nil {
		f.onRelease()
	}
}

const (
	fakeSensorSize    = 128
	fakeBitDepth      = 12
	fakeBufferCount   = 250
	fakeDefaultExpoMS = 10
)

// FakeCamera produces a moving fringe pattern under a circular vignette.
type FakeCamera struct {
	mu        sync.Mutex
	exposure  float64
	reference []float64
	listeners []frameListener
	nextID    uint64

	usedBuffers atomic.Int32
	running     atomic.Bool
	start       time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type frameListener struct {
	id uint64
	fn func(*Frame)
}

// NewFakeCamera creates a FakeCamera and starts its frame loop.
func NewFakeCamera() (*FakeCamera, error) {
	c := &FakeCamera{
		exposure: fakeDefaultExpoMS,
		start:    time.Now(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.running.Store(true)
	go c.run()
	return c, nil
}

func (c *FakeCamera) run() {
	defer close(c.done)

	previous := time.Now()
	timer := time.NewTimer(c.frameInterval())
	defer timer.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-timer.C:
		}

		listeners := c.listenerSnapshot()
		if len(listeners) > 0 {
			now := time.Now()
			frame := c.render(now, len(listeners))
			frame.Interval = now.Sub(previous)
			previous = now
			for _, l := range listeners {
				l.fn(frame)
			}
		}
		timer.Reset(c.frameInterval())
	}
}

func (c *FakeCamera) frameInterval() time.Duration {
	d := time.Duration(c.Exposure() * float64(time.Millisecond))
	return max(d, time.Millisecond)
}

func (c *FakeCamera) render(now time.Time, consumers int) *Frame {
	w, h := fakeSensorSize, fakeSensorSize
	full := float64(int(1) << fakeBitDepth)
	phase := now.Sub(c.start).Seconds() * 5 * 2 * math.Pi

	line := make([]float64, w)
	for x := range line {
		line[x] = (math.Sin(float64(x)*5.0/float64(w)+phase) + 1) * (full - 1) / 2
	}

	pixels := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		ry := float64(y)/float64(h)*2 - 1
		for x := 0; x < w; x++ {
			rx := float64(x)/float64(w)*2 - 1
			r2 := math.Min(rx*rx+ry*ry, 1)
			pixels[y*w+x] = uint16(line[x]*(1-r2) + 0.5)
		}
	}

	c.usedBuffers.Add(1)
	return NewFrame(pixels, w, h, fakeBitDepth, consumers,
		func() { c.usedBuffers.Add(-1) },
		c.running.Load,
	)
}

func (c *FakeCamera) listenerSnapshot() []frameListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]frameListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *FakeCamera) Frames(fn func(*Frame)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, frameListener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *FakeCamera) Exposure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure
}

func (c *FakeCamera) SetExposure(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposure = clamp(ms, c.MinExposure(), c.MaxExposure())
}

func (c *FakeCamera) MinExposure() float64 { return 0.01 }
func (c *FakeCamera) MaxExposure() float64 { return 1000 }

func (c *FakeCamera) Framerate() float64 {
	return 1000 / c.Exposure()
}

func (c *FakeCamera) BufferUsage() float64 {
	return float64(c.usedBuffers.Load()) / fakeBufferCount
}

func (c *FakeCamera) SensorWidth() int  { return fakeSensorSize }
func (c *FakeCamera) SensorHeight() int { return fakeSensorSize }

func (c *FakeCamera) ROI() (int, int) { return fakeSensorSize, fakeSensorSize }

// SetROI is ignored; the fake always reads the full sensor.
func (c *FakeCamera) SetROI(int, int) {}

func (c *FakeCamera) ReferenceFrame() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reference
}

func (c *FakeCamera) SetReferenceFrame(frame []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reference = frame
}

// Close stops the frame loop and waits for it to exit. Frames still held
// by consumers report Available() == false afterwards.
func (c *FakeCamera) Close() error {
	c.closeOnce.Do(func() {
		c.running.Store(false)
		close(c.stop)
	})
	<-c.done
	return nil
}
