package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/experiment-core/internal/instrument"
)

// Jog timing. At full deflection an axis moves JogSpeed units per second.
const (
	JogInterval = 20 * time.Millisecond
	JogSpeed    = 200.0

	// maxJogStep caps the time credited to one tick after a stall.
	maxJogStep = 100 * time.Millisecond
)

// axisNames are the accepted axis levels of an input topic, by axis index.
var axisNames = []string{"x", "y", "z", "u", "v", "w"}

// Broker is the part of the MQTT client the bridge uses.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the Bridge.
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

// SlotState is the retained payload published for every slot.
type SlotState struct {
	Contract       string    `json:"contract"`
	Slot           string    `json:"slot"`
	Implementation string    `json:"implementation"`
	DisplayName    string    `json:"display_name"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Command is the body of an activation command. A missing or null
// implementation disables the slot.
type Command struct {
	Implementation string         `json:"implementation"`
	Settings       map[string]any `json:"settings,omitempty"`
}

type jogKey struct {
	slot string
	axis int
}

// Bridge connects a container to MQTT. It publishes slot state, accepts
// activation commands and jogs stage axes from input values.
type Bridge struct {
	container *component.Container
	broker    Broker
	qos       byte
	deadZone  float64
	logger    Logger

	// jogInterval is the jog loop period; zero disables the loop.
	jogInterval time.Duration

	mu         sync.Mutex
	jog        map[jogKey]float64
	stopChange func()
	topics     []string
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a Bridge publishing and subscribing with qos.
func New(c *component.Container, broker Broker, qos byte) *Bridge {
	return &Bridge{
		container:   c,
		broker:      broker,
		qos:         qos,
		deadZone:    DefaultDeadZone,
		logger:      noopLogger{},
		jogInterval: JogInterval,
		jog:         make(map[jogKey]float64),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// SetDeadZone sets the input dead zone applied to axis values.
func (b *Bridge) SetDeadZone(deadZone float64) {
	b.mu.Lock()
	b.deadZone = deadZone
	b.mu.Unlock()
}

// Start publishes the state of every slot, subscribes to commands and axis
// inputs, and starts the jog loop. The loop stops when ctx is cancelled or
// Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	for _, s := range b.container.Slots() {
		b.publish(s.Ref, s.Active, nil)
	}
	stopChange := b.container.OnChange(b.onChange)

	topics := mqtt.Topics{}
	handlers := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.AllSlotCommands(), b.handleCommand},
		{topics.AllStageAxisInputs(), b.handleAxisInput},
	}
	var subscribed []string
	for _, h := range handlers {
		if err := b.broker.Subscribe(h.topic, b.qos, h.handler); err != nil {
			b.mu.Lock()
			b.stopChange, b.topics = stopChange, subscribed
			b.mu.Unlock()
			close(b.done)
			_ = b.Stop()
			return fmt.Errorf("subscribing to %s: %w", h.topic, err)
		}
		subscribed = append(subscribed, h.topic)
	}

	b.mu.Lock()
	b.stopChange, b.topics = stopChange, subscribed
	b.mu.Unlock()

	go b.loop(ctx, b.jogInterval)
	return nil
}

// Stop unsubscribes and stops the jog loop. The retained slot states are
// left in place.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	stopChange, topics := b.stopChange, b.topics
	b.cancel, b.stopChange, b.topics = nil, nil, nil
	clear(b.jog)
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	if stopChange != nil {
		stopChange()
	}

	var errs []error
	for _, topic := range topics {
		if err := b.broker.Unsubscribe(topic); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing from %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) onChange(ch component.Change) {
	if ch.Slot.Contract == instrument.StageContract {
		b.resetJog(ch.Slot.ID)
	}
	b.publish(ch.Slot, ch.Implementation, ch.Err)
}

func (b *Bridge) publish(ref component.SlotRef, implementation string, activationErr error) {
	state := SlotState{
		Contract:       ref.Contract.Key(),
		Slot:           ref.ID,
		Implementation: implementation,
		Timestamp:      time.Now().UTC(),
	}
	if impl, ok := b.container.Implementation(implementation); ok {
		state.DisplayName = impl.Describe().Name
	}
	if activationErr != nil {
		state.Error = activationErr.Error()
	}

	payload, err := json.Marshal(state)
	if err != nil {
		b.logger.Error("encoding slot state failed", "slot", ref.Key(), "error", err)
		return
	}
	topic := mqtt.Topics{}.SlotActive(state.Contract, ref.ID)
	if err := b.broker.Publish(topic, payload, b.qos, true); err != nil {
		b.logger.Warn("publishing slot state failed", "topic", topic, "error", err)
	}
}

// findSlot resolves the contract key and slugged slot id of a topic.
func (b *Bridge) findSlot(contractKey, slug string) (component.SlotRef, bool) {
	for _, s := range b.container.Slots() {
		if s.Ref.Contract.Key() == contractKey && mqtt.Slug(s.Ref.ID) == slug {
			return s.Ref, true
		}
	}
	return component.SlotRef{}, false
}

// handleCommand serves experiment/command/slot/<contract>/<slot>.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	levels := mqtt.SplitTopic(topic)
	if len(levels) != 5 {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	ref, ok := b.findSlot(levels[3], levels[4])
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	b.logger.Info("slot command received", "slot", ref.Key(), "implementation", cmd.Implementation)
	return b.container.ActivateFlat(ref.Contract, ref.ID, cmd.Implementation, cmd.Settings)
}

// handleAxisInput serves experiment/input/stage/<slot>/axis/<axis>. The
// payload is a plain number in [-1, 1]; 0 stops the axis.
func (b *Bridge) handleAxisInput(topic string, payload []byte) error {
	levels := mqtt.SplitTopic(topic)
	if len(levels) != 6 {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	ref, ok := b.findSlot(instrument.StageContract.Key(), levels[3])
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	axis := axisIndex(levels[5])
	if axis < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	raw, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return fmt.Errorf("%w: axis value %q", ErrInvalidPayload, payload)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := jogKey{slot: ref.ID, axis: axis}
	if v := ShapeAxis(raw, b.deadZone); v != 0 {
		b.jog[key] = v
	} else {
		delete(b.jog, key)
	}
	return nil
}

func axisIndex(name string) int {
	name = strings.ToLower(name)
	for i, n := range axisNames {
		if n == name {
			return i
		}
	}
	if i, err := strconv.Atoi(name); err == nil && i >= 0 {
		return i
	}
	return -1
}

func (b *Bridge) resetJog(slotID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.jog {
		if key.slot == slotID {
			delete(b.jog, key)
		}
	}
}

func (b *Bridge) loop(ctx context.Context, interval time.Duration) {
	defer close(b.done)
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := min(now.Sub(last), maxJogStep)
			last = now
			b.step(dt.Seconds())
		}
	}
}

// step moves every jogging axis by velocity * dt * JogSpeed. Axes clamp
// the resulting target to their range.
func (b *Bridge) step(dt float64) {
	b.mu.Lock()
	moves := maps.Clone(b.jog)
	b.mu.Unlock()

	for key, v := range moves {
		stage, ok, err := component.ActiveAs[instrument.Stage](b.container, instrument.StageContract, key.slot)
		if err != nil || !ok {
			continue
		}
		axes := stage.Axes()
		if key.axis >= len(axes) {
			continue
		}
		ax := axes[key.axis]
		ax.SetTargetPosition(ax.TargetPosition() + v*dt*JogSpeed)
	}
}
