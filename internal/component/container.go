package component

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Container.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Observer receives the outcome of every activation attempt on a known slot.
// err is nil on success; implementation is empty when the slot was disabled.
type Observer interface {
	ActivationFinished(ref SlotRef, implementation string, elapsed time.Duration, err error)
}

type changeListener struct {
	id uint64
	fn func(Change)
}

// Container is the registry of contracts, slots and implementations and the
// owner of every active component instance.
//
// Each slot holds at most one active instance. Activating a slot disposes
// the previous instance before the replacement is constructed, so two
// instances of the same slot never coexist.
//
// All public methods are thread-safe.
type Container struct {
	mu         sync.RWMutex
	slots      []*slot
	contracts  []*Contract                    // distinct, in first-registration order
	candidates map[*Contract][]*Implementation // shared by all slots of a contract
	byName     map[string]*Implementation
	listeners  []changeListener
	nextID     uint64
	closed     bool

	logger   Logger
	observer Observer
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{
		candidates: make(map[*Contract][]*Implementation),
		byName:     make(map[string]*Implementation),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the container.
func (c *Container) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// SetObserver installs an activation observer (used for metrics).
func (c *Container) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// RegisterContract declares a slot for contract and returns its id.
//
// With an empty slotID the id is derived from the contract's display name,
// suffixed " (2)", " (3)" and so on until it is unique. An explicit id that
// is already taken fails with ErrDuplicateSlot.
func (c *Container) RegisterContract(contract *Contract, slotID string) (string, error) {
	if contract == nil {
		return "", fmt.Errorf("%w: nil contract", ErrUnknownSlot)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrContainerClosed
	}

	if slotID == "" {
		base := contract.Describe().Name
		slotID = base
		for i := 2; c.slotIDTaken(slotID); i++ {
			slotID = fmt.Sprintf("%s (%d)", base, i)
		}
	} else if c.slotIDTaken(slotID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateSlot, slotID)
	}

	if _, ok := c.candidates[contract]; !ok {
		c.candidates[contract] = nil
		c.contracts = append(c.contracts, contract)
	}
	c.slots = append(c.slots, newSlot(SlotRef{Contract: contract, ID: slotID}))

	c.logger.Debug("slot registered", "contract", contract.Key(), "slot", slotID)
	return slotID, nil
}

// slotIDTaken must be called with c.mu held.
func (c *Container) slotIDTaken(id string) bool {
	for _, s := range c.slots {
		if s.ref.ID == id {
			return true
		}
	}
	return false
}

// RegisterImplementation adds impl to the candidate list of every registered
// contract it satisfies. Contracts must be registered first.
func (c *Container) RegisterImplementation(impl *Implementation) error {
	if impl == nil || impl.name == "" {
		return fmt.Errorf("%w: implementation has no name", ErrInvalidImplementationShape)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContainerClosed
	}
	if _, dup := c.byName[impl.name]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, impl.name)
	}

	matched := 0
	for _, contract := range c.contracts {
		if contract.Satisfies(impl) {
			c.candidates[contract] = append(c.candidates[contract], impl)
			matched++
		}
	}
	if matched == 0 {
		return fmt.Errorf("%w: %s", ErrNoMatchingContract, impl.name)
	}
	c.byName[impl.name] = impl

	c.logger.Debug("implementation registered", "implementation", impl.name, "contracts", matched)
	return nil
}

// lookupSlot resolves a slot. An empty slotID selects the first slot
// registered for the contract.
func (c *Container) lookupSlot(contract *Contract, slotID string) (*slot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrContainerClosed
	}
	for _, s := range c.slots {
		if s.ref.Contract == contract && (slotID == "" || s.ref.ID == slotID) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownSlot, contract, slotID)
}

func (c *Container) candidate(contract *Contract, name string) (*Implementation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, impl := range c.candidates[contract] {
		if impl.name == name {
			return impl, nil
		}
	}
	return nil, fmt.Errorf("%w: %s for %s", ErrUnknownImplementation, name, contract)
}

func (c *Container) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Container) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Activate replaces the active instance of a slot with a new instance of the
// named implementation. An empty name disables the slot.
//
// Settings must be a value of the implementation's settings type or a
// pointer to one; nil is accepted only by implementations without settings.
// Lookup, settings and validation errors leave the current instance
// untouched. A constructor error or panic returns ErrActivationFailed and
// leaves the slot disabled.
//
// Listeners run synchronously before Activate returns: slot subscribers
// first, then global change handlers.
func (c *Container) Activate(contract *Contract, slotID, name string, settings any) (err error) {
	s, err := c.lookupSlot(contract, slotID)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		c.observe(s.ref, name, time.Since(start), err)
	}()

	if name == "" {
		return c.swap(s, nil, nil)
	}

	impl, err := c.candidate(contract, name)
	if err != nil {
		return err
	}
	value, err := prepareSettings(impl, settings)
	if err != nil {
		return err
	}
	return c.swap(s, impl, value)
}

// prepareSettings checks settings against the implementation's settings
// type and returns the value handed to the constructor.
func prepareSettings(impl *Implementation, settings any) (any, error) {
	st, err := ResolveSettingsType(impl)
	if err != nil {
		return nil, err
	}
	if st == nil {
		if settings != nil {
			return nil, fmt.Errorf("%w: %s takes no settings, got %T", ErrSettingsTypeMismatch, impl.name, settings)
		}
		return nil, nil
	}
	value, err := st.Normalize(settings)
	if err != nil {
		return nil, err
	}
	if err := st.Validate(value); err != nil {
		return nil, err
	}
	return value, nil
}

// swap disposes the slot's instance and, when impl is non-nil, constructs
// and publishes the replacement. Listeners are notified in every case.
func (c *Container) swap(s *slot, impl *Implementation, settings any) error {
	s.activateMu.Lock()
	defer s.activateMu.Unlock()

	if c.isClosed() {
		return ErrContainerClosed
	}

	c.dispose(s)

	if impl == nil {
		c.log().Info("slot disabled", "slot", s.ref.Key())
		c.notify(s, Change{Slot: s.ref})
		return nil
	}

	instance, err := construct(impl, settings)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrActivationFailed, impl.name, err)
		c.log().Error("activation failed", "slot", s.ref.Key(), "implementation", impl.name, "error", err)
		c.notify(s, Change{Slot: s.ref, Err: err})
		return err
	}

	s.publish(instance, impl, settings)
	c.log().Info("slot activated", "slot", s.ref.Key(), "implementation", impl.name)
	c.notify(s, Change{Slot: s.ref, Implementation: impl.name, Component: instance})
	return nil
}

// dispose retires the active instance of s. Must be called with
// s.activateMu held. Close errors are logged, never returned.
func (c *Container) dispose(s *slot) {
	old := s.take()
	if old == nil {
		return
	}
	if err := closeInstance(old); err != nil {
		c.log().Warn("component close failed", "slot", s.ref.Key(), "error", err)
	}
}

func closeInstance(instance Component) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panic: %v", r)
		}
	}()
	return instance.Close()
}

func construct(impl *Implementation, settings any) (instance Component, err error) {
	defer func() {
		if r := recover(); r != nil {
			instance = nil
			err = fmt.Errorf("constructor panic: %v", r)
		}
	}()
	return impl.build(settings)
}

// notify invokes slot listeners, then global change handlers, in
// registration order.
func (c *Container) notify(s *slot, change Change) {
	for _, l := range s.listenersSnapshot() {
		c.invoke(s.ref, func() { l.fn(change.Component) })
	}

	c.mu.RLock()
	globals := make([]changeListener, len(c.listeners))
	copy(globals, c.listeners)
	c.mu.RUnlock()

	for _, l := range globals {
		c.invoke(s.ref, func() { l.fn(change) })
	}
}

// invoke runs a listener, logging instead of propagating a panic.
func (c *Container) invoke(ref SlotRef, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("change listener panicked", "slot", ref.Key(), "panic", r)
		}
	}()
	fn()
}

func (c *Container) observe(ref SlotRef, name string, elapsed time.Duration, err error) {
	c.mu.RLock()
	o := c.observer
	c.mu.RUnlock()
	if o != nil {
		o.ActivationFinished(ref, name, elapsed, err)
	}
}

// Disable disposes the active instance of a slot and leaves it empty.
func (c *Container) Disable(contract *Contract, slotID string) error {
	return c.Activate(contract, slotID, "", nil)
}

// Reload re-activates the current implementation of a slot with the
// settings it was built with. Reloading an empty slot is a no-op.
func (c *Container) Reload(contract *Contract, slotID string) error {
	s, err := c.lookupSlot(contract, slotID)
	if err != nil {
		return err
	}
	_, impl, settings := s.snapshot()
	if impl == nil {
		return nil
	}
	return c.Activate(contract, s.ref.ID, impl.name, settings)
}

// ExpandSettings turns flattened fields into a settings value of the named
// implementation, starting from its defaults. Fields that do not fit the
// settings type are an ErrSettingsTypeMismatch. Fields are returned as they
// are (nil when empty) when the implementation is unknown or takes no
// settings, so Activate reports the problem.
func (c *Container) ExpandSettings(name string, fields map[string]any) (any, error) {
	st, ok := c.settingsTypeOf(name)
	if !ok {
		return rawFields(fields), nil
	}
	return st.Expand(fields)
}

// RestoreSettings is ExpandSettings for stored fields. Unknown or stale
// fields are skipped and keep their defaults.
func (c *Container) RestoreSettings(name string, fields map[string]any) any {
	st, ok := c.settingsTypeOf(name)
	if !ok {
		return rawFields(fields)
	}
	return st.Restore(fields)
}

func (c *Container) settingsTypeOf(name string) (*SettingsType, bool) {
	impl, ok := c.Implementation(name)
	if !ok {
		return nil, false
	}
	st, err := ResolveSettingsType(impl)
	if err != nil || st == nil {
		return nil, false
	}
	return st, true
}

func rawFields(fields map[string]any) any {
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ActivateFlat is Activate with settings given as flattened fields, the form
// they take on the wire. Missing fields keep their defaults.
func (c *Container) ActivateFlat(contract *Contract, slotID, name string, fields map[string]any) error {
	if name == "" {
		return c.Activate(contract, slotID, "", nil)
	}
	settings, err := c.ExpandSettings(name, fields)
	if err != nil {
		return err
	}
	return c.Activate(contract, slotID, name, settings)
}

// Active returns the active instance of a slot, or nil when disabled.
func (c *Container) Active(contract *Contract, slotID string) (Component, error) {
	s, err := c.lookupSlot(contract, slotID)
	if err != nil {
		return nil, err
	}
	active, _, _ := s.snapshot()
	return active, nil
}

// ActiveAs returns the active instance of a slot as the contract's
// interface type T. ok is false when the slot is disabled.
func ActiveAs[T Component](c *Container, contract *Contract, slotID string) (instance T, ok bool, err error) {
	active, err := c.Active(contract, slotID)
	if err != nil || active == nil {
		return instance, false, err
	}
	instance, ok = active.(T)
	return instance, ok, nil
}

// ActiveName returns the active implementation name, empty when disabled.
func (c *Container) ActiveName(contract *Contract, slotID string) (string, error) {
	s, err := c.lookupSlot(contract, slotID)
	if err != nil {
		return "", err
	}
	_, impl, _ := s.snapshot()
	if impl == nil {
		return "", nil
	}
	return impl.name, nil
}

// ActiveSettings returns the settings value the active instance was built
// with. It is nil when the slot is disabled or the implementation takes no
// settings.
func (c *Container) ActiveSettings(contract *Contract, slotID string) (any, error) {
	s, err := c.lookupSlot(contract, slotID)
	if err != nil {
		return nil, err
	}
	_, _, settings := s.snapshot()
	return settings, nil
}

// Subscribe registers fn to be called with the new instance (nil when
// disabled) after every activation of the slot. The current value is not
// replayed.
func (c *Container) Subscribe(contract *Contract, slotID string, fn func(Component)) (func(), error) {
	s, err := c.lookupSlot(contract, slotID)
	if err != nil {
		return nil, err
	}
	return s.subscribe(fn), nil
}

// OnChange registers a handler called after every activation of any slot.
// The returned function removes the handler.
func (c *Container) OnChange(fn func(Change)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, changeListener{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Slots returns a snapshot of every slot in registration order.
func (c *Container) Slots() []SlotInfo {
	c.mu.RLock()
	slots := make([]*slot, len(c.slots))
	copy(slots, c.slots)
	c.mu.RUnlock()

	out := make([]SlotInfo, 0, len(slots))
	for _, s := range slots {
		info := SlotInfo{Ref: s.ref, Contract: s.ref.Contract.Describe()}
		if _, impl, _ := s.snapshot(); impl != nil {
			info.Active = impl.name
			info.ActiveDisplay = impl.Describe().Name
		}
		out = append(out, info)
	}
	return out
}

// Contracts returns the distinct registered contracts in registration order.
func (c *Container) Contracts() []*Contract {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Contract, len(c.contracts))
	copy(out, c.contracts)
	return out
}

// Implementations lists the candidate implementations of a contract in
// registration order.
func (c *Container) Implementations(contract *Contract) ([]ImplementationInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	impls, ok := c.candidates[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, contract)
	}
	out := make([]ImplementationInfo, 0, len(impls))
	for _, impl := range impls {
		out = append(out, ImplementationInfo{
			Name:        impl.name,
			Descriptor:  impl.Describe(),
			HasSettings: impl.newSettings != nil,
		})
	}
	return out, nil
}

// Implementation looks up a registered implementation by name.
func (c *Container) Implementation(name string) (*Implementation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	impl, ok := c.byName[name]
	return impl, ok
}

// InitFrom activates every slot for which resolver returns a selection.
//
// Failures are logged and skipped so one broken selection cannot prevent
// the rest from starting. It returns the number of slots activated.
func (c *Container) InitFrom(resolver func(SlotRef) (Selection, bool)) int {
	c.mu.RLock()
	refs := make([]SlotRef, 0, len(c.slots))
	for _, s := range c.slots {
		refs = append(refs, s.ref)
	}
	c.mu.RUnlock()

	activated := 0
	for _, ref := range refs {
		sel, ok := c.resolve(resolver, ref)
		if !ok || sel.Implementation == "" {
			continue
		}
		if err := c.Activate(ref.Contract, ref.ID, sel.Implementation, sel.Settings); err != nil {
			c.log().Warn("slot initialisation skipped",
				"slot", ref.Key(),
				"implementation", sel.Implementation,
				"error", err,
			)
			continue
		}
		activated++
	}
	return activated
}

func (c *Container) resolve(resolver func(SlotRef) (Selection, bool), ref SlotRef) (sel Selection, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Warn("slot resolver panicked", "slot", ref.Key(), "panic", r)
			sel, ok = Selection{}, false
		}
	}()
	return resolver(ref)
}

// Close disposes every active instance. Later operations on the container
// fail with ErrContainerClosed. Close errors of instances are joined.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrContainerClosed
	}
	c.closed = true
	slots := make([]*slot, len(c.slots))
	copy(slots, c.slots)
	c.mu.Unlock()

	var errs []error
	for _, s := range slots {
		s.activateMu.Lock()
		if old := s.take(); old != nil {
			if err := closeInstance(old); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.ref.Key(), err))
			}
		}
		s.activateMu.Unlock()
	}
	return errors.Join(errs...)
}
