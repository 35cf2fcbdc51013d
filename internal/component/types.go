package component

import (
	"fmt"
	"sync"
)

// Component is implemented by every concrete device implementation.
//
// Close retires the instance. The container calls it exactly once, before the
// replacement is constructed. Implementations that run background work must
// make Close idempotent and safe to race with in-flight polling.
type Component interface {
	Close() error
}

// Descriptor is the static display metadata of a contract or implementation.
type Descriptor struct {
	// Name is the human-readable display name ("Laser", "Debug").
	Name string

	// Icon is an icon glyph, typically a single code point from the
	// front-end's symbol font.
	Icon string
}

// withFallback returns d with an empty Name replaced by fallback.
func (d Descriptor) withFallback(fallback string) Descriptor {
	if d.Name == "" {
		d.Name = fallback
	}
	return d
}

// Contract describes one device category (laser, stage, camera...).
//
// A Contract is created once per category with NewContract and used by
// pointer identity everywhere else.
type Contract struct {
	key     string
	desc    Descriptor
	accepts func(sample any) bool
}

// NewContract declares the capability contract for the interface type T.
//
// Implementations match the contract when their concrete type implements T.
// The check is a plain type assertion on a typed zero value, so no instance
// is constructed at registration.
//
// Example:
//
//	var LaserContract = component.NewContract[Laser]("laser",
//	    component.Descriptor{Name: "Laser", Icon: "\ue754"})
func NewContract[T Component](key string, desc Descriptor) *Contract {
	return &Contract{
		key:  key,
		desc: desc,
		accepts: func(sample any) bool {
			_, ok := sample.(T)
			return ok
		},
	}
}

// Key returns the machine key of the contract.
func (c *Contract) Key() string {
	return c.key
}

// Describe returns the display metadata, defaulting the name to the key.
func (c *Contract) Describe() Descriptor {
	return c.desc.withFallback(c.key)
}

// Satisfies reports whether impl provides this contract.
func (c *Contract) Satisfies(impl *Implementation) bool {
	if c == nil || impl == nil || impl.sample == nil || c.accepts == nil {
		return false
	}
	return c.accepts(impl.sample)
}

func (c *Contract) String() string {
	if c == nil {
		return "<nil>"
	}
	return c.key
}

// Implementation is a registered constructor for one concrete device type.
//
// Build one with Implement (no settings) or ImplementWithSettings.
type Implementation struct {
	name   string
	desc   Descriptor
	sample any

	// newSettings is nil when the constructor takes no settings.
	newSettings func() *SettingsType
	build       func(settings any) (Component, error)

	settingsOnce sync.Once
	settingsType *SettingsType
	settingsErr  error
}

// Implement registers a constructor that takes no settings.
func Implement[C Component](name string, desc Descriptor, ctor func() (C, error)) *Implementation {
	impl := &Implementation{
		name:   name,
		desc:   desc,
		sample: zeroOf[C](),
	}
	if ctor != nil {
		impl.build = func(_ any) (Component, error) {
			c, err := ctor()
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return impl
}

// ImplementWithSettings registers a constructor that takes a settings value
// of type S. S must be a struct whose exported fields are all scalars
// (string, bool, integer or floating point). The shape is verified lazily,
// the first time the settings type is resolved.
func ImplementWithSettings[C Component, S any](name string, desc Descriptor, ctor func(S) (C, error)) *Implementation {
	impl := &Implementation{
		name:        name,
		desc:        desc,
		sample:      zeroOf[C](),
		newSettings: newSettingsType[S],
	}
	if ctor != nil {
		impl.build = func(settings any) (Component, error) {
			s, ok := settings.(S)
			if !ok {
				return nil, fmt.Errorf("%w: got %T", ErrSettingsTypeMismatch, settings)
			}
			c, err := ctor(s)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return impl
}

// Name returns the exact name used to activate the implementation.
func (i *Implementation) Name() string {
	return i.name
}

// Describe returns the display metadata, defaulting the name to Name().
func (i *Implementation) Describe() Descriptor {
	return i.desc.withFallback(i.name)
}

func zeroOf[C any]() any {
	var zero C
	return zero
}

// SlotRef identifies one slot of a contract.
type SlotRef struct {
	Contract *Contract
	ID       string
}

// Key returns the persistence key of the slot, "<contract>/<slot id>".
func (r SlotRef) Key() string {
	return r.Contract.Key() + "/" + r.ID
}

func (r SlotRef) String() string {
	return r.Key()
}

// Change is delivered to global change handlers after every activation.
// Component and Implementation are empty when the slot was disabled.
type Change struct {
	Slot           SlotRef
	Implementation string
	Component      Component

	// Err is set when construction failed and the slot was left disabled.
	Err error
}

// Selection is a desired implementation and settings value for one slot.
type Selection struct {
	Implementation string
	Settings       any
}

// SlotInfo is a snapshot of one slot, in registration order.
type SlotInfo struct {
	Ref      SlotRef
	Contract Descriptor

	// Active is the active implementation name, empty when disabled.
	Active string

	// ActiveDisplay is the active implementation's display name.
	ActiveDisplay string
}

// ImplementationInfo describes a candidate implementation of a contract.
type ImplementationInfo struct {
	Name        string
	Descriptor  Descriptor
	HasSettings bool
}
