// Package component provides the Component Container for Experiment Core.
//
// The container is the typed plugin registry behind every instrument in an
// experiment. Device categories are declared as capability contracts, each
// contract has one or more named slots, and each slot holds at most one
// active component instance. Concrete implementations (a real driver or a
// "Debug" fake) can be swapped into a slot at runtime.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                        Component Container                        │
//	│                                                                   │
//	│  ┌─────────────────┐   ┌─────────────────┐   ┌─────────────────┐  │
//	│  │    Contracts    │   │      Slots      │   │ Implementations │  │
//	│  │   (types.go)    │──▶│    (slot.go)    │◀──│   (types.go)    │  │
//	│  │ • key + display │   │ • active inst.  │   │ • constructor   │  │
//	│  │ • type match    │   │ • subscribers   │   │ • settings type │  │
//	│  └─────────────────┘   └─────────────────┘   └─────────────────┘  │
//	│                              │                       │            │
//	│                              ▼                       ▼            │
//	│                    ┌─────────────────┐   ┌─────────────────────┐  │
//	│                    │   Activation    │   │  Settings resolver  │  │
//	│                    │ (container.go)  │   │    (settings.go)    │  │
//	│                    └─────────────────┘   └─────────────────────┘  │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Activation
//
// Activate looks up the implementation among the slot contract's
// candidates, checks and validates the settings value, disposes the old
// instance, constructs the new one, publishes it, and then notifies slot
// subscribers followed by global change handlers. Nothing is disposed until
// the lookup and settings checks have passed.
//
// # Usage
//
//	c := component.NewContainer()
//	c.SetLogger(log)
//
//	slotID, _ := c.RegisterContract(instrument.LaserContract, "")
//	_ = c.RegisterImplementation(instrument.FakeLaserImplementation)
//
//	unsubscribe, _ := c.Subscribe(instrument.LaserContract, slotID, func(v component.Component) {
//	    // v is nil when the slot was disabled
//	})
//	defer unsubscribe()
//
//	err := c.Activate(instrument.LaserContract, slotID, "FakeLaser",
//	    instrument.FakeLaserSettings{Test: "b"})
//
// # Thread Safety
//
// All Container methods are safe for concurrent use. Activations of one slot
// are serialised; listeners run synchronously on the activating goroutine
// and may read the container, but must not activate their own slot.
package component
