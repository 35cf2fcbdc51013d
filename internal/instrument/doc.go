// Package instrument declares the device categories of an experiment as
// component contracts, together with "Debug" stand-in implementations that
// behave plausibly without hardware.
//
// Every contract is a Go interface embedding component.Component. A real
// driver becomes selectable by implementing the interface and registering a
// component.Implementation for it.
//
// Stand-ins that run background work (FakeCamera, FakePressureSensor) stop
// it in Close, and Close may be called more than once.
package instrument
