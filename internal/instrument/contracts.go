package instrument

import (
	"errors"
	"fmt"

	"github.com/nerrad567/experiment-core/internal/component"
)

// Capability contracts, one per device category.
var (
	LaserContract          = component.NewContract[Laser]("laser", component.Descriptor{Name: "Laser", Icon: "\ue754"})
	StageContract          = component.NewContract[Stage]("stage", component.Descriptor{Name: "Stage", Icon: "\ue759"})
	CameraContract         = component.NewContract[Camera]("camera", component.Descriptor{Name: "Camera", Icon: "\ue722"})
	OscilloscopeContract   = component.NewContract[Oscilloscope]("oscilloscope", component.Descriptor{Name: "Oscilloscope", Icon: "\ue9d9"})
	ADCContract            = component.NewContract[ADC]("adc", component.Descriptor{Name: "ADC", Icon: "\uec4a"})
	PressureSensorContract = component.NewContract[PressureSensor]("pressure", component.Descriptor{Name: "Pressure Sensor", Icon: "\ue957"})
	RotationContract       = component.NewContract[Rotation]("rotation", component.Descriptor{Name: "Rotation", Icon: "\ue7ad"})
)

// debug is the display metadata shared by every stand-in implementation.
var debug = component.Descriptor{Name: "Debug"}

// Stand-in implementations, usable without any hardware attached.
var (
	FakeLaserImplementation          = component.ImplementWithSettings("FakeLaser", debug, NewFakeLaser)
	FakeStageImplementation          = component.Implement("FakeStage", debug, NewFakeStage)
	FakeCameraImplementation         = component.Implement("FakeCamera", debug, NewFakeCamera)
	FakeOscilloscopeImplementation   = component.ImplementWithSettings("FakeOscilloscope", debug, NewFakeOscilloscope)
	FakeADCImplementation            = component.Implement("FakeADC", debug, NewFakeADC)
	FakePressureSensorImplementation = component.Implement("FakePressureSensor", debug, NewFakePressureSensor)
	FakeRotationImplementation       = component.Implement("FakeRotation", debug, NewFakeRotation)
)

// Contracts returns every contract in display order.
func Contracts() []*component.Contract {
	return []*component.Contract{
		LaserContract,
		StageContract,
		CameraContract,
		OscilloscopeContract,
		ADCContract,
		PressureSensorContract,
		RotationContract,
	}
}

// Implementations returns every built-in implementation.
func Implementations() []*component.Implementation {
	return []*component.Implementation{
		FakeLaserImplementation,
		FakeStageImplementation,
		FakeCameraImplementation,
		FakeOscilloscopeImplementation,
		FakeADCImplementation,
		FakePressureSensorImplementation,
		FakeRotationImplementation,
	}
}

// ContractByKey resolves a contract from its key ("laser", "stage"...).
func ContractByKey(key string) (*component.Contract, bool) {
	for _, c := range Contracts() {
		if c.Key() == key {
			return c, true
		}
	}
	return nil, false
}

// RegisterImplementations adds every built-in implementation whose
// contract has a slot in c. Implementations without a slot are skipped.
func RegisterImplementations(c *component.Container) error {
	for _, impl := range Implementations() {
		err := c.RegisterImplementation(impl)
		if errors.Is(err, component.ErrNoMatchingContract) {
			continue
		}
		if err != nil {
			return fmt.Errorf("registering %s: %w", impl.Name(), err)
		}
	}
	return nil
}

// RegisterAll declares one slot per contract, named after the contract,
// and registers every built-in implementation.
func RegisterAll(c *component.Container) error {
	for _, contract := range Contracts() {
		if _, err := c.RegisterContract(contract, ""); err != nil {
			return fmt.Errorf("registering %s slot: %w", contract.Key(), err)
		}
	}
	return RegisterImplementations(c)
}
