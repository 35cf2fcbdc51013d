package component

import "errors"

// Domain errors for the component package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, component.ErrUnknownImplementation) {
//	    // show the picker again
//	}
var (
	// ErrDuplicateSlot is returned when an explicit slot id is already taken.
	ErrDuplicateSlot = errors.New("component: duplicate slot")

	// ErrNoMatchingContract is returned when an implementation satisfies none
	// of the registered contracts.
	ErrNoMatchingContract = errors.New("component: no matching contract")

	// ErrAlreadyRegistered is returned when an implementation name has already
	// been added to a contract's candidate list.
	ErrAlreadyRegistered = errors.New("component: implementation already registered")

	// ErrUnknownSlot is returned when a contract or slot id is not registered.
	ErrUnknownSlot = errors.New("component: unknown slot")

	// ErrUnknownImplementation is returned when the named implementation is not
	// a candidate for the slot's contract.
	ErrUnknownImplementation = errors.New("component: unknown implementation")

	// ErrSettingsTypeMismatch is returned when the supplied settings value is
	// not of the implementation's settings type.
	ErrSettingsTypeMismatch = errors.New("component: settings type mismatch")

	// ErrInvalidSettings is returned when a settings value fails validation.
	ErrInvalidSettings = errors.New("component: invalid settings")

	// ErrInvalidImplementationShape is returned when an implementation has no
	// constructor or its settings type is not a flat struct of scalars.
	ErrInvalidImplementationShape = errors.New("component: invalid implementation shape")

	// ErrActivationFailed is returned when an implementation constructor fails.
	// The slot is left disabled.
	ErrActivationFailed = errors.New("component: activation failed")

	// ErrContainerClosed is returned for operations on a torn-down container.
	ErrContainerClosed = errors.New("component: container closed")
)
