package control

import "errors"

var (
	// ErrUnknownTopic is returned for messages on a topic the bridge does
	// not handle, including topics naming a slot that does not exist.
	ErrUnknownTopic = errors.New("control: unknown topic")

	// ErrInvalidPayload is returned for payloads that cannot be decoded.
	ErrInvalidPayload = errors.New("control: invalid payload")

	// ErrAlreadyStarted is returned by Start on a running bridge.
	ErrAlreadyStarted = errors.New("control: bridge already started")
)
