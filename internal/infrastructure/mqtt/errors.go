package mqtt

import "errors"

// Sentinel errors, compared with errors.Is.
var (
	// ErrNotConnected is returned by operations on a client whose broker
	// connection is down or closed.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the failure of the initial connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for a QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic or filter.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
