package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting to publish while the
	// connection is not in the Connected state.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed prefixes the lastError recorded when the broker
	// rejects a publish after hand-off.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrPingFailed is returned when a liveness probe publish is rejected.
	ErrPingFailed = errors.New("mqtt: ping failed")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
