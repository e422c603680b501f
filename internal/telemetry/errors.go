package telemetry

import "errors"

var (
	// ErrDisabled indicates telemetry is not enabled in configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed indicates the InfluxDB server could not be reached.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected indicates an operation on a closed client.
	ErrNotConnected = errors.New("telemetry: not connected")
)
