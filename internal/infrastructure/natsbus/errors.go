package natsbus

import "errors"

// Sentinel errors for NATS operations.
var (
	// ErrDisabled indicates the NATS event stream is disabled in config.
	ErrDisabled = errors.New("natsbus: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("natsbus: connection failed")

	// ErrNotConnected indicates a publish on a closed publisher.
	ErrNotConnected = errors.New("natsbus: not connected")

	// ErrPublishFailed wraps a failed publish or encode.
	ErrPublishFailed = errors.New("natsbus: publish failed")
)
