package console

import "errors"

// Domain errors for the console bridge.
var (
	// ErrInvalidMessage is returned when a bus payload cannot be parsed.
	ErrInvalidMessage = errors.New("console bridge: invalid message")

	// ErrInvalidTopic is returned when a message arrives on a topic the
	// bridge does not handle.
	ErrInvalidTopic = errors.New("console bridge: invalid topic")
)
