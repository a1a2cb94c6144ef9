package smartglass

import "errors"

// Session errors. Callers match them with errors.Is; returned errors usually
// wrap one of these with transport or protocol detail.
var (
	// ErrTransportUnreachable is returned when the console cannot be
	// reached or the connection handshake fails for network reasons.
	ErrTransportUnreachable = errors.New("smartglass: console unreachable")

	// ErrAuthenticationRejected is returned when the console refuses the
	// configured credentials. It is fatal for the session.
	ErrAuthenticationRejected = errors.New("smartglass: authentication rejected")

	// ErrChannelNotOpen is returned when a command is submitted while the
	// session is not connected.
	ErrChannelNotOpen = errors.New("smartglass: channel not open")

	// ErrUnknownCommand is returned when a command code is not part of the
	// target channel's vocabulary.
	ErrUnknownCommand = errors.New("smartglass: unknown command")

	// ErrInvalidArgument is returned when a command argument is missing or
	// not accepted by the command.
	ErrInvalidArgument = errors.New("smartglass: invalid command argument")

	// ErrCommandTimeout is returned when a command stayed unacknowledged
	// after its retry. The console may or may not have acted on it.
	ErrCommandTimeout = errors.New("smartglass: command timed out")

	// ErrSessionLost is returned for commands that were pending when the
	// session left the connected state.
	ErrSessionLost = errors.New("smartglass: session lost")

	// ErrPowerOnTimeout is returned when the console did not become
	// reachable within the power-on window.
	ErrPowerOnTimeout = errors.New("smartglass: power on timed out")

	// ErrSessionClosed is returned for lifecycle calls on a session that
	// was closed or has become terminal.
	ErrSessionClosed = errors.New("smartglass: session closed")

	// ErrInvalidPacket is returned when a received packet cannot be decoded.
	ErrInvalidPacket = errors.New("smartglass: invalid packet")
)
