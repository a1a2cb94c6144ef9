package consoles

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-xbox/internal/smartglass"
)

// Sentinel errors for console management.
var (
	// ErrConsoleNotFound is returned for an id that is not configured.
	ErrConsoleNotFound = errors.New("consoles: console not found")

	// ErrNotStarted is returned when a console is used before Start.
	ErrNotStarted = errors.New("consoles: manager not started")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("consoles: manager closed")

	// ErrNoDeviceInfo is returned when a console never reported device info.
	ErrNoDeviceInfo = errors.New("consoles: no device info stored")
)

// Error codes reported on the bus and by the API.
const (
	CodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	CodeAuthRejected      = "AUTH_REJECTED"
	CodeNotConnected      = "NOT_CONNECTED"
	CodeInvalidCommand    = "INVALID_COMMAND"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeTimeout           = "TIMEOUT"
	CodeSessionLost       = "SESSION_LOST"
	CodePowerOnTimeout    = "POWER_ON_TIMEOUT"
	CodeSessionClosed     = "SESSION_CLOSED"
	CodeNotConfigured     = "NOT_CONFIGURED"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorCode maps an error from a console operation onto its bus error
// code. A nil error has no code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConsoleNotFound):
		return CodeNotConfigured
	// Terminal sessions wrap their cause, so check the cause first.
	case errors.Is(err, smartglass.ErrAuthenticationRejected):
		return CodeAuthRejected
	case errors.Is(err, smartglass.ErrSessionClosed), errors.Is(err, ErrManagerClosed):
		return CodeSessionClosed
	case errors.Is(err, smartglass.ErrUnknownCommand):
		return CodeInvalidCommand
	case errors.Is(err, smartglass.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, smartglass.ErrChannelNotOpen):
		return CodeNotConnected
	case errors.Is(err, smartglass.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, smartglass.ErrSessionLost):
		return CodeSessionLost
	case errors.Is(err, smartglass.ErrPowerOnTimeout):
		return CodePowerOnTimeout
	case errors.Is(err, smartglass.ErrTransportUnreachable):
		return CodeDeviceUnreachable
	default:
		return CodeInternal
	}
}
