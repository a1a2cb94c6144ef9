package smartglass

// State is the lifecycle state of a Session.
type State int32

// Session lifecycle states.
const (
	// StateDisconnected means no transport is held. This is both the
	// initial state and the terminal one.
	StateDisconnected State = iota

	// StateWaking means power-on packets are being sent.
	StateWaking

	// StateConnecting means the console is being discovered and the transport
	// handshake is in progress.
	StateConnecting

	// StateAuthenticating means the credential exchange is in progress.
	// Only entered when credentials are configured.
	StateAuthenticating

	// StateConnected means channels may be opened and commands sent.
	StateConnected

	// StateReconnecting means the transport was lost and a retry is
	// scheduled.
	StateReconnecting
)

// String returns the lower-case state name used in logs and on the bus.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateWaking:
		return "waking"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
