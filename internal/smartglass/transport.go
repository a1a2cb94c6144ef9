package smartglass

import "context"

// Credentials are the optional account tokens presented during the
// connect handshake. Obtaining them is the owner's concern.
type Credentials struct {
	UserHash string
	Token    string
}

// present reports whether both halves are set.
func (c *Credentials) present() bool {
	return c != nil && c.UserHash != "" && c.Token != ""
}

// Transport reaches one console.
// It is implemented by UDPTransport and replaced by fakes in tests.
type Transport interface {
	// Wake sends a single connectionless power-on packet.
	Wake(ctx context.Context, liveID string) error

	// Discover queries the console and returns what it advertises.
	// It fails with ErrTransportUnreachable if nothing answers before ctx ends.
	Discover(ctx context.Context) (*ConsoleInfo, error)

	// Dial opens a connection using the console's advertised key.
	Dial(ctx context.Context, info *ConsoleInfo) (Conn, error)
}

// Conn is an established, encrypted connection to a console.
type Conn interface {
	// Handshake performs the connect exchange. creds may be nil for an
	// anonymous connection. A refused credential fails with
	// ErrAuthenticationRejected.
	Handshake(ctx context.Context, creds *Credentials) error

	// Send writes one message frame. The source participant is filled in.
	Send(m *Message) error

	// Receive blocks for the next valid message frame. It fails when the
	// connection is closed or has been idle longer than its idle timeout.
	Receive(ctx context.Context) (*Message, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}
