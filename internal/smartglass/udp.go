package smartglass

import (
	"context"
	"crypto/aes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Default UDP transport timings.
const (
	// defaultIdleTimeout is how long a connection may stay silent before it
	// is considered lost. The session heartbeat keeps healthy links busy.
	defaultIdleTimeout = 15 * time.Second

	// defaultWriteTimeout bounds a single datagram write.
	defaultWriteTimeout = 2 * time.Second

	// retransmitInterval spaces repeated discovery and connect requests.
	retransmitInterval = 500 * time.Millisecond
)

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	// Host is the console's IP address or host name.
	Host string

	// Port defaults to DefaultPort.
	Port int

	// IdleTimeout defaults to 15 seconds.
	IdleTimeout time.Duration
}

// UDPTransport talks to a console over UDP.
//
// Thread Safety: safe for concurrent use; each Dial returns an independent Conn.
type UDPTransport struct {
	cfg  UDPConfig
	addr string
}

// Ensure UDPTransport implements Transport.
var _ Transport = (*UDPTransport)(nil)

// NewUDPTransport creates a transport for one console.
func NewUDPTransport(cfg UDPConfig) (*UDPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrTransportUnreachable)
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &UDPTransport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}, nil
}

// dial opens a connected UDP socket to the console.
func (t *UDPTransport) dial(ctx context.Context) (*net.UDPConn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransportUnreachable, t.addr, err)
	}
	udp, ok := c.(*net.UDPConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("%w: unexpected connection type %T", ErrTransportUnreachable, c)
	}
	return udp, nil
}

// Wake sends one power-on packet.
func (t *UDPTransport) Wake(ctx context.Context, liveID string) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(deadlineFor(ctx, defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrTransportUnreachable, err)
	}
	if _, err := conn.Write(encodePowerOn(liveID)); err != nil {
		return fmt.Errorf("%w: write power on: %w", ErrTransportUnreachable, err)
	}
	return nil
}

// Discover sends discovery requests until the console answers or ctx ends.
func (t *UDPTransport) Discover(ctx context.Context) (*ConsoleInfo, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := encodeDiscoveryRequest()
	buf := make([]byte, maxPacketSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: no discovery response: %w", ErrTransportUnreachable, err)
		}
		if _, err := conn.Write(req); err != nil {
			return nil, fmt.Errorf("%w: write discovery: %w", ErrTransportUnreachable, err)
		}
		if err := conn.SetReadDeadline(deadlineFor(ctx, retransmitInterval)); err != nil {
			return nil, fmt.Errorf("%w: set deadline: %w", ErrTransportUnreachable, err)
		}
		n, err := conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, fmt.Errorf("%w: read discovery: %w", ErrTransportUnreachable, err)
		}
		typ, payload, err := decodeSimple(buf[:n])
		if err != nil || typ != packetDiscoveryResponse {
			continue
		}
		info, err := decodeDiscoveryResponse(payload)
		if err != nil {
			continue
		}
		return info, nil
	}
}

// Dial opens the connection and prepares its keys. The handshake is a
// separate step so the caller can report it as its own state.
func (t *UDPTransport) Dial(ctx context.Context, info *ConsoleInfo) (Conn, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: console info is required", ErrTransportUnreachable)
	}
	clientPub, cc, err := keyExchange(info.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key exchange: %w", ErrTransportUnreachable, err)
	}
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	return &udpConn{
		conn:        conn,
		crypto:      cc,
		clientPub:   clientPub,
		clientID:    uuid.New(),
		idleTimeout: t.cfg.IdleTimeout,
		done:        newCloseOnce(),
	}, nil
}

// udpConn is an established console connection.
type udpConn struct {
	conn        *net.UDPConn
	crypto      *cryptoContext
	clientPub   []byte
	clientID    uuid.UUID
	idleTimeout time.Duration

	participant atomic.Uint32
	writeMu     sync.Mutex
	done        *closeOnce
}

// Handshake sends the connect request group until the console answers or
// ctx ends. Long tokens are split over several requests.
func (c *udpConn) Handshake(ctx context.Context, creds *Credentials) error {
	base := connectRequest{ClientID: c.clientID, PublicKey: c.clientPub}
	if creds.present() {
		base.UserHash = creds.UserHash
		base.Token = creds.Token
	}
	var packets [][]byte
	for _, req := range splitConnectRequest(base) {
		iv, err := randomIV()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransportUnreachable, err)
		}
		req.IV = iv
		packets = append(packets, c.crypto.sealConnect(packetConnectRequest, req.unprotected(), req.protected(), iv))
	}

	buf := make([]byte, maxPacketSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: no connect response: %w", ErrTransportUnreachable, err)
		}
		for _, packet := range packets {
			if err := c.write(packet); err != nil {
				return err
			}
		}
		if err := c.conn.SetReadDeadline(deadlineFor(ctx, retransmitInterval)); err != nil {
			return fmt.Errorf("%w: set deadline: %w", ErrTransportUnreachable, err)
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("%w: read connect response: %w", ErrTransportUnreachable, err)
		}
		resp, err := c.openConnectResponse(buf[:n])
		if err != nil {
			continue
		}
		if resp.Result == connectPending {
			continue
		}
		if err := resp.Result.err(); err != nil {
			return err
		}
		c.participant.Store(resp.ParticipantID)
		return nil
	}
}

func (c *udpConn) openConnectResponse(b []byte) (*connectResponse, error) {
	unprotected, encrypted, plainLen, err := c.crypto.openConnect(b, packetConnectResponse)
	if err != nil {
		return nil, err
	}
	r := &reader{b: unprotected}
	iv := r.take(aes.BlockSize)
	if r.err != nil {
		return nil, r.err
	}
	plain, err := c.crypto.decrypt(iv, encrypted, plainLen)
	if err != nil {
		return nil, err
	}
	return decodeConnectResponse(plain)
}

// Send encrypts and writes one message.
func (c *udpConn) Send(m *Message) error {
	if c.closed() {
		return fmt.Errorf("%w: connection closed", ErrTransportUnreachable)
	}
	m.Source = c.participant.Load()
	return c.write(c.crypto.sealMessage(m))
}

func (c *udpConn) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrTransportUnreachable, err)
	}
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransportUnreachable, err)
	}
	return nil
}

// Receive returns the next authentic message frame. Frames that fail to
// verify are dropped; silence longer than the idle timeout is an error.
func (c *udpConn) Receive(ctx context.Context) (*Message, error) {
	buf := make([]byte, maxPacketSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.conn.SetReadDeadline(deadlineFor(ctx, c.idleTimeout)); err != nil {
			return nil, fmt.Errorf("%w: set deadline: %w", ErrTransportUnreachable, err)
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			if c.closed() {
				return nil, fmt.Errorf("%w: connection closed", ErrTransportUnreachable)
			}
			if isTimeout(err) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("%w: idle for %s", ErrTransportUnreachable, c.idleTimeout)
			}
			return nil, fmt.Errorf("%w: read: %w", ErrTransportUnreachable, err)
		}
		if peekType(buf[:n]) != packetMessage {
			continue
		}
		m, err := c.crypto.openMessage(buf[:n])
		if err != nil {
			continue
		}
		return m, nil
	}
}

// Close closes the socket, unblocking any pending Receive.
func (c *udpConn) Close() error {
	var err error
	c.done.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *udpConn) closed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// closeOnce guards a close action and exposes a done channel.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

// Do runs fn and closes the done channel, once.
func (c *closeOnce) Do(fn func()) {
	c.once.Do(func() {
		close(c.ch)
		if fn != nil {
			fn()
		}
	})
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// deadlineFor returns now+d, or the context deadline if that is sooner.
func deadlineFor(ctx context.Context, d time.Duration) time.Time {
	deadline := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
