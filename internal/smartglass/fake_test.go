package smartglass

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
)

// ackMode controls how the fake console acknowledges commands.
type ackMode int

const (
	ackAll ackMode = iota
	ackNone
	ackSecondAttempt
)

// fakeConsole is an in-memory Transport.
type fakeConsole struct {
	mu                  sync.Mutex
	reachable           bool
	reachableAfterWakes int
	rejectAuth          bool
	ackMode             ackMode
	openChannels        bool
	sendStatus          bool
	dialGate            chan struct{}

	wakes     int
	discovers int
	dials     int
	conns     []*fakeConn
	attempts  map[uint32]int
}

func newFakeConsole() *fakeConsole {
	return &fakeConsole{
		reachable:    true,
		openChannels: true,
		sendStatus:   true,
		attempts:     make(map[uint32]int),
	}
}

func (f *fakeConsole) Wake(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
	if f.reachableAfterWakes > 0 && f.wakes >= f.reachableAfterWakes {
		f.reachable = true
	}
	return nil
}

func (f *fakeConsole) Discover(ctx context.Context) (*ConsoleInfo, error) {
	f.mu.Lock()
	f.discovers++
	reachable := f.reachable
	f.mu.Unlock()
	if reachable {
		return &ConsoleInfo{
			Name:        "Living Room",
			UUID:        "de305d54-75b4-431b-adb2-eb6b9e546014",
			LiveID:      "FD00112233445566",
			ConsoleType: clientTypeXboxOne,
		}, nil
	}
	<-ctx.Done()
	return nil, ErrTransportUnreachable
}

// Dial holds on dialGate, when set, until it is closed.
func (f *fakeConsole) Dial(ctx context.Context, _ *ConsoleInfo) (Conn, error) {
	f.mu.Lock()
	f.dials++
	gate := f.dialGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{console: f, in: make(chan *Message, 64), done: make(chan struct{})}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConsole) set(fn func(f *fakeConsole)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeConsole) wakeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakes
}

func (f *fakeConsole) discoverCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discovers
}

func (f *fakeConsole) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// conn returns the most recent connection.
func (f *fakeConsole) conn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// allSent returns every frame sent on any connection.
func (f *fakeConsole) allSent() []*Message {
	f.mu.Lock()
	conns := append([]*fakeConn(nil), f.conns...)
	f.mu.Unlock()
	var out []*Message
	for _, c := range conns {
		out = append(out, c.sentFrames()...)
	}
	return out
}

// respond is called from Send on the session worker; it must not block.
func (f *fakeConsole) respond(c *fakeConn, m *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch m.Type {
	case MsgStartChannelRequest:
		if !f.openChannels {
			return
		}
		reqID := binary.BigEndian.Uint32(m.Payload[0:4])
		resp := &writer{}
		resp.u32(reqID)
		resp.u64(uint64(100 + reqID))
		resp.u32(0)
		c.inject(&Message{Type: MsgStartChannelResponse, Channel: coreChannelID, Payload: resp.buf})
	case MsgLocalJoin:
		if f.sendStatus {
			c.inject(statusFrame())
		}
	case MsgGamepad, MsgMediaCommand, MsgJSON, MsgGameDVRRecord:
		if !m.NeedAck {
			return
		}
		f.attempts[m.Seq]++
		switch f.ackMode {
		case ackNone:
			return
		case ackSecondAttempt:
			if f.attempts[m.Seq] < 2 {
				return
			}
		}
		c.inject(ackFor(m.Seq))
	}
}

func ackFor(seq uint32) *Message {
	return &Message{Type: MsgAck, Channel: ackChannelID, Payload: ackBody{LowWatermark: seq, Processed: []uint32{seq}}.encode()}
}

// fakeConn is one in-memory connection.
type fakeConn struct {
	console *fakeConsole
	in      chan *Message

	mu         sync.Mutex
	sent       []*Message
	once       sync.Once
	done       chan struct{}
	creds      *Credentials
	handshakes int
}

func (c *fakeConn) Handshake(_ context.Context, creds *Credentials) error {
	c.console.mu.Lock()
	reject := c.console.rejectAuth
	c.console.mu.Unlock()

	c.mu.Lock()
	c.creds = creds
	c.handshakes++
	c.mu.Unlock()
	if reject && creds != nil {
		return ErrAuthenticationRejected
	}
	return nil
}

func (c *fakeConn) Send(m *Message) error {
	select {
	case <-c.done:
		return errors.New("fake: closed")
	default:
	}
	cp := *m
	cp.Payload = append([]byte(nil), m.Payload...)
	c.mu.Lock()
	c.sent = append(c.sent, &cp)
	c.mu.Unlock()
	c.console.respond(c, &cp)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (*Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.done:
		return nil, errors.New("fake: connection dropped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// inject delivers m to the session as if sent by the console.
func (c *fakeConn) inject(m *Message) {
	select {
	case c.in <- m:
	default:
		panic("fake: inbound buffer full")
	}
}

func (c *fakeConn) sentFrames() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Message(nil), c.sent...)
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// framesOfType filters frames by message type.
func framesOfType(frames []*Message, t MessageType) []*Message {
	var out []*Message
	for _, m := range frames {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// presses filters frames down to acknowledged gamepad presses, leaving out
// their releases.
func presses(frames []*Message) []*Message {
	var out []*Message
	for _, m := range framesOfType(frames, MsgGamepad) {
		if m.NeedAck {
			out = append(out, m)
		}
	}
	return out
}

// testTimeouts keeps tests fast while leaving room for scheduling jitter.
func testTimeouts() Timeouts {
	return Timeouts{
		Connect:      500 * time.Millisecond,
		PowerOn:      400 * time.Millisecond,
		WakeRepeats:  3,
		WakeInterval: time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		Ack:          50 * time.Millisecond,
		ChannelOpen:  300 * time.Millisecond,
		DeviceInfo:   100 * time.Millisecond,
		Heartbeat:    time.Hour,
	}
}

func newTestSession(t *testing.T, console *fakeConsole, mutate func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		Host:        "192.168.1.50",
		LiveID:      "FD00112233445566",
		EnableDebug: true,
		Timeouts:    testTimeouts(),
		Backoff:     Backoff{Initial: time.Hour, Max: time.Hour, Multiplier: 1.5, MaxAttempts: 3},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSession(Options{Config: cfg, Transport: console})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func connect(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := s.State(); got != StateConnected {
		t.Fatalf("State() = %s, want connected", got)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// nextEvent returns the next event of type want, skipping others.
func nextEvent(t *testing.T, sub *Subscription, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

// eventsUntil collects events until one of type stop arrives (inclusive).
func eventsUntil(t *testing.T, sub *Subscription, stop EventType) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed waiting for %s", stop)
			}
			out = append(out, ev)
			if ev.Type == stop {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", stop)
		}
	}
}

func countType(events []Event, t EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
