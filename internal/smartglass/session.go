package smartglass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default session timings.
const (
	defaultConnectTimeout     = 10 * time.Second
	defaultPowerOnTimeout     = 30 * time.Second
	defaultWakeRepeats        = 5
	defaultWakeInterval       = 200 * time.Millisecond
	defaultPollInterval       = 1 * time.Second
	defaultAckTimeout         = 3 * time.Second
	defaultChannelOpenTimeout = 5 * time.Second
	defaultDeviceInfoTimeout  = 5 * time.Second
	defaultHeartbeatInterval  = 5 * time.Second

	// inboxSize is the worker mailbox buffer.
	inboxSize = 64
)

// Logger is the structured logger used by the session.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Timeouts bounds every blocking step of the session. Zero fields take defaults.
type Timeouts struct {
	// Connect bounds discovery, dial and handshake of one attempt. Default 10s.
	Connect time.Duration

	// PowerOn bounds the whole power-on sequence. Default 30s.
	PowerOn time.Duration

	// WakeRepeats is how many power-on packets open the sequence. Default 5.
	WakeRepeats int

	// WakeInterval spaces the power-on packets. Default 200ms.
	WakeInterval time.Duration

	// PollInterval spaces reachability checks while powering on. Default 1s.
	PollInterval time.Duration

	// Ack is how long a command waits for its acknowledgement. Default 3s.
	Ack time.Duration

	// ChannelOpen bounds a channel open. Default 5s.
	ChannelOpen time.Duration

	// DeviceInfo bounds the wait for the first status report, which carries
	// the device info, after joining. Default 5s.
	DeviceInfo time.Duration

	// Heartbeat is the keepalive interval while connected. Default 5s.
	Heartbeat time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Connect <= 0 {
		t.Connect = defaultConnectTimeout
	}
	if t.PowerOn <= 0 {
		t.PowerOn = defaultPowerOnTimeout
	}
	if t.WakeRepeats <= 0 {
		t.WakeRepeats = defaultWakeRepeats
	}
	if t.WakeInterval <= 0 {
		t.WakeInterval = defaultWakeInterval
	}
	if t.PollInterval <= 0 {
		t.PollInterval = defaultPollInterval
	}
	if t.Ack <= 0 {
		t.Ack = defaultAckTimeout
	}
	if t.ChannelOpen <= 0 {
		t.ChannelOpen = defaultChannelOpenTimeout
	}
	if t.DeviceInfo <= 0 {
		t.DeviceInfo = defaultDeviceInfoTimeout
	}
	if t.Heartbeat <= 0 {
		t.Heartbeat = defaultHeartbeatInterval
	}
	return t
}

// Config describes the console a Session talks to.
type Config struct {
	// Host is the console's address on the local network.
	Host string

	// LiveID is the console's device identity, used to wake it.
	LiveID string

	// Credentials are optional. Without them the session connects anonymously.
	Credentials *Credentials

	// DisableLogInfo suppresses message events.
	DisableLogInfo bool

	// EnableDebug publishes debug events.
	EnableDebug bool

	Timeouts Timeouts
	Backoff  Backoff
}

// Validate checks required fields.
func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.LiveID == "" {
		errs = append(errs, errors.New("live id is required"))
	}
	if c.Credentials != nil && (c.Credentials.UserHash == "") != (c.Credentials.Token == "") {
		errs = append(errs, errors.New("user hash and token must be set together"))
	}
	return errors.Join(errs...)
}

// Options holds what is needed to create a session.
type Options struct {
	// Config describes the console.
	Config Config

	// Transport is optional; defaults to a UDPTransport for Config.Host.
	Transport Transport

	// Logger is optional.
	Logger Logger

	// Now is optional; defaults to time.Now.
	Now func() time.Time
}

// Diagnostics is a point-in-time view of session internals.
type Diagnostics struct {
	State            State      `json:"state"`
	PowerState       PowerState `json:"power_state"`
	Terminal         bool       `json:"terminal"`
	ReconnectAttempt int        `json:"reconnect_attempt"`
	OpenChannels     []Channel  `json:"open_channels"`
	FramesTx         uint64     `json:"frames_tx"`
	FramesRx         uint64     `json:"frames_rx"`
	FramesDropped    uint64     `json:"frames_dropped"`
	CommandsOK       uint64     `json:"commands_ok"`
	CommandsFailed   uint64     `json:"commands_failed"`
	Reconnects       uint64     `json:"reconnects"`
}

type sessionStats struct {
	framesTx       atomic.Uint64
	framesRx       atomic.Uint64
	framesDropped  atomic.Uint64
	commandsOK     atomic.Uint64
	commandsFailed atomic.Uint64
	reconnects     atomic.Uint64
}

// Session is a protocol session with one console.
//
// Thread Safety: all exported methods are safe for concurrent use. Internal
// state is owned by a single worker goroutine.
type Session struct {
	cfg       Config
	transport Transport
	bus       *eventBus
	now       func() time.Time

	inbox     chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
	helpers   sync.WaitGroup

	logger Logger

	// Published for readers outside the worker.
	state     atomic.Int32
	snapshot  atomic.Pointer[Snapshot]
	power     atomic.Uint32
	attemptNo atomic.Int32
	terminalF atomic.Bool
	channels  atomic.Pointer[[]Channel]
	stats     sessionStats

	// Owned by the worker goroutine.
	conn             Conn
	gen              uint64
	seq              uint32
	requestID        uint64
	mux              *multiplexer
	decoder          *decoder
	closing          bool
	terminal         error
	attempt          *connectAttempt
	wantWake         bool
	console          *ConsoleInfo
	deviceInfoSent   bool
	waiters          []chan error
	reconnecting     bool
	reconnectAttempt int
	reconnectDelay   time.Duration
	reconnectTimer   *time.Timer
	heartbeatTimer   *time.Timer
	deviceInfoTimer  *time.Timer
	lastRxSeq        uint32
}

// NewSession validates opts and starts the session worker. The session
// starts Disconnected; call PowerOn or Connect to reach the console.
func NewSession(opts Options) (*Session, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("smartglass: invalid config: %w", err)
	}
	cfg := opts.Config
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	cfg.Backoff = cfg.Backoff.withDefaults()

	transport := opts.Transport
	if transport == nil {
		udp, err := NewUDPTransport(UDPConfig{Host: cfg.Host})
		if err != nil {
			return nil, err
		}
		transport = udp
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		transport: transport,
		bus:       newEventBus(now),
		now:       now,
		inbox:     make(chan func(), inboxSize),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		logger:    opts.Logger,
		mux:       newMultiplexer(),
		decoder:   newDecoder(),
	}
	s.power.Store(uint32(PowerUnknown))
	s.state.Store(int32(StateDisconnected))

	go s.run()
	return s, nil
}

// run is the worker loop.
func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case fn := <-s.inbox:
			if s.ctx.Err() != nil {
				s.shutdown()
				return
			}
			fn()
		}
	}
}

// post queues fn for the worker. It returns false once the session is closing.
func (s *Session) post(fn func()) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.inbox <- fn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// call runs fn on the worker and waits for its result.
func (s *Session) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if !s.post(func() { reply <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// Subscribe returns a new ordered view of the session's events. Events
// published before the call are not replayed.
func (s *Session) Subscribe() *Subscription {
	return s.bus.subscribe()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Snapshot returns the last emitted snapshot and whether one exists.
func (s *Session) Snapshot() (Snapshot, bool) {
	p := s.snapshot.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}

// Terminal reports whether the session refuses further lifecycle calls.
func (s *Session) Terminal() bool {
	return s.terminalF.Load()
}

// Diagnostics returns counters and the unprojected power state.
func (s *Session) Diagnostics() Diagnostics {
	var open []Channel
	if p := s.channels.Load(); p != nil {
		open = append(open, (*p)...)
	}
	return Diagnostics{
		State:            s.State(),
		PowerState:       PowerState(s.power.Load()),
		Terminal:         s.terminalF.Load(),
		ReconnectAttempt: int(s.attemptNo.Load()),
		OpenChannels:     open,
		FramesTx:         s.stats.framesTx.Load(),
		FramesRx:         s.stats.framesRx.Load(),
		FramesDropped:    s.stats.framesDropped.Load(),
		CommandsOK:       s.stats.commandsOK.Load(),
		CommandsFailed:   s.stats.commandsFailed.Load(),
		Reconnects:       s.stats.reconnects.Load(),
	}
}

// Close shuts the session down. Pending commands fail with ErrSessionLost,
// channels and the transport are closed, and subscriptions end after their
// queued events. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.stopped
		s.bus.close()
	})
	return nil
}

// shutdown runs on the worker once the session context is cancelled.
func (s *Session) shutdown() {
	if s.conn != nil {
		bye := disconnectBody{Reason: disconnectUnspecified}
		if err := s.sendFrame(&Message{Type: MsgDisconnect, Channel: coreChannelID, Payload: bye.encode()}); err != nil {
			s.logDebug("disconnect send failed", "host", s.cfg.Host, "error", err)
		}
	}
	s.closing = true
	if s.attempt != nil {
		s.attempt.cancel()
		s.attempt = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	quiet := s.terminal != nil || (s.State() == StateDisconnected && s.conn == nil)
	s.detach(fmt.Errorf("%w: session closed", ErrSessionLost))
	s.terminal = ErrSessionClosed
	s.terminalF.Store(true)
	s.reconnecting = false
	s.setState(StateDisconnected)
	s.resolveWaiters(ErrSessionClosed)
	if !quiet {
		s.publish(Event{Type: EventDisconnected, Message: "Disconnected.", Terminal: true})
	}

	// Let helpers observe cancellation, then run whatever they managed to
	// post so held connections are released.
	s.helpers.Wait()
	for {
		select {
		case fn := <-s.inbox:
			fn()
		default:
			s.logInfo("session closed", "host", s.cfg.Host)
			return
		}
	}
}

// setState publishes a lifecycle transition.
func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logDebug("state changed", "host", s.cfg.Host, "from", prev.String(), "to", st.String())
	}
}

// nextSeq returns the next outbound sequence number, never 0.
func (s *Session) nextSeq() uint32 {
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return s.seq
}

// sendFrame writes m on the current connection.
func (s *Session) sendFrame(m *Message) error {
	if s.closing || s.conn == nil {
		return fmt.Errorf("%w: no connection", ErrChannelNotOpen)
	}
	if m.Seq == 0 {
		m.Seq = s.nextSeq()
	}
	if err := s.conn.Send(m); err != nil {
		return err
	}
	s.stats.framesTx.Add(1)
	return nil
}

func (s *Session) publishChannels() {
	open := s.mux.openChannels()
	s.channels.Store(&open)
}

// handleMessage routes one inbound frame.
func (s *Session) handleMessage(gen uint64, m *Message) {
	if gen != s.gen || s.closing {
		return
	}
	s.stats.framesRx.Add(1)
	s.lastRxSeq = m.Seq
	if m.NeedAck {
		ack := ackBody{LowWatermark: m.Seq, Processed: []uint32{m.Seq}}
		if err := s.sendFrame(&Message{Type: MsgAck, Channel: ackChannelID, Payload: ack.encode()}); err != nil {
			s.logDebug("ack send failed", "host", s.cfg.Host, "error", err)
		}
	}

	if _, ok := s.mux.route(m.Channel); !ok {
		s.stats.framesDropped.Add(1)
		s.debug(fmt.Sprintf("Discarding %s frame for unknown channel %d.", m.Type, m.Channel))
		return
	}
	if m.Fragment {
		s.stats.framesDropped.Add(1)
		s.debug(fmt.Sprintf("Discarding fragmented %s frame.", m.Type))
		return
	}

	switch m.Type {
	case MsgAck:
		a, err := decodeAck(m.Payload)
		if err != nil {
			s.dropFrame(m, err)
			return
		}
		s.handleAck(a)
	case MsgStartChannelResponse:
		resp, err := decodeStartChannelResponse(m.Payload)
		if err != nil {
			s.dropFrame(m, err)
			return
		}
		s.handleChannelResponse(resp)
		s.publishChannels()
	case MsgConsoleStatus:
		st, err := decodeConsoleStatus(m.Payload)
		if err != nil {
			s.dropFrame(m, err)
			return
		}
		s.raw("status", st)
		s.power.Store(uint32(PowerOn))
		if !s.deviceInfoSent {
			s.handleDeviceInfo(st)
		}
		if snap, changed := s.decoder.applyStatus(st); changed {
			s.emitState(snap)
		}
	case MsgMediaState:
		ms, err := decodeMediaStatus(m.Payload)
		if err != nil {
			s.dropFrame(m, err)
			return
		}
		s.raw("media", ms)
		if snap, changed := s.decoder.applyMedia(ms); changed {
			s.emitState(snap)
		}
	case MsgJSON:
		text, err := decodeJSONBody(m.Payload)
		if err != nil {
			s.dropFrame(m, err)
			return
		}
		if json.Valid([]byte(text)) {
			s.rawJSON("json", json.RawMessage(text))
		}
	case MsgDisconnect:
		d, err := decodeDisconnect(m.Payload)
		if err != nil {
			s.dropFrame(m, err)
			return
		}
		s.consoleDisconnected(gen, d)
	default:
		s.debug(fmt.Sprintf("Ignoring %s frame.", m.Type))
	}
}

func (s *Session) dropFrame(m *Message, err error) {
	s.stats.framesDropped.Add(1)
	s.debug(fmt.Sprintf("Dropping %s frame: %v", m.Type, err))
}

// join announces the client on a fresh connection. The console answers
// with status reports; the first one carries the device info.
func (s *Session) join() {
	if err := s.sendFrame(&Message{Type: MsgLocalJoin, Channel: coreChannelID, NeedAck: true, Payload: encodeLocalJoin()}); err != nil {
		s.debug(fmt.Sprintf("Device info request failed: %v", err))
		return
	}
	gen := s.gen
	s.deviceInfoTimer = time.AfterFunc(s.cfg.Timeouts.DeviceInfo, func() {
		s.post(func() {
			if gen != s.gen || s.deviceInfoTimer == nil {
				return
			}
			s.deviceInfoTimer = nil
			s.debug("Device info request timed out.")
		})
	})
}

// handleDeviceInfo publishes the device info from the first status report
// of a connection.
func (s *Session) handleDeviceInfo(st ConsoleStatus) {
	if s.deviceInfoTimer != nil {
		s.deviceInfoTimer.Stop()
		s.deviceInfoTimer = nil
	}
	s.deviceInfoSent = true
	info := st.deviceInfo(s.console, s.cfg.LiveID)
	s.publish(Event{Type: EventDeviceInfo, DeviceInfo: info})
	s.raw("info", info)
}

// armHeartbeat schedules the next keepalive for the current connection.
func (s *Session) armHeartbeat() {
	gen := s.gen
	s.heartbeatTimer = time.AfterFunc(s.cfg.Timeouts.Heartbeat, func() {
		s.post(func() { s.heartbeat(gen) })
	})
}

func (s *Session) heartbeat(gen uint64) {
	if gen != s.gen || s.conn == nil {
		return
	}
	ack := ackBody{LowWatermark: s.lastRxSeq}
	if err := s.sendFrame(&Message{Type: MsgAck, Channel: ackChannelID, NeedAck: true, Payload: ack.encode()}); err != nil {
		s.logDebug("heartbeat failed", "host", s.cfg.Host, "error", err)
	}
	s.armHeartbeat()
}

// Event helpers.

func (s *Session) publish(ev Event) {
	s.bus.publish(ev)
}

func (s *Session) emitState(snap Snapshot) {
	s.snapshot.Store(&snap)
	s.publish(Event{Type: EventStateChanged, Snapshot: snap})
}

func (s *Session) emitError(err error) {
	s.logError("session error", err)
	s.publish(Event{Type: EventError, Err: err, Message: err.Error()})
}

func (s *Session) debug(msg string) {
	s.logDebug(msg, "host", s.cfg.Host)
	if s.cfg.EnableDebug {
		s.publish(Event{Type: EventDebug, Message: msg})
	}
}

func (s *Session) message(msg string) {
	s.logInfo(msg, "host", s.cfg.Host)
	if !s.cfg.DisableLogInfo {
		s.publish(Event{Type: EventMessage, Message: msg})
	}
}

func (s *Session) raw(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logDebug("raw telemetry marshal failed", "topic", topic, "error", err)
		return
	}
	s.rawJSON(topic, payload)
}

func (s *Session) rawJSON(topic string, payload json.RawMessage) {
	s.publish(Event{Type: EventTelemetryRaw, Topic: topic, Payload: payload})
}

// logInfo logs an info message if logger is set.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Session) logError(msg string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "host", s.cfg.Host, "error", err)
	}
}
