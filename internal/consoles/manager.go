package consoles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-xbox/internal/smartglass"
)

const (
	defaultPresenceInterval = 30 * time.Second
	defaultPresenceTimeout  = 10 * time.Second

	// coreChannel labels power and special actions in command metrics.
	coreChannel = "core"
)

// Logger is the structured logger used by the manager.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Controller is the console surface the bus bridge and the API drive.
type Controller interface {
	List() []Status
	Status(id string) (Status, error)
	Diagnostics(id string) (smartglass.Diagnostics, error)
	PowerOn(ctx context.Context, id string) error
	PowerOff(ctx context.Context, id string) error
	SendCommand(ctx context.Context, id, channel, code string, args ...uint64) error
	SpecialAction(ctx context.Context, id, action string) error
}

// Ensure Manager implements Controller.
var _ Controller = (*Manager)(nil)

// Options configures a Manager.
type Options struct {
	// Consoles to manage. Ids must be unique.
	Consoles []config.ConsoleConfig

	// Session holds the protocol timings shared by every console.
	Session config.SessionConfig

	// Logger is optional.
	Logger Logger

	// Sinks receive every session event. More can be added before Start.
	Sinks []Sink

	// NewTransport builds a console's transport. Defaults to UDP.
	NewTransport func(c config.ConsoleConfig) (smartglass.Transport, error)

	// Now is optional; defaults to time.Now.
	Now func() time.Time
}

// Manager runs one protocol session per configured console.
//
// It fans session events out to sinks, retries idle consoles so one switched
// on by hand is picked up, and re-creates sessions that gave up. A session
// refused for bad credentials is left terminal until the configuration is
// fixed.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Manager struct {
	opts     Options
	logger   Logger
	now      func() time.Time
	order    []string
	consoles map[string]*console

	mu      sync.RWMutex
	sinks   []Sink
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// console is one managed console and its current session.
type console struct {
	cfg config.ConsoleConfig

	mu         sync.RWMutex
	session    *smartglass.Session
	ended      bool // the session's terminal event was delivered
	retired    bool // ended on rejected credentials; not re-created
	deviceInfo *smartglass.DeviceInfo
	lastEvent  time.Time

	checking atomic.Bool
}

// NewManager validates opts. Sessions are created by Start.
func NewManager(opts Options) (*Manager, error) {
	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		now:      opts.Now,
		consoles: make(map[string]*console, len(opts.Consoles)),
		sinks:    append([]Sink(nil), opts.Sinks...),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.opts.NewTransport == nil {
		m.opts.NewTransport = m.udpTransport
	}

	for i, c := range opts.Consoles {
		if c.ID == "" {
			return nil, fmt.Errorf("consoles[%d]: id is required", i)
		}
		if _, dup := m.consoles[c.ID]; dup {
			return nil, fmt.Errorf("consoles[%d]: duplicate id %q", i, c.ID)
		}
		if err := sessionConfig(c, opts.Session).Validate(); err != nil {
			return nil, fmt.Errorf("consoles[%d] (%s): %w", i, c.ID, err)
		}
		m.consoles[c.ID] = &console{cfg: c}
		m.order = append(m.order, c.ID)
	}
	return m, nil
}

// AddSink registers a sink. Sinks added after Start are ignored.
func (m *Manager) AddSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		m.sinks = append(m.sinks, s)
	}
}

// Start creates every session and begins presence checks.
//
// Parameters:
//   - ctx: Parent for every presence check; cancelling it stops them (use Close
//     to release the sessions)
//
// Returns:
//   - error: If a session cannot be created, or the manager was started or closed
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.started {
		return fmt.Errorf("consoles: manager already started")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	for _, id := range m.order {
		if err := m.spawn(m.consoles[id]); err != nil {
			m.cancel()
			for _, started := range m.order {
				if s := m.consoles[started].current(); s != nil {
					s.Close() //nolint:errcheck // Close always returns nil
				}
			}
			return err
		}
	}
	m.started = true

	m.wg.Add(1)
	go m.presenceLoop()

	m.logInfo("console manager started", "consoles", len(m.order))
	return nil
}

// Close stops presence checks and closes every session, failing their pending
// commands. It blocks until all event delivery has finished.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	for _, id := range m.order {
		if s := m.consoles[id].current(); s != nil {
			s.Close() //nolint:errcheck // Close always returns nil
		}
	}
	m.wg.Wait()
	m.logInfo("console manager stopped")
	return nil
}

// spawn creates a fresh session for c and starts delivering its events.
// Callers hold m.mu.
func (m *Manager) spawn(c *console) error {
	transport, err := m.opts.NewTransport(c.cfg)
	if err != nil {
		return fmt.Errorf("console %s: creating transport: %w", c.cfg.ID, err)
	}
	sess, err := smartglass.NewSession(smartglass.Options{
		Config:    sessionConfig(c.cfg, m.opts.Session),
		Transport: transport,
		Logger:    m.logger,
		Now:       m.now,
	})
	if err != nil {
		return fmt.Errorf("console %s: %w", c.cfg.ID, err)
	}
	sub := sess.Subscribe()

	c.mu.Lock()
	c.session = sess
	c.ended = false
	c.retired = false
	c.mu.Unlock()

	m.wg.Add(1)
	go m.pump(c, sub)
	return nil
}

// pump delivers one session's events until the session closes.
func (m *Manager) pump(c *console, sub *smartglass.Subscription) {
	defer m.wg.Done()

	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()

	for ev := range sub.C {
		m.observe(c, ev)
		for _, s := range sinks {
			s.HandleEvent(c.cfg.ID, ev)
		}
	}
}

// observe updates the console record and logs ev.
func (m *Manager) observe(c *console, ev smartglass.Event) {
	id := c.cfg.ID

	c.mu.Lock()
	c.lastEvent = ev.Time
	if ev.Type == smartglass.EventDeviceInfo {
		info := ev.DeviceInfo
		c.deviceInfo = &info
	}
	if ev.Type == smartglass.EventDisconnected && ev.Terminal {
		c.ended = true
		c.retired = errors.Is(ev.Err, smartglass.ErrAuthenticationRejected)
	}
	c.mu.Unlock()

	if m.logger == nil {
		return
	}
	switch ev.Type {
	case smartglass.EventConnected, smartglass.EventMessage:
		m.logger.Info(ev.Message, "console_id", id)
	case smartglass.EventDebug:
		m.logger.Debug(ev.Message, "console_id", id)
	case smartglass.EventDeviceInfo:
		m.logger.Info("console device info", "console_id", id,
			"model", ev.DeviceInfo.Model, "firmware", ev.DeviceInfo.FirmwareRevision)
	case smartglass.EventStateChanged:
		m.logger.Debug("console state changed", "console_id", id,
			"power", ev.Snapshot.Power, "content", ev.Snapshot.Content,
			"volume", ev.Snapshot.Volume, "media", ev.Snapshot.Media.String())
	case smartglass.EventError:
		// A console that is switched off fails every presence check.
		if errors.Is(ev.Err, smartglass.ErrTransportUnreachable) {
			m.logger.Debug("console error", "console_id", id, "error", ev.Err)
		} else {
			m.logger.Warn("console error", "console_id", id, "error", ev.Err)
		}
	case smartglass.EventDisconnected:
		if ev.Terminal {
			m.logger.Warn("console session ended", "console_id", id, "message", ev.Message, "error", ev.Err)
		} else {
			m.logger.Info(ev.Message, "console_id", id)
		}
	}
}

// presenceLoop checks idle consoles and replaces ended sessions.
func (m *Manager) presenceLoop() {
	defer m.wg.Done()

	interval := m.opts.Session.PresenceInterval
	if interval <= 0 {
		interval = defaultPresenceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sweep()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep runs one presence pass over every console.
func (m *Manager) sweep() {
	for _, id := range m.order {
		if m.ctx.Err() != nil {
			return
		}
		c := m.consoles[id]

		c.mu.RLock()
		sess, ended, retired := c.session, c.ended, c.retired
		c.mu.RUnlock()

		if sess.Terminal() {
			// Wait for the terminal event so sinks see it before the
			// replacement session starts.
			if ended && !retired {
				m.recreate(c, sess)
			}
			continue
		}

		m.observeDiagnostics(id, sess.Diagnostics())

		if sess.State() == smartglass.StateDisconnected && c.checking.CompareAndSwap(false, true) {
			m.wg.Add(1)
			go m.checkPresence(c, sess)
		}
	}
}

// checkPresence tries to connect to a console that may have been switched on by hand.
func (m *Manager) checkPresence(c *console, sess *smartglass.Session) {
	defer m.wg.Done()
	defer c.checking.Store(false)

	timeout := m.opts.Session.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultPresenceTimeout
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		m.logDebug("presence check failed", "console_id", c.cfg.ID, "error", err)
	}
}

// recreate replaces a terminal session.
func (m *Manager) recreate(c *console, old *smartglass.Session) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	old.Close() //nolint:errcheck // Close always returns nil
	if err := m.spawn(c); err != nil {
		m.logError("recreating console session failed", "console_id", c.cfg.ID, "error", err)
		return
	}
	m.logInfo("console session recreated", "console_id", c.cfg.ID)
}

// lookup resolves an id to its console and current session.
func (m *Manager) lookup(id string) (*console, *smartglass.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, nil, ErrManagerClosed
	}
	c, ok := m.consoles[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrConsoleNotFound, id)
	}
	if !m.started {
		return nil, nil, ErrNotStarted
	}
	return c, c.current(), nil
}

func (c *console) current() *smartglass.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// status builds the console's Status.
func (c *console) status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		ID:        c.cfg.ID,
		Name:      c.cfg.Name,
		Host:      c.cfg.Host,
		State:     smartglass.StateDisconnected.String(),
		Power:     smartglass.PowerUnknown.String(),
		LastEvent: c.lastEvent,
	}
	if st.Name == "" {
		st.Name = c.cfg.ID
	}
	if c.deviceInfo != nil {
		info := *c.deviceInfo
		st.DeviceInfo = &info
	}
	if c.session == nil {
		return st
	}
	d := c.session.Diagnostics()
	st.State = d.State.String()
	st.Power = d.PowerState.String()
	st.Terminal = d.Terminal
	if snap, ok := c.session.Snapshot(); ok {
		st.Snapshot = &snap
	}
	return st
}

// List returns every console's status in configuration order.
func (m *Manager) List() []Status {
	out := make([]Status, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.consoles[id].status())
	}
	return out
}

// Status returns one console's status.
func (m *Manager) Status(id string) (Status, error) {
	c, ok := m.consoles[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrConsoleNotFound, id)
	}
	return c.status(), nil
}

// Diagnostics returns the session internals of one console.
func (m *Manager) Diagnostics(id string) (smartglass.Diagnostics, error) {
	_, sess, err := m.lookup(id)
	if err != nil {
		return smartglass.Diagnostics{}, err
	}
	return sess.Diagnostics(), nil
}

// PowerOn wakes and connects a console.
func (m *Manager) PowerOn(ctx context.Context, id string) error {
	_, sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	start := m.now()
	err = sess.PowerOn(ctx)
	m.observeCommand(id, coreChannel, "power_on", err, m.now().Sub(start))
	return err
}

// PowerOff shuts a connected console down.
func (m *Manager) PowerOff(ctx context.Context, id string) error {
	_, sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	start := m.now()
	err = sess.PowerOff(ctx)
	m.observeCommand(id, coreChannel, "power_off", err, m.now().Sub(start))
	return err
}

// SendCommand sends one vocabulary command on a named channel. The channel
// may be given by its own name or by the console's service alias.
func (m *Manager) SendCommand(ctx context.Context, id, channel, code string, args ...uint64) error {
	_, sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	ch, err := smartglass.ParseChannel(channel)
	if err != nil {
		return err
	}
	start := m.now()
	err = sess.SendCommand(ctx, ch, code, args...)
	m.observeCommand(id, string(ch), code, err, m.now().Sub(start))
	return err
}

// SpecialAction runs a named special action such as record_game_dvr.
func (m *Manager) SpecialAction(ctx context.Context, id, action string) error {
	_, sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	a, err := smartglass.ParseSpecialAction(action)
	if err != nil {
		return err
	}
	start := m.now()
	err = sess.RequestSpecialAction(ctx, a)
	m.observeCommand(id, coreChannel, string(a), err, m.now().Sub(start))
	return err
}

func (m *Manager) observeCommand(id, channel, command string, err error, latency time.Duration) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, s := range sinks {
		if o, ok := s.(CommandObserver); ok {
			o.ObserveCommand(id, channel, command, err, latency)
		}
	}
}

func (m *Manager) observeDiagnostics(id string, d smartglass.Diagnostics) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()
	for _, s := range sinks {
		if o, ok := s.(DiagnosticsObserver); ok {
			o.ObserveDiagnostics(id, d)
		}
	}
}

// udpTransport is the default transport factory.
func (m *Manager) udpTransport(c config.ConsoleConfig) (smartglass.Transport, error) {
	return smartglass.NewUDPTransport(smartglass.UDPConfig{
		Host:        c.Host,
		Port:        c.Port,
		IdleTimeout: m.opts.Session.IdleTimeout,
	})
}

// sessionConfig maps configuration onto a session config.
func sessionConfig(c config.ConsoleConfig, s config.SessionConfig) smartglass.Config {
	cfg := smartglass.Config{
		Host:           c.Host,
		LiveID:         c.LiveID,
		DisableLogInfo: c.DisableLogInfo,
		EnableDebug:    c.EnableDebugMode,
		Timeouts: smartglass.Timeouts{
			Connect:      s.ConnectTimeout,
			PowerOn:      s.PowerOnTimeout,
			WakeRepeats:  s.WakeRepeats,
			WakeInterval: s.WakeInterval,
			PollInterval: s.PollInterval,
			Ack:          s.AckTimeout,
			ChannelOpen:  s.ChannelOpenTimeout,
			DeviceInfo:   s.DeviceInfoTimeout,
			Heartbeat:    s.HeartbeatInterval,
		},
		Backoff: smartglass.Backoff{
			Initial:     s.Backoff.InitialDelay,
			Max:         s.Backoff.MaxDelay,
			Multiplier:  s.Backoff.Multiplier,
			MaxAttempts: s.Backoff.MaxAttempts,
		},
	}
	if c.UserHash != "" || c.UserToken != "" {
		cfg.Credentials = &smartglass.Credentials{UserHash: c.UserHash, Token: c.UserToken}
	}
	return cfg
}

func (m *Manager) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}

func (m *Manager) logDebug(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, keysAndValues...)
	}
}

func (m *Manager) logError(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Error(msg, keysAndValues...)
	}
}
