package smartglass

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// connectAttempt is one in-flight wake/connect sequence.
type connectAttempt struct {
	wake   bool
	cancel context.CancelFunc
}

// PowerOn wakes the console and connects to it. It returns nil immediately,
// without sending anything, when the session is already connected.
//
// The sequence sends WakeRepeats power-on packets, then queries the console
// every PollInterval until it answers, then performs the handshake. If the
// console does not answer within the PowerOn timeout the call fails with
// ErrPowerOnTimeout.
//
// Cancelling ctx stops the wait, not the sequence.
func (s *Session) PowerOn(ctx context.Context) error {
	return s.lifecycle(ctx, true)
}

// Connect connects to a console that is already on, without waking it.
// It fails with ErrTransportUnreachable if the console does not answer.
func (s *Session) Connect(ctx context.Context) error {
	return s.lifecycle(ctx, false)
}

func (s *Session) lifecycle(ctx context.Context, wake bool) error {
	reply := make(chan error, 1)
	if !s.post(func() { s.requestConnect(wake, reply) }) {
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

// PowerOff asks the console to shut down and drops the connection without
// waiting for the transport to close. Only valid while connected.
func (s *Session) PowerOff(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.terminal != nil {
			return s.terminal
		}
		if st := s.State(); st != StateConnected {
			return fmt.Errorf("%w: session is %s", ErrChannelNotOpen, st)
		}
		s.message("Power off requested.")
		err := s.sendFrame(&Message{
			Type:    MsgPowerOff,
			Channel: coreChannelID,
			Payload: encodePowerOffBody(s.cfg.LiveID),
		})
		s.detach(fmt.Errorf("%w: power off requested", ErrSessionLost))
		s.setState(StateDisconnected)
		s.power.Store(uint32(PowerOff))
		if snap, changed := s.decoder.applyPower(PowerOff); changed {
			s.emitState(snap)
		}
		s.publish(Event{Type: EventDisconnected, Message: "Disconnected."})
		return err
	})
}

// requestConnect starts or joins a connect attempt.
func (s *Session) requestConnect(wake bool, reply chan error) {
	if s.terminal != nil {
		reply <- s.terminal
		return
	}
	if s.State() == StateConnected {
		reply <- nil
		return
	}
	if wake {
		s.message("Power on requested.")
	}
	s.waiters = append(s.waiters, reply)
	if s.attempt != nil {
		if wake && !s.attempt.wake {
			s.wantWake = true
		}
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.startAttempt(wake)
}

// startAttempt launches the blocking part of a connect in a helper goroutine.
func (s *Session) startAttempt(wake bool) {
	ctx, cancel := context.WithCancel(s.ctx)
	a := &connectAttempt{wake: wake, cancel: cancel}
	s.attempt = a
	if wake {
		s.setState(StateWaking)
	} else {
		s.setState(StateConnecting)
	}

	s.helpers.Add(1)
	go func() {
		defer s.helpers.Done()
		conn, info, err := s.establish(ctx, a)
		if !s.post(func() { s.finishAttempt(a, conn, info, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

// establish wakes (optionally), discovers, dials and authenticates.
// It runs outside the worker.
func (s *Session) establish(ctx context.Context, a *connectAttempt) (Conn, *ConsoleInfo, error) {
	t := s.cfg.Timeouts

	var info *ConsoleInfo
	if a.wake {
		deadline := time.Now().Add(t.PowerOn)
		for i := 0; i < t.WakeRepeats; i++ {
			if err := s.transport.Wake(ctx, s.cfg.LiveID); err != nil {
				s.logDebug("wake packet failed", "host", s.cfg.Host, "error", err)
			}
			if !sleepCtx(ctx, t.WakeInterval) {
				return nil, nil, ErrSessionClosed
			}
		}
		s.transitionFrom(a, StateConnecting)

		pollCtx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		var err error
		info, err = s.poll(pollCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ErrSessionClosed
			}
			return nil, nil, fmt.Errorf("%w: no answer within %s: %w", ErrPowerOnTimeout, t.PowerOn, err)
		}
	} else {
		discoverCtx, cancel := context.WithTimeout(ctx, t.Connect)
		var err error
		info, err = s.transport.Discover(discoverCtx)
		cancel()
		if err != nil {
			return nil, nil, unreachable(err)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.Connect)
	defer cancel()
	conn, err := s.transport.Dial(dialCtx, info)
	if err != nil {
		return nil, nil, unreachable(err)
	}

	creds := s.cfg.Credentials
	if creds.present() {
		s.transitionFrom(a, StateAuthenticating)
	} else {
		creds = nil
	}
	if err := conn.Handshake(dialCtx, creds); err != nil {
		conn.Close()
		if errors.Is(err, ErrAuthenticationRejected) {
			return nil, nil, err
		}
		return nil, nil, unreachable(err)
	}
	return conn, info, nil
}

// poll runs discovery until the console answers, re-sending a wake packet
// between rounds.
func (s *Session) poll(ctx context.Context) (*ConsoleInfo, error) {
	interval := s.cfg.Timeouts.PollInterval
	for {
		roundCtx, cancel := context.WithTimeout(ctx, interval)
		info, err := s.transport.Discover(roundCtx)
		cancel()
		if err == nil {
			return info, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if werr := s.transport.Wake(ctx, s.cfg.LiveID); werr != nil {
			s.logDebug("wake packet failed", "host", s.cfg.Host, "error", werr)
		}
		if !sleepCtx(ctx, interval/2) {
			return nil, err
		}
	}
}

// transitionFrom moves to st if a is still the current attempt.
func (s *Session) transitionFrom(a *connectAttempt, st State) {
	s.post(func() {
		if s.attempt == a {
			s.setState(st)
		}
	})
}

// finishAttempt applies the outcome of a connect attempt.
func (s *Session) finishAttempt(a *connectAttempt, conn Conn, info *ConsoleInfo, err error) {
	if s.attempt != a || s.closing {
		if conn != nil {
			conn.Close()
		}
		return
	}
	s.attempt = nil
	a.cancel()

	if err == nil {
		s.wantWake = false
		s.attach(conn, info)
		s.resolveWaiters(nil)
		return
	}

	if s.wantWake {
		s.wantWake = false
		s.startAttempt(true)
		return
	}

	s.emitError(err)
	switch {
	case errors.Is(err, ErrAuthenticationRejected):
		s.becomeTerminal(err, "Authentication rejected.")
	case s.reconnecting:
		s.resolveWaiters(err)
		s.scheduleReconnect()
	default:
		s.setState(StateDisconnected)
		s.resolveWaiters(err)
	}
}

// attach installs a fresh connection and starts its reader.
func (s *Session) attach(conn Conn, info *ConsoleInfo) {
	s.gen++
	s.conn = conn
	s.console = info
	s.deviceInfoSent = false
	s.wantWake = false
	s.mux = newMultiplexer()
	s.publishChannels()
	if s.reconnecting {
		s.stats.reconnects.Add(1)
	}
	s.reconnecting = false
	s.reconnectAttempt = 0
	s.reconnectDelay = 0
	s.attemptNo.Store(0)
	s.setState(StateConnected)
	s.publish(Event{Type: EventConnected, Message: "Connected."})

	gen := s.gen
	s.helpers.Add(1)
	go s.readLoop(gen, conn)

	s.armHeartbeat()
	s.join()
}

// readLoop feeds inbound frames to the worker until the connection fails.
func (s *Session) readLoop(gen uint64, conn Conn) {
	defer s.helpers.Done()
	for {
		m, err := conn.Receive(s.ctx)
		if err != nil {
			s.post(func() { s.transportLost(gen, err) })
			return
		}
		if !s.post(func() { s.handleMessage(gen, m) }) {
			return
		}
	}
}

// detach drops the current connection: every pending command fails with
// cause, channels close and timers stop.
func (s *Session) detach(cause error) {
	s.gen++
	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
		s.heartbeatTimer = nil
	}
	if s.deviceInfoTimer != nil {
		s.deviceInfoTimer.Stop()
		s.deviceInfoTimer = nil
	}
	pending, waiters := s.mux.teardown()
	for _, cmd := range pending {
		s.stats.commandsFailed.Add(1)
		cmd.resolve(cause)
	}
	for _, w := range waiters {
		w <- cause
	}
	s.mux = newMultiplexer()
	s.publishChannels()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// transportLost reacts to an unexpected closure of the current connection.
func (s *Session) transportLost(gen uint64, err error) {
	if gen != s.gen || s.conn == nil || s.closing {
		return
	}
	s.detach(fmt.Errorf("%w: %w", ErrSessionLost, err))
	s.emitError(err)
	s.reconnecting = true
	s.reconnectAttempt = 0
	s.reconnectDelay = 0
	s.scheduleReconnect()
}

// consoleDisconnected handles a console ending the session. A console that
// leaves to power down or update reports the new power state and the
// session waits, disconnected, for the next lifecycle call. Any other reason
// is treated as a lost transport.
func (s *Session) consoleDisconnected(gen uint64, d disconnectBody) {
	power, ok := d.Reason.power()
	if !ok {
		s.transportLost(gen, fmt.Errorf("%w: console ended the session (reason %d, error %d)",
			ErrTransportUnreachable, d.Reason, d.ErrorCode))
		return
	}
	s.message(fmt.Sprintf("Console disconnected: %s.", power))
	s.detach(fmt.Errorf("%w: console is %s", ErrSessionLost, power))
	s.setState(StateDisconnected)
	s.power.Store(uint32(power))
	if snap, changed := s.decoder.applyPower(power); changed {
		s.emitState(snap)
	}
	s.publish(Event{Type: EventDisconnected, Message: "Disconnected."})
}

// scheduleReconnect arms the next reconnect attempt, or gives up when the
// budget is spent.
func (s *Session) scheduleReconnect() {
	if s.cfg.Backoff.Exhausted(s.reconnectAttempt) {
		s.power.Store(uint32(PowerOff))
		if snap, changed := s.decoder.applyPower(PowerOff); changed {
			s.emitState(snap)
		}
		s.becomeTerminal(fmt.Errorf("%w: gave up after %d reconnect attempts",
			ErrTransportUnreachable, s.reconnectAttempt), "Disconnected.")
		return
	}
	s.reconnectAttempt++
	s.attemptNo.Store(int32(s.reconnectAttempt))
	s.reconnectDelay = s.cfg.Backoff.Next(s.reconnectAttempt, s.reconnectDelay)
	s.setState(StateReconnecting)
	s.debug(fmt.Sprintf("Reconnecting in %s (attempt %d/%d).",
		s.reconnectDelay, s.reconnectAttempt, s.cfg.Backoff.MaxAttempts))

	s.reconnectTimer = time.AfterFunc(s.reconnectDelay, func() {
		s.post(s.reconnectNow)
	})
}

func (s *Session) reconnectNow() {
	s.reconnectTimer = nil
	if s.closing || !s.reconnecting || s.attempt != nil {
		return
	}
	s.startAttempt(false)
}

// becomeTerminal ends the session's useful life.
func (s *Session) becomeTerminal(cause error, msg string) {
	s.terminal = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	s.terminalF.Store(true)
	s.reconnecting = false
	s.setState(StateDisconnected)
	s.publish(Event{Type: EventDisconnected, Message: msg, Terminal: true, Err: cause})
	s.resolveWaiters(s.terminal)
}

func (s *Session) resolveWaiters(err error) {
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

// unreachable wraps err as ErrTransportUnreachable unless it already is.
func unreachable(err error) error {
	if errors.Is(err, ErrTransportUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransportUnreachable, err)
}

// sleepCtx waits for d or ctx, reporting whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
