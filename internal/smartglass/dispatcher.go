package smartglass

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// command is one submitted command. Owned by the session worker once queued.
type command struct {
	channel Channel
	name    string
	def     commandSpec
	args    []uint64
	action  SpecialAction

	msgType MessageType
	payload []byte
	release []byte // sent once the command settles
	seq     uint32
	issued  time.Time
	retries int
	timer   *time.Timer

	result chan error
	done   bool
}

func newCommand(ch Channel, name string) *command {
	return &command{channel: ch, name: name, result: make(chan error, 1)}
}

// resolve settles the command once; later calls are ignored.
func (c *command) resolve(err error) {
	if c.done {
		return
	}
	c.done = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.result <- err
}

// SendCommand submits a command code on a channel and waits for the console
// to acknowledge it. The code must be in the channel's vocabulary; an
// argument is required by "seek" (position in ticks) and refused by the rest.
//
// Returns:
//   - ErrUnknownCommand / ErrInvalidArgument before any I/O
//   - ErrChannelNotOpen when the session is not connected
//   - ErrCommandTimeout after one unacknowledged retry
//   - ErrSessionLost if the session leaves the connected state first
func (s *Session) SendCommand(ctx context.Context, ch Channel, code string, args ...uint64) error {
	def, err := lookupCommand(ch, code, args)
	if err != nil {
		return err
	}
	cmd := newCommand(ch, code)
	cmd.def = def
	cmd.args = args
	return s.submit(ctx, cmd)
}

// RequestSpecialAction asks the console for a one-off system action such as
// capturing a gameplay clip. It is acknowledged like a channel command.
func (s *Session) RequestSpecialAction(ctx context.Context, action SpecialAction) error {
	if _, err := ParseSpecialAction(string(action)); err != nil {
		return err
	}
	cmd := newCommand(channelCore, string(action))
	cmd.action = action
	return s.submit(ctx, cmd)
}

// submit hands cmd to the worker and waits for its resolution.
func (s *Session) submit(ctx context.Context, cmd *command) error {
	if !s.post(func() { s.enqueue(cmd) }) {
		return ErrSessionClosed
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		s.post(func() { s.abandon(cmd) })
		return ctx.Err()
	case <-s.stopped:
		select {
		case err := <-cmd.result:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// enqueue validates session state and queues cmd on its channel.
func (s *Session) enqueue(cmd *command) {
	if s.closing {
		cmd.resolve(ErrSessionClosed)
		return
	}
	if st := s.State(); st != StateConnected {
		cmd.resolve(fmt.Errorf("%w: session is %s", ErrChannelNotOpen, st))
		return
	}
	cmd.issued = s.now()
	s.encodeCommand(cmd)

	ch := s.mux.channel(cmd.channel)
	ch.queue = append(ch.queue, cmd)
	if !ch.open {
		s.openChannel(ch)
		return
	}
	s.pump(ch)
}

// encodeCommand builds the wire body for cmd.
func (s *Session) encodeCommand(cmd *command) {
	switch cmd.channel {
	case ChannelMedia:
		s.requestID++
		mc := mediaCommand{
			RequestID: s.requestID,
			TitleID:   s.decoder.current.TitleID,
			Command:   cmd.def.code,
		}
		if len(cmd.args) == 1 {
			mc.SeekPosition = cmd.args[0]
		}
		cmd.msgType, cmd.payload = MsgMediaCommand, mc.encode()
	case ChannelInput:
		ts := uint64(cmd.issued.UnixMilli())
		cmd.msgType = MsgGamepad
		cmd.payload = gamepadInput{Timestamp: ts, Buttons: uint16(cmd.def.code)}.encode()
		cmd.release = gamepadInput{Timestamp: ts}.encode()
	case ChannelRemote:
		s.requestID++
		body, _ := json.Marshal(map[string]any{
			"msgid":   fmt.Sprintf("%d", s.requestID),
			"request": "SendKey",
			"params":  map[string]any{"button_id": cmd.def.key, "device_id": nil},
		})
		cmd.msgType, cmd.payload = MsgJSON, encodeJSONBody(string(body))
	case channelCore:
		cmd.msgType, cmd.payload = MsgGameDVRRecord, encodeGameDVRRecord(-recordGameDVRWindow, 0)
	}
}

// abandon drops a queued command whose caller gave up. In-flight commands
// are left to resolve normally.
func (s *Session) abandon(cmd *command) {
	if cmd.done || s.mux == nil {
		return
	}
	ch := s.mux.channel(cmd.channel)
	for i, queued := range ch.queue {
		if queued == cmd {
			ch.queue = append(ch.queue[:i], ch.queue[i+1:]...)
			cmd.resolve(context.Canceled)
			return
		}
	}
}

// pump sends the next queued command if the channel is idle.
func (s *Session) pump(ch *channelState) {
	if !ch.open || ch.inflight != nil || len(ch.queue) == 0 {
		return
	}
	cmd := ch.queue[0]
	ch.queue[0] = nil
	ch.queue = ch.queue[1:]

	ch.inflight = cmd
	cmd.seq = s.nextSeq()
	s.mux.bySeq[cmd.seq] = cmd
	s.transmit(ch, cmd)
}

// transmit writes cmd and arms its acknowledgement timer. A retry reuses
// the sequence number so a late ack for either attempt settles it.
func (s *Session) transmit(ch *channelState, cmd *command) {
	err := s.sendFrame(&Message{
		Type:    cmd.msgType,
		Channel: ch.id,
		Seq:     cmd.seq,
		NeedAck: true,
		Payload: cmd.payload,
	})
	if err != nil {
		s.complete(ch, cmd, err)
		return
	}
	gen := s.gen
	cmd.timer = time.AfterFunc(s.cfg.Timeouts.Ack, func() {
		s.post(func() { s.ackExpired(gen, cmd) })
	})
}

// ackExpired retries cmd once, then fails it.
func (s *Session) ackExpired(gen uint64, cmd *command) {
	if gen != s.gen || cmd.done {
		return
	}
	ch := s.mux.channel(cmd.channel)
	if ch.inflight != cmd {
		return
	}
	if cmd.retries == 0 {
		cmd.retries++
		s.debug(fmt.Sprintf("No ack for %s on %s, retrying.", cmd.name, cmd.channel))
		s.transmit(ch, cmd)
		return
	}
	s.complete(ch, cmd, fmt.Errorf("%w: %s on %s unacknowledged after %d attempts",
		ErrCommandTimeout, cmd.name, cmd.channel, cmd.retries+1))
}

// handleAck settles acknowledged and rejected commands.
func (s *Session) handleAck(a ackBody) {
	for _, seq := range a.Processed {
		if cmd, ok := s.mux.bySeq[seq]; ok {
			s.complete(s.mux.channel(cmd.channel), cmd, nil)
		}
	}
	for _, seq := range a.Rejected {
		if cmd, ok := s.mux.bySeq[seq]; ok {
			s.complete(s.mux.channel(cmd.channel), cmd,
				fmt.Errorf("%w: console rejected %s on %s", ErrUnknownCommand, cmd.name, cmd.channel))
		}
	}
}

// complete settles the in-flight command of ch and moves the queue on.
// A button press is released whatever the outcome.
func (s *Session) complete(ch *channelState, cmd *command, err error) {
	delete(s.mux.bySeq, cmd.seq)
	if ch.inflight == cmd {
		ch.inflight = nil
	}
	if cmd.release != nil {
		if rerr := s.sendFrame(&Message{Type: cmd.msgType, Channel: ch.id, Payload: cmd.release}); rerr != nil {
			s.logDebug("release send failed", "host", s.cfg.Host, "error", rerr)
		}
	}
	if err != nil {
		s.stats.commandsFailed.Add(1)
	} else {
		s.stats.commandsOK.Add(1)
	}
	cmd.resolve(err)
	s.pump(ch)
}

// OpenChannel opens a command channel and waits until the console accepts
// it. Opening an open channel returns immediately. Channels are also opened
// on demand by SendCommand.
func (s *Session) OpenChannel(ctx context.Context, name Channel) error {
	if _, ok := vocabulary[name]; !ok {
		return fmt.Errorf("%w: no channel %q", ErrUnknownCommand, name)
	}
	reply := make(chan error, 1)
	if !s.post(func() { s.requestOpen(name, reply) }) {
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

func (s *Session) requestOpen(name Channel, reply chan error) {
	if s.closing {
		reply <- ErrSessionClosed
		return
	}
	if st := s.State(); st != StateConnected {
		reply <- fmt.Errorf("%w: session is %s", ErrChannelNotOpen, st)
		return
	}
	ch := s.mux.channel(name)
	if ch.open {
		reply <- nil
		return
	}
	ch.waiters = append(ch.waiters, reply)
	s.openChannel(ch)
}

// openChannel sends a start channel request unless one is in flight.
func (s *Session) openChannel(ch *channelState) {
	req, ok := s.mux.beginOpen(ch)
	if !ok {
		return
	}
	if err := s.sendFrame(&Message{Type: MsgStartChannelRequest, Channel: coreChannelID, Payload: req.encode()}); err != nil {
		s.mux.abortOpen(ch)
		s.failChannel(ch, err)
		return
	}
	gen := s.gen
	ch.openTimer = time.AfterFunc(s.cfg.Timeouts.ChannelOpen, func() {
		s.post(func() { s.channelOpenExpired(gen, ch) })
	})
}

func (s *Session) handleChannelResponse(resp startChannelResponse) {
	ch, err := s.mux.completeOpen(resp)
	if ch == nil {
		s.debug(err.Error())
		return
	}
	if ch.openTimer != nil {
		ch.openTimer.Stop()
		ch.openTimer = nil
	}
	if err != nil {
		s.failChannel(ch, err)
		return
	}
	s.debug(fmt.Sprintf("Channel %s open (id %d).", ch.name, ch.id))
	for _, w := range ch.waiters {
		w <- nil
	}
	ch.waiters = nil
	s.pump(ch)
}

func (s *Session) channelOpenExpired(gen uint64, ch *channelState) {
	if gen != s.gen || !ch.opening {
		return
	}
	s.mux.abortOpen(ch)
	ch.openTimer = nil
	s.failChannel(ch, fmt.Errorf("%w: %s open timed out", ErrChannelNotOpen, ch.name))
}

// failChannel fails everything waiting on a channel that did not open.
func (s *Session) failChannel(ch *channelState, err error) {
	for _, w := range ch.waiters {
		w <- err
	}
	ch.waiters = nil
	queued := ch.queue
	ch.queue = nil
	for _, cmd := range queued {
		s.stats.commandsFailed.Add(1)
		cmd.resolve(err)
	}
}
