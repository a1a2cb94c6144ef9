package smartglass

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"
)

const (
	dashboardAUM     = "Xbox.Dashboard_8wekyb3d8bbwe!Xbox.Dashboard.Application"
	dashboardTitleID = 750323071
)

func statusFrame(titles ...ActiveTitle) *Message {
	st := ConsoleStatus{Major: 10, Build: 22621, Locale: "en-GB", Titles: titles}
	return &Message{Type: MsgConsoleStatus, Channel: coreChannelID, Payload: st.encode()}
}

func jsonFrame(text string) *Message {
	return &Message{Type: MsgJSON, Channel: coreChannelID, Payload: encodeJSONBody(text)}
}

func disconnectFrame(reason disconnectReason) *Message {
	return &Message{Type: MsgDisconnect, Channel: coreChannelID, Payload: disconnectBody{Reason: reason}.encode()}
}

// eventsUntilRaw collects events until raw telemetry on topic arrives.
func eventsUntilRaw(t *testing.T, sub *Subscription, topic string) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed waiting for %s telemetry", topic)
			}
			out = append(out, ev)
			if ev.Type == EventTelemetryRaw && ev.Topic == topic {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s telemetry", topic)
		}
	}
}

// enqueueDirect queues commands on the worker in a known order.
func enqueueDirect(t *testing.T, s *Session, ch Channel, names ...string) []*command {
	t.Helper()
	var cmds []*command
	for _, name := range names {
		def, err := lookupCommand(ch, name, nil)
		if err != nil {
			t.Fatalf("lookupCommand(%s) error = %v", name, err)
		}
		cmd := newCommand(ch, name)
		cmd.def = def
		cmds = append(cmds, cmd)
		if !s.post(func() { s.enqueue(cmd) }) {
			t.Fatal("post failed")
		}
	}
	return cmds
}

func awaitResult(t *testing.T, cmd *command) error {
	t.Helper()
	select {
	case err := <-cmd.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("command %s never resolved", cmd.name)
		return nil
	}
}

func TestSendCommandWhileDisconnected(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)

	err := s.SendCommand(context.Background(), ChannelInput, "up")
	if !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("SendCommand() error = %v, want ErrChannelNotOpen", err)
	}
	if n := console.wakeCount() + console.discoverCount() + console.dialCount(); n != 0 {
		t.Errorf("transport used %d times, want 0", n)
	}
}

func TestSendCommandUnknownCode(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	connect(t, s)
	before := len(console.conn().sentFrames())

	tests := []struct {
		name    string
		channel Channel
		code    string
		args    []uint64
		wantErr error
	}{
		{"unknown code", ChannelInput, "jump", nil, ErrUnknownCommand},
		{"code from other channel", ChannelMedia, "up", nil, ErrUnknownCommand},
		{"unknown channel", Channel("telemetry"), "up", nil, ErrUnknownCommand},
		{"seek without position", ChannelMedia, "seek", nil, ErrInvalidArgument},
		{"argument not accepted", ChannelInput, "a", []uint64{1}, ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SendCommand(context.Background(), tt.channel, tt.code, tt.args...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SendCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if after := len(console.conn().sentFrames()); after != before {
		t.Errorf("frames sent = %d, want %d (no I/O for rejected commands)", after, before)
	}
}

func TestPowerOnWhenConnectedSendsNoWake(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	connect(t, s)

	if err := s.PowerOn(context.Background()); err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}
	if got := console.wakeCount(); got != 0 {
		t.Errorf("wake packets = %d, want 0", got)
	}
	if got := console.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestPowerOnWakesConsole(t *testing.T) {
	console := newFakeConsole()
	console.reachable = false
	console.reachableAfterWakes = 4
	s := newTestSession(t, console, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.PowerOn(ctx); err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}
	if got := console.wakeCount(); got < 3 {
		t.Errorf("wake packets = %d, want at least 3", got)
	}
}

func TestPowerOnTimeout(t *testing.T) {
	console := newFakeConsole()
	console.reachable = false
	s := newTestSession(t, console, nil)
	sub := s.Subscribe()
	defer sub.Close()

	err := s.PowerOn(context.Background())
	if !errors.Is(err, ErrPowerOnTimeout) {
		t.Fatalf("PowerOn() error = %v, want ErrPowerOnTimeout", err)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}
	if s.Terminal() {
		t.Error("Terminal() = true after power on timeout, want false")
	}
	ev := nextEvent(t, sub, EventError)
	if !errors.Is(ev.Err, ErrPowerOnTimeout) {
		t.Errorf("error event = %v, want ErrPowerOnTimeout", ev.Err)
	}
}

func TestCommandsAreSentInSubmissionOrder(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	connect(t, s)

	names := []string{"up", "down", "left", "right", "a"}
	for _, cmd := range enqueueDirect(t, s, ChannelInput, names...) {
		if err := awaitResult(t, cmd); err != nil {
			t.Fatalf("command %s error = %v", cmd.name, err)
		}
	}

	frames := framesOfType(console.conn().sentFrames(), MsgGamepad)
	if len(frames) != 2*len(names) {
		t.Fatalf("gamepad frames = %d, want %d (press and release each)", len(frames), 2*len(names))
	}
	var lastSeq uint32
	for i, name := range names {
		press, release := frames[2*i], frames[2*i+1]
		g, err := decodeGamepad(press.Payload)
		if err != nil {
			t.Fatalf("decodeGamepad() error = %v", err)
		}
		want := uint16(vocabulary[ChannelInput][name].code)
		if g.Buttons != want || !press.NeedAck {
			t.Errorf("press %d buttons = %d (need ack %v), want %d (%s)", i, g.Buttons, press.NeedAck, want, name)
		}
		r, err := decodeGamepad(release.Payload)
		if err != nil {
			t.Fatalf("decodeGamepad() error = %v", err)
		}
		if r.Buttons != 0 || release.NeedAck {
			t.Errorf("release %d buttons = %d (need ack %v), want 0 without ack", i, r.Buttons, release.NeedAck)
		}
		if press.Seq <= lastSeq {
			t.Errorf("press %d seq = %d, not after %d", i, press.Seq, lastSeq)
		}
		lastSeq = press.Seq
		if press.Channel == coreChannelID || release.Channel != press.Channel {
			t.Errorf("press %d on channel %d, release on %d", i, press.Channel, release.Channel)
		}
	}
}

func TestCommandRetriedOnceThenTimesOut(t *testing.T) {
	console := newFakeConsole()
	console.ackMode = ackNone
	s := newTestSession(t, console, nil)
	connect(t, s)

	err := s.SendCommand(context.Background(), ChannelInput, "a")
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("SendCommand() error = %v, want ErrCommandTimeout", err)
	}

	sent := console.conn().sentFrames()
	frames := presses(sent)
	if len(frames) != 2 {
		t.Fatalf("gamepad presses = %d, want 2 (original + one retry)", len(frames))
	}
	if frames[0].Seq != frames[1].Seq {
		t.Errorf("retry seq = %d, want %d (same attempt)", frames[1].Seq, frames[0].Seq)
	}
	pads := framesOfType(sent, MsgGamepad)
	if last := pads[len(pads)-1]; last.NeedAck {
		t.Error("failed press was not released")
	}
	if got := s.Diagnostics().CommandsFailed; got != 1 {
		t.Errorf("CommandsFailed = %d, want 1", got)
	}
}

func TestCommandAcknowledgedOnRetry(t *testing.T) {
	console := newFakeConsole()
	console.ackMode = ackSecondAttempt
	s := newTestSession(t, console, nil)
	connect(t, s)

	if err := s.SendCommand(context.Background(), ChannelMedia, "play"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got := len(framesOfType(console.conn().sentFrames(), MsgMediaCommand)); got != 2 {
		t.Errorf("media frames = %d, want 2", got)
	}
}

func TestPendingCommandsFailWhenTransportDrops(t *testing.T) {
	console := newFakeConsole()
	console.ackMode = ackNone
	s := newTestSession(t, console, func(c *Config) {
		c.Timeouts.Ack = 5 * time.Second
	})
	connect(t, s)
	conn := console.conn()

	cmds := enqueueDirect(t, s, ChannelInput, "up", "down", "left")
	waitFor(t, "first command on the wire", func() bool {
		return len(presses(conn.sentFrames())) == 1
	})

	conn.Close()

	for _, cmd := range cmds {
		if err := awaitResult(t, cmd); !errors.Is(err, ErrSessionLost) {
			t.Errorf("command %s error = %v, want ErrSessionLost", cmd.name, err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := len(presses(console.allSent())); got != 1 {
		t.Errorf("gamepad presses after drop = %d, want 1", got)
	}
	if got := s.State(); got != StateReconnecting {
		t.Errorf("State() = %s, want reconnecting", got)
	}
}

func TestTelemetryEmitsOnlyOnChange(t *testing.T) {
	console := newFakeConsole()
	console.sendStatus = false
	s := newTestSession(t, console, nil)
	sub := s.Subscribe()
	defer sub.Close()
	connect(t, s)

	c := console.conn()
	dash := ActiveTitle{TitleID: dashboardTitleID, HasFocus: true, AUMID: dashboardAUM}
	c.inject(statusFrame())
	for range 3 {
		c.inject(statusFrame(dash))
	}
	c.inject(jsonFrame(`{"done":true}`))

	events := eventsUntilRaw(t, sub, "json")
	var states []Snapshot
	for _, ev := range events {
		if ev.Type == EventStateChanged {
			states = append(states, ev.Snapshot)
		}
	}
	if len(states) != 2 {
		t.Fatalf("state_changed events = %d, want 2: %+v", len(states), states)
	}
	if !states[0].Power || states[0].Content != "" {
		t.Errorf("first snapshot = %+v, want powered with no content", states[0])
	}
	want := Snapshot{Power: true, Content: dashboardAUM, TitleID: dashboardTitleID}
	if !states[1].Equal(want) {
		t.Errorf("second snapshot = %+v, want %+v", states[1], want)
	}
	if got, ok := s.Snapshot(); !ok || !got.Equal(want) {
		t.Errorf("Snapshot() = %+v, %v, want %+v", got, ok, want)
	}
	if got := countType(events, EventDeviceInfo); got != 1 {
		t.Errorf("device_info events = %d, want 1 per connection", got)
	}
	statusRaw := 0
	for _, ev := range events {
		if ev.Type == EventTelemetryRaw && ev.Topic == "status" {
			statusRaw++
		}
	}
	if statusRaw != 4 {
		t.Errorf("status telemetry events = %d, want one per status frame", statusRaw)
	}
}

func TestConsoleDisconnectReason(t *testing.T) {
	tests := []struct {
		name      string
		reason    disconnectReason
		wantState State
		wantPower PowerState
	}{
		{"low power", disconnectLowPower, StateDisconnected, PowerConnectedStandby},
		{"power off", disconnectPowerOff, StateDisconnected, PowerOff},
		{"maintenance", disconnectMaintenance, StateDisconnected, PowerSystemUpdate},
		{"error", disconnectError, StateReconnecting, PowerOn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console := newFakeConsole()
			s := newTestSession(t, console, nil)
			sub := s.Subscribe()
			defer sub.Close()
			connect(t, s)
			if ev := nextEvent(t, sub, EventStateChanged); !ev.Snapshot.Power {
				t.Fatalf("snapshot after status = %+v, want powered", ev.Snapshot)
			}

			console.conn().inject(disconnectFrame(tt.reason))
			waitFor(t, tt.wantState.String()+" state", func() bool { return s.State() == tt.wantState })

			if got := s.Diagnostics().PowerState; got != tt.wantPower {
				t.Errorf("Diagnostics().PowerState = %s, want %s", got, tt.wantPower)
			}
			if tt.wantPower != PowerOn {
				ev := nextEvent(t, sub, EventStateChanged)
				if ev.Snapshot.Power {
					t.Errorf("%s snapshot Power = true, want false", tt.wantPower)
				}
				if s.Terminal() {
					t.Error("Terminal() = true, want false")
				}
			}
		})
	}
}

func TestFramesForUnknownChannelAreDiscarded(t *testing.T) {
	console := newFakeConsole()
	console.sendStatus = false
	s := newTestSession(t, console, nil)
	sub := s.Subscribe()
	defer sub.Close()
	connect(t, s)

	c := console.conn()
	stray := statusFrame()
	stray.Channel = 999
	c.inject(stray)
	c.inject(jsonFrame(`{"done":true}`))

	events := eventsUntilRaw(t, sub, "json")
	if got := countType(events, EventStateChanged); got != 0 {
		t.Errorf("state_changed events = %d, want 0", got)
	}
	if got := s.Diagnostics().FramesDropped; got == 0 {
		t.Error("FramesDropped = 0, want at least 1")
	}
}

func TestInboundFramesAreAcknowledged(t *testing.T) {
	console := newFakeConsole()
	console.sendStatus = false
	s := newTestSession(t, console, nil)
	sub := s.Subscribe()
	defer sub.Close()
	connect(t, s)

	c := console.conn()
	joins := framesOfType(c.sentFrames(), MsgLocalJoin)
	if len(joins) != 1 || !joins[0].NeedAck || joins[0].Channel != coreChannelID {
		t.Fatalf("local join frames = %+v, want one on core needing ack", joins)
	}

	frame := jsonFrame(`{"hello":1}`)
	frame.Seq = 77
	frame.NeedAck = true
	c.inject(frame)
	eventsUntilRaw(t, sub, "json")

	acks := framesOfType(c.sentFrames(), MsgAck)
	if len(acks) != 1 {
		t.Fatalf("ack frames = %d, want 1", len(acks))
	}
	if acks[0].Channel != ackChannelID || acks[0].NeedAck {
		t.Errorf("ack channel = 0x%X (need ack %v), want 0x%X", acks[0].Channel, acks[0].NeedAck, ackChannelID)
	}
	body, err := decodeAck(acks[0].Payload)
	if err != nil || len(body.Processed) != 1 || body.Processed[0] != 77 {
		t.Errorf("ack body = %+v (%v), want processed [77]", body, err)
	}
}

func TestReconnectAfterTransportLoss(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, func(c *Config) {
		c.Backoff = Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, MaxAttempts: 3}
	})
	sub := s.Subscribe()
	defer sub.Close()
	connect(t, s)
	nextEvent(t, sub, EventConnected)

	if err := s.SendCommand(context.Background(), ChannelInput, "up"); err != nil {
		t.Fatalf("SendCommand() before drop error = %v", err)
	}
	first := console.conn()
	first.Close()

	nextEvent(t, sub, EventError)
	nextEvent(t, sub, EventConnected)
	waitFor(t, "connected state", func() bool { return s.State() == StateConnected })

	if got := console.dialCount(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
	if err := s.SendCommand(context.Background(), ChannelInput, "down"); err != nil {
		t.Fatalf("SendCommand() after reconnect error = %v", err)
	}
	second := console.conn()
	if got := len(framesOfType(second.sentFrames(), MsgStartChannelRequest)); got != 1 {
		t.Errorf("channel opens on new connection = %d, want 1", got)
	}
	if got := s.Diagnostics().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
}

func TestReconnectGivesUpAfterBudget(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, func(c *Config) {
		c.Timeouts.Connect = 30 * time.Millisecond
		c.Backoff = Backoff{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond, MaxAttempts: 2}
	})
	sub := s.Subscribe()
	defer sub.Close()
	connect(t, s)

	console.set(func(f *fakeConsole) { f.reachable = false })
	console.conn().Close()

	events := eventsUntil(t, sub, EventDisconnected)
	if got := countType(events, EventError); got != 3 {
		t.Errorf("error events = %d, want 3 (loss + 2 failed attempts)", got)
	}
	last := events[len(events)-1]
	if !last.Terminal {
		t.Error("disconnected event not terminal")
	}
	if !s.Terminal() {
		t.Error("Terminal() = false, want true")
	}
	if err := s.PowerOn(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("PowerOn() after exhaustion error = %v, want ErrSessionClosed", err)
	}
}

func TestAuthenticationRejectedIsFatal(t *testing.T) {
	console := newFakeConsole()
	console.rejectAuth = true
	s := newTestSession(t, console, func(c *Config) {
		c.Credentials = &Credentials{UserHash: "2533274790395904", Token: "eyJ0eXAi"}
	})
	sub := s.Subscribe()
	defer sub.Close()

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrAuthenticationRejected) {
		t.Fatalf("Connect() error = %v, want ErrAuthenticationRejected", err)
	}
	if !s.Terminal() {
		t.Error("Terminal() = false, want true")
	}
	ev := nextEvent(t, sub, EventDisconnected)
	if !ev.Terminal {
		t.Error("disconnected event not terminal")
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second Connect() error = %v, want ErrSessionClosed", err)
	}
}

func TestAnonymousSessionSkipsAuthentication(t *testing.T) {
	console := newFakeConsole()
	console.rejectAuth = true
	s := newTestSession(t, console, nil)
	connect(t, s)

	c := console.conn()
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()
	if creds != nil {
		t.Errorf("handshake credentials = %+v, want nil", creds)
	}
}

func TestPowerOff(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	sub := s.Subscribe()
	defer sub.Close()
	connect(t, s)
	conn := console.conn()

	if err := s.PowerOff(context.Background()); err != nil {
		t.Fatalf("PowerOff() error = %v", err)
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}
	if s.Terminal() {
		t.Error("Terminal() = true after power off, want false")
	}
	if got := len(framesOfType(conn.sentFrames(), MsgPowerOff)); got != 1 {
		t.Errorf("power off frames = %d, want 1", got)
	}
	if !conn.closed() {
		t.Error("connection still open after power off")
	}
	ev := nextEvent(t, sub, EventDisconnected)
	if ev.Terminal {
		t.Error("power off disconnected event is terminal")
	}
	if err := s.SendCommand(context.Background(), ChannelInput, "a"); !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("SendCommand() after power off error = %v, want ErrChannelNotOpen", err)
	}
}

func TestPowerOffRequiresConnection(t *testing.T) {
	s := newTestSession(t, newFakeConsole(), nil)
	if err := s.PowerOff(context.Background()); !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("PowerOff() error = %v, want ErrChannelNotOpen", err)
	}
}

func TestDeviceInfoOnConnect(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	sub := s.Subscribe()
	defer sub.Close()
	connect(t, s)

	ev := nextEvent(t, sub, EventDeviceInfo)
	want := DeviceInfo{
		Manufacturer:     "Microsoft",
		Model:            "Xbox One",
		SerialNumber:     "FD00112233445566",
		FirmwareRevision: "10.0.22621",
		Name:             "Living Room",
		Locale:           "en-GB",
	}
	if ev.DeviceInfo != want {
		t.Errorf("DeviceInfo = %+v, want %+v", ev.DeviceInfo, want)
	}
}

func TestDeviceInfoTimeoutIsNotFatal(t *testing.T) {
	console := newFakeConsole()
	console.sendStatus = false
	s := newTestSession(t, console, nil)
	sub := s.Subscribe()
	defer sub.Close()
	connect(t, s)

	for {
		ev := nextEvent(t, sub, EventDebug)
		if strings.Contains(ev.Message, "Device info request timed out") {
			break
		}
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("State() = %s, want connected", got)
	}
}

func TestCloseFailsPendingCommands(t *testing.T) {
	console := newFakeConsole()
	console.ackMode = ackNone
	s := newTestSession(t, console, func(c *Config) {
		c.Timeouts.Ack = 5 * time.Second
	})
	sub := s.Subscribe()
	connect(t, s)
	conn := console.conn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.SendCommand(context.Background(), ChannelInput, "b")
	}()
	waitFor(t, "command on the wire", func() bool {
		return len(presses(conn.sentFrames())) == 1
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSessionLost) {
			t.Errorf("SendCommand() error = %v, want ErrSessionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending command not resolved by Close")
	}
	if !conn.closed() {
		t.Error("connection still open after Close")
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", got)
	}

	var last Event
	for ev := range sub.C {
		last = ev
	}
	if last.Type != EventDisconnected || !last.Terminal {
		t.Errorf("last event = %s (terminal %v), want terminal disconnected", last.Type, last.Terminal)
	}
	if err := s.SendCommand(context.Background(), ChannelInput, "b"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendCommand() after Close error = %v, want ErrSessionClosed", err)
	}
}

func TestRequestSpecialAction(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	connect(t, s)

	if err := s.RequestSpecialAction(context.Background(), ActionRecordGameDVR); err != nil {
		t.Fatalf("RequestSpecialAction() error = %v", err)
	}
	frames := framesOfType(console.conn().sentFrames(), MsgGameDVRRecord)
	if len(frames) != 1 {
		t.Fatalf("game dvr frames = %d, want 1", len(frames))
	}
	if frames[0].Channel != coreChannelID {
		t.Errorf("channel = %d, want core", frames[0].Channel)
	}
	if start := int32(binary.BigEndian.Uint32(frames[0].Payload[0:4])); start != -recordGameDVRWindow {
		t.Errorf("start delta = %d, want %d", start, -recordGameDVRWindow)
	}

	if err := s.RequestSpecialAction(context.Background(), SpecialAction("screenshot")); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown action error = %v, want ErrUnknownCommand", err)
	}
}

func TestOpenChannelIsIdempotent(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	connect(t, s)

	for i := range 2 {
		if err := s.OpenChannel(context.Background(), ChannelMedia); err != nil {
			t.Fatalf("OpenChannel() #%d error = %v", i+1, err)
		}
	}
	if got := len(framesOfType(console.conn().sentFrames(), MsgStartChannelRequest)); got != 1 {
		t.Errorf("start channel requests = %d, want 1", got)
	}
	open := s.Diagnostics().OpenChannels
	if len(open) != 1 || open[0] != ChannelMedia {
		t.Errorf("OpenChannels = %v, want [%s]", open, ChannelMedia)
	}
}

func TestChannelOpenTimeoutFailsQueuedCommands(t *testing.T) {
	console := newFakeConsole()
	console.openChannels = false
	s := newTestSession(t, console, nil)
	connect(t, s)

	err := s.SendCommand(context.Background(), ChannelRemote, "volUp")
	if !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("SendCommand() error = %v, want ErrChannelNotOpen", err)
	}
}

func TestRemoteCommandCarriesKey(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	connect(t, s)

	if err := s.SendCommand(context.Background(), ChannelRemote, "volMute"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	frames := framesOfType(console.conn().sentFrames(), MsgJSON)
	if len(frames) != 1 {
		t.Fatalf("json frames = %d, want 1", len(frames))
	}
	text, err := decodeJSONBody(frames[0].Payload)
	if err != nil {
		t.Fatalf("decodeJSONBody() error = %v", err)
	}
	if !strings.Contains(text, `"button_id":"btn.vol_mute"`) || !strings.Contains(text, `"device_id":null`) {
		t.Errorf("body = %s, want btn.vol_mute with a null device id", text)
	}
}

func TestMessageEventsRespectDisableLogInfo(t *testing.T) {
	tests := []struct {
		name     string
		disable  bool
		wantMsgs int
	}{
		{"enabled", false, 1},
		{"disabled", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console := newFakeConsole()
			s := newTestSession(t, console, func(c *Config) { c.DisableLogInfo = tt.disable })
			sub := s.Subscribe()
			defer sub.Close()

			if err := s.PowerOn(context.Background()); err != nil {
				t.Fatalf("PowerOn() error = %v", err)
			}
			events := eventsUntil(t, sub, EventConnected)
			if got := countType(events, EventMessage); got != tt.wantMsgs {
				t.Errorf("message events = %d, want %d", got, tt.wantMsgs)
			}
		})
	}
}

func TestJoinedPowerOnDoesNotWakeOnReconnect(t *testing.T) {
	console := newFakeConsole()
	gate := make(chan struct{})
	console.dialGate = gate
	s := newTestSession(t, console, func(c *Config) {
		c.Timeouts.Connect = 300 * time.Millisecond
		c.Backoff = Backoff{Initial: 5 * time.Millisecond, Max: 10 * time.Millisecond, MaxAttempts: 2}
	})
	sub := s.Subscribe()
	defer sub.Close()

	results := make(chan error, 2)
	go func() { results <- s.Connect(context.Background()) }()
	waitFor(t, "dial in progress", func() bool { return console.dialCount() == 1 })

	go func() { results <- s.PowerOn(context.Background()) }()
	for {
		ev := nextEvent(t, sub, EventMessage)
		if ev.Message == "Power on requested." {
			break
		}
	}
	close(gate)
	for range 2 {
		if err := <-results; err != nil {
			t.Fatalf("joined lifecycle call error = %v", err)
		}
	}
	console.set(func(f *fakeConsole) { f.dialGate = nil })
	if got := console.wakeCount(); got != 0 {
		t.Fatalf("wake packets before drop = %d, want 0", got)
	}

	console.set(func(f *fakeConsole) { f.reachable = false })
	console.conn().Close()

	events := eventsUntil(t, sub, EventDisconnected)
	if got := countType(events, EventError); got != 3 {
		t.Errorf("error events = %d, want 3 (loss + 2 failed attempts)", got)
	}
	if got := console.wakeCount(); got != 0 {
		t.Errorf("wake packets during reconnect = %d, want 0", got)
	}
	if !events[len(events)-1].Terminal {
		t.Error("disconnected event not terminal")
	}
}

func TestCloseSendsDisconnect(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	connect(t, s)
	conn := console.conn()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	frames := framesOfType(conn.sentFrames(), MsgDisconnect)
	if len(frames) != 1 {
		t.Fatalf("disconnect frames = %d, want 1", len(frames))
	}
	body, err := decodeDisconnect(frames[0].Payload)
	if err != nil || body.Reason != disconnectUnspecified {
		t.Errorf("disconnect body = %+v (%v), want unspecified reason", body, err)
	}
	if !conn.closed() {
		t.Error("connection still open after Close")
	}
}

func TestCloseWhileDisconnectedSendsNothing(t *testing.T) {
	console := newFakeConsole()
	s := newTestSession(t, console, nil)
	connect(t, s)
	conn := console.conn()
	if err := s.PowerOff(context.Background()); err != nil {
		t.Fatalf("PowerOff() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := len(framesOfType(conn.sentFrames(), MsgDisconnect)); got != 0 {
		t.Errorf("disconnect frames = %d, want 0 after power off", got)
	}
}

func TestMediaCommandTargetsFocusedTitle(t *testing.T) {
	tests := []struct {
		name   string
		titles []ActiveTitle
		want   uint32
	}{
		{"game", []ActiveTitle{{TitleID: 1234, AUMID: "Game!App", HasFocus: true}}, 1234},
		{"app without title id", []ActiveTitle{{AUMID: "Media!App", HasFocus: true}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console := newFakeConsole()
			console.sendStatus = false
			s := newTestSession(t, console, nil)
			sub := s.Subscribe()
			defer sub.Close()
			connect(t, s)

			c := console.conn()
			c.inject(statusFrame(ActiveTitle{TitleID: 999, AUMID: "Previous!App", HasFocus: true}))
			c.inject(statusFrame(tt.titles...))
			c.inject(jsonFrame(`{"done":true}`))
			eventsUntilRaw(t, sub, "json")

			if err := s.SendCommand(context.Background(), ChannelMedia, "play"); err != nil {
				t.Fatalf("SendCommand() error = %v", err)
			}
			frames := framesOfType(c.sentFrames(), MsgMediaCommand)
			if len(frames) != 1 {
				t.Fatalf("media frames = %d, want 1", len(frames))
			}
			r := &reader{b: frames[0].Payload}
			r.u64() // request id
			if got := r.u32(); got != tt.want {
				t.Errorf("media command title id = %d, want %d", got, tt.want)
			}
		})
	}
}
