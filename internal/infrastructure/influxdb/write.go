package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	measurementConsoleState = "console_state"
	measurementCommand      = "console_command"
	measurementSession      = "console_session"
)

// ConsoleState is one state observation of a console.
type ConsoleState struct {
	ConsoleID  string
	Power      bool
	Content    string
	TitleID    uint32
	Volume     int
	Muted      bool
	MediaState string
	Time       time.Time
}

// SessionCounters are cumulative session statistics.
type SessionCounters struct {
	FramesTx       uint64
	FramesRx       uint64
	FramesDropped  uint64
	CommandsOK     uint64
	CommandsFailed uint64
	Reconnects     uint64
}

// WriteConsoleState records a state change. A zero Time means now.
//
// Content is a field, not a tag: it changes with every title launched and
// would blow up series cardinality.
//
// Example:
//
//	client.WriteConsoleState(influxdb.ConsoleState{
//	    ConsoleID: "living-room", Power: true, Content: "Microsoft.Xbox.Dashboard", Volume: 40,
//	})
func (c *Client) WriteConsoleState(s ConsoleState) {
	if !c.IsConnected() {
		return
	}
	if s.Time.IsZero() {
		s.Time = c.now()
	}
	c.writer.WritePoint(consoleStatePoint(s))
}

// WriteCommand records the outcome and latency of one console command.
//
// Parameters:
//   - consoleID: Console the command was sent to
//   - channel: Command channel, or "core" for power and special actions
//   - command: Command code
//   - outcome: "ok" or the bus error code
//   - latency: Time from submission to acknowledgement or failure
func (c *Client) WriteCommand(consoleID, channel, command, outcome string, latency time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(commandPoint(consoleID, channel, command, outcome, latency, c.now()))
}

// WriteSessionCounters records a snapshot of session statistics.
func (c *Client) WriteSessionCounters(consoleID, state string, counters SessionCounters) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(sessionPoint(consoleID, state, counters, c.now()))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}

func consoleStatePoint(s ConsoleState) *write.Point {
	return write.NewPoint(
		measurementConsoleState,
		map[string]string{
			"console_id": s.ConsoleID,
		},
		map[string]interface{}{
			"power":       s.Power,
			"content":     s.Content,
			"title_id":    int64(s.TitleID),
			"volume":      int64(s.Volume),
			"muted":       s.Muted,
			"media_state": s.MediaState,
		},
		s.Time,
	)
}

func commandPoint(consoleID, channel, command, outcome string, latency time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		measurementCommand,
		map[string]string{
			"console_id": consoleID,
			"channel":    channel,
			"command":    command,
			"outcome":    outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
		at,
	)
}

// #nosec G115 -- counters stay far below int64 range
func sessionPoint(consoleID, state string, n SessionCounters, at time.Time) *write.Point {
	return write.NewPoint(
		measurementSession,
		map[string]string{
			"console_id": consoleID,
			"state":      state,
		},
		map[string]interface{}{
			"frames_tx":       int64(n.FramesTx),
			"frames_rx":       int64(n.FramesRx),
			"frames_dropped":  int64(n.FramesDropped),
			"commands_ok":     int64(n.CommandsOK),
			"commands_failed": int64(n.CommandsFailed),
			"reconnects":      int64(n.Reconnects),
		},
		at,
	)
}
