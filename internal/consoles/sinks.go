package consoles

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-xbox/internal/smartglass"
)

// sinkTimeout bounds the storage work done for one event.
const sinkTimeout = 5 * time.Second

// Sink receives every event of every managed console, in order per console.
// HandleEvent runs on the console's event goroutine and should return quickly.
type Sink interface {
	HandleEvent(consoleID string, ev smartglass.Event)
}

// CommandObserver is implemented by sinks that want command outcomes.
// err is nil on success.
type CommandObserver interface {
	ObserveCommand(consoleID, channel, command string, err error, latency time.Duration)
}

// DiagnosticsObserver is implemented by sinks that want periodic session
// diagnostics.
type DiagnosticsObserver interface {
	ObserveDiagnostics(consoleID string, d smartglass.Diagnostics)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(consoleID string, ev smartglass.Event)

// HandleEvent calls f.
func (f SinkFunc) HandleEvent(consoleID string, ev smartglass.Event) {
	f(consoleID, ev)
}

// StoreSink persists device info and state history.
type StoreSink struct {
	repo   Repository
	logger Logger
}

// NewStoreSink creates a sink writing to repo.
func NewStoreSink(repo Repository, logger Logger) *StoreSink {
	return &StoreSink{repo: repo, logger: logger}
}

// HandleEvent stores device_info and state_changed events.
func (s *StoreSink) HandleEvent(consoleID string, ev smartglass.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case smartglass.EventDeviceInfo:
		err = s.repo.SaveDeviceInfo(ctx, consoleID, ev.DeviceInfo, ev.Time)
	case smartglass.EventStateChanged:
		err = s.repo.RecordState(ctx, consoleID, ev.Snapshot, ev.Time)
	default:
		return
	}
	if err != nil && s.logger != nil {
		s.logger.Error("storing console event failed", "console_id", consoleID, "event", ev.Type.String(), "error", err)
	}
}

// MetricsWriter is the part of the InfluxDB client the metrics sink uses.
// *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteConsoleState(s influxdb.ConsoleState)
	WriteCommand(consoleID, channel, command, outcome string, latency time.Duration)
	WriteSessionCounters(consoleID, state string, counters influxdb.SessionCounters)
}

// MetricsSink writes state changes, command outcomes and session counters
// to the time-series database.
type MetricsSink struct {
	w MetricsWriter
}

// NewMetricsSink creates a sink writing to w.
func NewMetricsSink(w MetricsWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// HandleEvent writes state_changed events.
func (m *MetricsSink) HandleEvent(consoleID string, ev smartglass.Event) {
	if ev.Type != smartglass.EventStateChanged {
		return
	}
	snap := ev.Snapshot
	m.w.WriteConsoleState(influxdb.ConsoleState{
		ConsoleID:  consoleID,
		Power:      snap.Power,
		Content:    snap.Content,
		TitleID:    snap.TitleID,
		Volume:     snap.Volume,
		Muted:      snap.Muted,
		MediaState: snap.Media.String(),
		Time:       ev.Time,
	})
}

// ObserveCommand writes the outcome and latency of a command.
func (m *MetricsSink) ObserveCommand(consoleID, channel, command string, err error, latency time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
	}
	m.w.WriteCommand(consoleID, channel, command, outcome, latency)
}

// ObserveDiagnostics writes the session counters.
func (m *MetricsSink) ObserveDiagnostics(consoleID string, d smartglass.Diagnostics) {
	m.w.WriteSessionCounters(consoleID, d.State.String(), influxdb.SessionCounters{
		FramesTx:       d.FramesTx,
		FramesRx:       d.FramesRx,
		FramesDropped:  d.FramesDropped,
		CommandsOK:     d.CommandsOK,
		CommandsFailed: d.CommandsFailed,
		Reconnects:     d.Reconnects,
	})
}

// EventPublisher is the part of the NATS publisher the stream sink uses.
// *natsbus.Publisher satisfies it.
type EventPublisher interface {
	Publish(consoleID, eventType string, at time.Time, data any) error
}

// StreamSink forwards events to an event stream. Debug events are only
// forwarded when includeDebug is set.
type StreamSink struct {
	pub          EventPublisher
	includeDebug bool
	logger       Logger
}

// NewStreamSink creates a sink publishing to pub.
func NewStreamSink(pub EventPublisher, includeDebug bool, logger Logger) *StreamSink {
	return &StreamSink{pub: pub, includeDebug: includeDebug, logger: logger}
}

// HandleEvent publishes ev as an EventPayload.
func (s *StreamSink) HandleEvent(consoleID string, ev smartglass.Event) {
	if ev.Type == smartglass.EventDebug && !s.includeDebug {
		return
	}
	if err := s.pub.Publish(consoleID, ev.Type.String(), ev.Time, NewEventPayload(consoleID, ev)); err != nil && s.logger != nil {
		s.logger.Warn("publishing console event failed", "console_id", consoleID, "event", ev.Type.String(), "error", err)
	}
}
