package consoles

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-xbox/internal/smartglass"
)

type fakeMetrics struct {
	states   []influxdb.ConsoleState
	commands []string
	counters map[string]influxdb.SessionCounters
}

func (f *fakeMetrics) WriteConsoleState(s influxdb.ConsoleState) {
	f.states = append(f.states, s)
}

func (f *fakeMetrics) WriteCommand(consoleID, channel, command, outcome string, _ time.Duration) {
	f.commands = append(f.commands, consoleID+"/"+channel+"/"+command+"="+outcome)
}

func (f *fakeMetrics) WriteSessionCounters(consoleID, state string, c influxdb.SessionCounters) {
	if f.counters == nil {
		f.counters = make(map[string]influxdb.SessionCounters)
	}
	f.counters[consoleID+"/"+state] = c
}

type fakePublisher struct {
	mu     sync.Mutex
	events []EventPayload
	err    error
}

func (f *fakePublisher) Publish(consoleID, eventType string, _ time.Time, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := data.(EventPayload)
	if !ok || p.ConsoleID != consoleID || p.Type != eventType {
		return errors.New("unexpected payload")
	}
	f.events = append(f.events, p)
	return f.err
}

func TestStoreSink(t *testing.T) {
	repo := newTestRepo(t)
	sink := NewStoreSink(repo, nil)
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	info := smartglass.DeviceInfo{Manufacturer: "Microsoft", Model: "Xbox Series X", Name: "Den"}
	sink.HandleEvent("den", smartglass.Event{Type: smartglass.EventDeviceInfo, Time: at, DeviceInfo: info})
	sink.HandleEvent("den", smartglass.Event{Type: smartglass.EventStateChanged, Time: at, Snapshot: smartglass.Snapshot{Power: true, Volume: 30}})
	sink.HandleEvent("den", smartglass.Event{Type: smartglass.EventDebug, Time: at, Message: "ignored"})

	ctx := context.Background()
	stored, err := repo.DeviceInfo(ctx, "den")
	if err != nil {
		t.Fatalf("DeviceInfo() error = %v", err)
	}
	if stored.Info != info {
		t.Errorf("stored info = %+v, want %+v", stored.Info, info)
	}
	hist, err := repo.History(ctx, "den", HistoryQuery{})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(hist) != 1 || hist[0].Snapshot.Volume != 30 {
		t.Errorf("history = %+v, want one snapshot with volume 30", hist)
	}
}

func TestMetricsSink(t *testing.T) {
	w := &fakeMetrics{}
	sink := NewMetricsSink(w)

	sink.HandleEvent("den", smartglass.Event{
		Type:     smartglass.EventStateChanged,
		Snapshot: smartglass.Snapshot{Power: true, Content: "1234", TitleID: 1234, Volume: 40, Media: smartglass.MediaPaused},
	})
	sink.HandleEvent("den", smartglass.Event{Type: smartglass.EventConnected})

	if len(w.states) != 1 {
		t.Fatalf("states written = %d, want 1", len(w.states))
	}
	if s := w.states[0]; s.ConsoleID != "den" || !s.Power || s.MediaState != "paused" || s.Volume != 40 {
		t.Errorf("state = %+v", s)
	}

	sink.ObserveCommand("den", "media", "play", nil, 40*time.Millisecond)
	sink.ObserveCommand("den", "media", "play", smartglass.ErrCommandTimeout, 3*time.Second)
	want := []string{"den/media/play=ok", "den/media/play=TIMEOUT"}
	if len(w.commands) != len(want) {
		t.Fatalf("commands = %v, want %v", w.commands, want)
	}
	for i := range want {
		if w.commands[i] != want[i] {
			t.Errorf("commands[%d] = %q, want %q", i, w.commands[i], want[i])
		}
	}

	sink.ObserveDiagnostics("den", smartglass.Diagnostics{State: smartglass.StateConnected, FramesTx: 7, Reconnects: 1})
	if c, ok := w.counters["den/connected"]; !ok || c.FramesTx != 7 || c.Reconnects != 1 {
		t.Errorf("counters = %+v", w.counters)
	}
}

func TestStreamSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewStreamSink(pub, false, nil)

	sink.HandleEvent("den", smartglass.Event{Type: smartglass.EventDebug, Message: "noise"})
	sink.HandleEvent("den", smartglass.Event{Type: smartglass.EventError, Seq: 4, Err: smartglass.ErrSessionLost, Message: "lost"})
	sink.HandleEvent("den", smartglass.Event{
		Type:    smartglass.EventTelemetryRaw,
		Topic:   "status",
		Payload: json.RawMessage(`{"volume":10}`),
	})

	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2 (debug filtered)", len(pub.events))
	}
	if e := pub.events[0]; e.Type != "error" || e.Code != CodeSessionLost || e.Seq != 4 {
		t.Errorf("error payload = %+v", e)
	}
	if e := pub.events[1]; e.Topic != "status" || string(e.Payload) != `{"volume":10}` {
		t.Errorf("telemetry payload = %+v", e)
	}

	withDebug := NewStreamSink(pub, true, nil)
	withDebug.HandleEvent("den", smartglass.Event{Type: smartglass.EventDebug, Message: "noise"})
	if len(pub.events) != 3 {
		t.Errorf("debug event not published with includeDebug set")
	}

	// Publish failures are logged, not propagated.
	pub.err = errors.New("nats down")
	sink.HandleEvent("den", smartglass.Event{Type: smartglass.EventConnected})
}

func TestNewEventPayload(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	ev := smartglass.Event{
		Type:     smartglass.EventStateChanged,
		Seq:      9,
		Time:     at,
		Snapshot: smartglass.Snapshot{Power: true, Volume: 12},
		Topic:    "ignored",
	}
	p := NewEventPayload("den", ev)
	if p.Snapshot == nil || p.Snapshot.Volume != 12 {
		t.Errorf("Snapshot = %+v", p.Snapshot)
	}
	if p.DeviceInfo != nil || p.Topic != "" {
		t.Errorf("fields of other event types leaked: %+v", p)
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["type"] != "state_changed" || decoded["console_id"] != "den" {
		t.Errorf("json = %s", b)
	}
	if _, ok := decoded["error"]; ok {
		t.Errorf("json should omit empty error: %s", b)
	}
}
