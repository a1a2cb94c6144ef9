package influxdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-xbox/internal/infrastructure/config"
)

// fakeWriter records points instead of sending them.
type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakeWriter) last(t *testing.T) *write.Point {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.points) == 0 {
		t.Fatal("no points written")
	}
	return f.points[len(f.points)-1]
}

var fixedTime = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := newClient(w, config.InfluxDBConfig{Enabled: true})
	c.now = func() time.Time { return fixedTime }
	return c, w
}

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, tag := range p.TagList() {
		out[tag.Key] = tag.Value
	}
	return out
}

func fields(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "token",
		Org:     "graylogic",
		Bucket:  "xbox",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteConsoleState(t *testing.T) {
	c, w := newTestClient()

	c.WriteConsoleState(ConsoleState{
		ConsoleID:  "living-room",
		Power:      true,
		Content:    "Microsoft.Xbox.Dashboard",
		TitleID:    750323071,
		Volume:     40,
		MediaState: "playing",
	})

	p := w.last(t)
	if p.Name() != "console_state" {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.Time().Equal(fixedTime) {
		t.Errorf("Time() = %v, want injected now", p.Time())
	}
	if got := tags(p); got["console_id"] != "living-room" || len(got) != 1 {
		t.Errorf("tags = %v", got)
	}
	f := fields(p)
	if f["power"] != true || f["content"] != "Microsoft.Xbox.Dashboard" || f["volume"] != int64(40) {
		t.Errorf("fields = %v", f)
	}
	if f["title_id"] != int64(750323071) || f["media_state"] != "playing" {
		t.Errorf("fields = %v", f)
	}
}

func TestWriteConsoleState_KeepsGivenTime(t *testing.T) {
	c, w := newTestClient()
	at := fixedTime.Add(-time.Minute)

	c.WriteConsoleState(ConsoleState{ConsoleID: "den", Time: at})

	if !w.last(t).Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", w.last(t).Time(), at)
	}
}

func TestWriteCommand(t *testing.T) {
	c, w := newTestClient()

	c.WriteCommand("den", "media-transport", "play", "ok", 250*time.Millisecond)

	p := w.last(t)
	want := map[string]string{
		"console_id": "den",
		"channel":    "media-transport",
		"command":    "play",
		"outcome":    "ok",
	}
	got := tags(p)
	for k, v := range want {
		if got[k] != v {
			t.Errorf("tag %s = %q, want %q", k, got[k], v)
		}
	}
	if f := fields(p); f["latency_ms"] != 250.0 {
		t.Errorf("latency_ms = %v, want 250", f["latency_ms"])
	}
}

func TestWriteSessionCounters(t *testing.T) {
	c, w := newTestClient()

	c.WriteSessionCounters("den", "connected", SessionCounters{FramesTx: 10, FramesRx: 12, Reconnects: 1})

	p := w.last(t)
	if p.Name() != "console_session" || tags(p)["state"] != "connected" {
		t.Errorf("point = %s %v", p.Name(), tags(p))
	}
	f := fields(p)
	if f["frames_tx"] != int64(10) || f["frames_rx"] != int64(12) || f["reconnects"] != int64(1) {
		t.Errorf("fields = %v", f)
	}
}

func TestWritesAfterCloseAreDropped(t *testing.T) {
	c, w := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("flushes on close = %d, want 1", w.flushes)
	}

	c.WriteConsoleState(ConsoleState{ConsoleID: "den"})
	c.WriteCommand("den", "core", "power_off", "ok", time.Second)
	c.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	c.Flush()

	if len(w.points) != 0 {
		t.Errorf("points after close = %d, want 0", len(w.points))
	}
	if w.flushes != 1 {
		t.Errorf("Flush after close should be a no-op, flushes = %d", w.flushes)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after close = %v, want ErrNotConnected", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil = %v", err)
	}
	c.WriteConsoleState(ConsoleState{ConsoleID: "den"})
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()

	got := make(chan error, 1)
	c.SetOnError(func(err error) { got <- err })

	ch := make(chan error, 1)
	ch <- errors.New("bucket not found")
	close(ch)
	c.handleWriteErrors(ch)

	select {
	case err := <-got:
		if !errors.Is(err, ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	default:
		t.Error("error callback not invoked")
	}
}
