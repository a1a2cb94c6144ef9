package smartglass

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies a session notification.
type EventType int

// Session notifications.
const (
	EventConnected EventType = iota + 1
	EventDebug
	EventMessage
	EventDeviceInfo
	EventStateChanged
	EventError
	EventDisconnected
	EventTelemetryRaw
)

// String returns the event name used on the bus and in logs.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDebug:
		return "debug"
	case EventMessage:
		return "message"
	case EventDeviceInfo:
		return "device_info"
	case EventStateChanged:
		return "state_changed"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	case EventTelemetryRaw:
		return "telemetry_raw"
	default:
		return "unknown"
	}
}

// Event is one session notification. Only the fields relevant to Type are set.
type Event struct {
	Type EventType
	Seq  uint64
	Time time.Time

	// Message is set for connected, debug, message, error and disconnected.
	Message string

	// Err is set for error events and carries the cause on a terminal
	// disconnected event.
	Err error

	// Terminal marks a disconnected event after which the session accepts
	// no further lifecycle calls.
	Terminal bool

	// Snapshot is set for state_changed.
	Snapshot Snapshot

	// DeviceInfo is set for device_info.
	DeviceInfo DeviceInfo

	// Topic and Payload are set for telemetry_raw. Payload is JSON.
	Topic   string
	Payload json.RawMessage
}

// Subscription is one ordered view of a session's events.
// C is closed after the session is closed and every queued event was delivered,
// or after Close.
type Subscription struct {
	C <-chan Event

	bus   *eventBus
	id    int
	mu    sync.Mutex
	cond  *sync.Cond
	queue []Event
	done  bool
	out   chan Event
	stop  *closeOnce
}

// Close detaches the subscription. Undelivered events are dropped.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.stop.Do(nil)
	s.mu.Lock()
	s.done = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if !s.done {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// finish lets the pump drain what is queued and then close C.
func (s *Subscription) finish() {
	s.mu.Lock()
	s.done = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// pump moves events from the unbounded queue to C in order.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.stop.Done():
			return
		}
	}
}

// eventBus fans events out to subscribers. Publishing never blocks.
type eventBus struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	seq    uint64
	closed bool
	now    func() time.Time
}

func newEventBus(now func() time.Time) *eventBus {
	return &eventBus{
		subs: make(map[int]*Subscription),
		now:  now,
	}
}

func (b *eventBus) subscribe() *Subscription {
	out := make(chan Event)
	s := &Subscription{
		C:    out,
		bus:  b,
		out:  out,
		stop: newCloseOnce(),
	}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(out)
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.pump()
	return s
}

func (b *eventBus) remove(id int) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// publish stamps ev with the next sequence number and queues it for every
// subscriber. Events published after close are dropped.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	for _, s := range b.subs {
		s.push(ev)
	}
}

// close ends every subscription once its queue drains.
func (b *eventBus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.finish()
	}
}

// Handlers maps the event stream onto callbacks. Nil callbacks are skipped.
type Handlers struct {
	OnConnected    func(msg string)
	OnDebug        func(msg string)
	OnMessage      func(msg string)
	OnDeviceInfo   func(info DeviceInfo)
	OnStateChanged func(s Snapshot)
	OnError        func(err error)
	OnDisconnected func(msg string, terminal bool)
	OnRawTelemetry func(topic string, payload json.RawMessage)
}

// Run dispatches events from sub until it is closed or ctx ends.
// Callbacks run on the calling goroutine in event order.
func (h Handlers) Run(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			h.Dispatch(ev)
		}
	}
}

// Dispatch invokes the callback matching ev.
func (h Handlers) Dispatch(ev Event) {
	switch ev.Type {
	case EventConnected:
		if h.OnConnected != nil {
			h.OnConnected(ev.Message)
		}
	case EventDebug:
		if h.OnDebug != nil {
			h.OnDebug(ev.Message)
		}
	case EventMessage:
		if h.OnMessage != nil {
			h.OnMessage(ev.Message)
		}
	case EventDeviceInfo:
		if h.OnDeviceInfo != nil {
			h.OnDeviceInfo(ev.DeviceInfo)
		}
	case EventStateChanged:
		if h.OnStateChanged != nil {
			h.OnStateChanged(ev.Snapshot)
		}
	case EventError:
		if h.OnError != nil {
			h.OnError(ev.Err)
		}
	case EventDisconnected:
		if h.OnDisconnected != nil {
			h.OnDisconnected(ev.Message, ev.Terminal)
		}
	case EventTelemetryRaw:
		if h.OnRawTelemetry != nil {
			h.OnRawTelemetry(ev.Topic, ev.Payload)
		}
	}
}
