package consoles

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/smartglass"
)

// Status is a point-in-time view of one managed console.
type Status struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host string `json:"host"`

	// State is the session lifecycle state.
	State string `json:"state"`

	// Power is the rich power state last reported by the console.
	Power string `json:"power"`

	// Terminal is true while the session has given up and awaits
	// re-creation.
	Terminal bool `json:"terminal"`

	// Snapshot is nil until the console reported state.
	Snapshot *smartglass.Snapshot `json:"snapshot,omitempty"`

	// DeviceInfo is nil until the console reported it in this process.
	DeviceInfo *smartglass.DeviceInfo `json:"device_info,omitempty"`

	// LastEvent is when the session last emitted anything.
	LastEvent time.Time `json:"last_event,omitempty"`
}

// Connected reports whether the session is usable for commands.
func (s Status) Connected() bool {
	return s.State == smartglass.StateConnected.String()
}

// EventPayload is the JSON form of a session event, shared by the MQTT
// bridge, the NATS stream and the live API feed.
type EventPayload struct {
	ConsoleID  string                 `json:"console_id"`
	Type       string                 `json:"type"`
	Seq        uint64                 `json:"seq"`
	Time       time.Time              `json:"time"`
	Message    string                 `json:"message,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Code       string                 `json:"code,omitempty"`
	Terminal   bool                   `json:"terminal,omitempty"`
	Snapshot   *smartglass.Snapshot   `json:"snapshot,omitempty"`
	DeviceInfo *smartglass.DeviceInfo `json:"device_info,omitempty"`
	Topic      string                 `json:"topic,omitempty"`
	Payload    json.RawMessage        `json:"payload,omitempty"`
}

// NewEventPayload converts ev, keeping only the fields its type carries.
func NewEventPayload(consoleID string, ev smartglass.Event) EventPayload {
	p := EventPayload{
		ConsoleID: consoleID,
		Type:      ev.Type.String(),
		Seq:       ev.Seq,
		Time:      ev.Time,
		Message:   ev.Message,
		Terminal:  ev.Terminal,
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
		p.Code = ErrorCode(ev.Err)
	}
	switch ev.Type {
	case smartglass.EventStateChanged:
		snap := ev.Snapshot
		p.Snapshot = &snap
	case smartglass.EventDeviceInfo:
		info := ev.DeviceInfo
		p.DeviceInfo = &info
	case smartglass.EventTelemetryRaw:
		p.Topic = ev.Topic
		p.Payload = ev.Payload
	}
	return p
}

// HistoryEntry is one stored snapshot.
type HistoryEntry struct {
	ID         int64               `json:"id"`
	ConsoleID  string              `json:"console_id"`
	Snapshot   smartglass.Snapshot `json:"snapshot"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// HistoryQuery bounds a history read. Zero fields mean no bound.
type HistoryQuery struct {
	Since time.Time
	Until time.Time
	Limit int // default 50, max 500
}

// StoredDeviceInfo is the last device info persisted for a console.
type StoredDeviceInfo struct {
	ConsoleID string                `json:"console_id"`
	Info      smartglass.DeviceInfo `json:"info"`
	UpdatedAt time.Time             `json:"updated_at"`
}
