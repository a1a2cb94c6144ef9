package console

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-xbox/internal/consoles"
	"github.com/nerrad567/gray-logic-xbox/internal/smartglass"
)

// MQTT message types exchanged between Gray Logic Core and the console bridge.

// Protocol is the protocol identifier carried in bridge messages.
const Protocol = "xbox"

// Command verbs accepted on graylogic/command/xbox/{console_id}.
const (
	CommandPowerOn       = "power_on"
	CommandPowerOff      = "power_off"
	CommandSend          = "send"
	CommandSpecialAction = "special_action"
)

// CommandMessage is sent from Core to the bridge to drive a console.
// Topic: graylogic/command/xbox/{console_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgements.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// ConsoleID is taken from the topic when omitted.
	ConsoleID string `json:"console_id"`

	// Command is one of power_on, power_off, send, special_action.
	Command string `json:"command"`

	// Channel and Code select a vocabulary command for "send".
	// Examples:
	//   {"channel": "media-transport", "code": "play"}
	//   {"channel": "media-transport", "code": "seek", "args": [1200000000]}
	Channel string   `json:"channel,omitempty"`
	Code    string   `json:"code,omitempty"`
	Args    []uint64 `json:"args,omitempty"`

	// Action names the special action for "special_action" (record_game_dvr).
	Action string `json:"action,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgement status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and handed to the session.
	AckAccepted AckStatus = "accepted"

	// AckCompleted indicates the console acknowledged the command.
	AckCompleted AckStatus = "completed"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the console did not respond in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/xbox/{console_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	ConsoleID string    `json:"console_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the bus error code (e.g., "DEVICE_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// StateMessage is the retained console snapshot.
// Topic: graylogic/state/xbox/{console_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	ConsoleID string              `json:"console_id"`
	Timestamp time.Time           `json:"timestamp"`
	State     smartglass.Snapshot `json:"state"`
	Protocol  string              `json:"protocol"`
}

// InfoMessage is the retained device information.
// Topic: graylogic/info/xbox/{console_id}
// QoS: 1, Retained: Yes
type InfoMessage struct {
	ConsoleID string                `json:"console_id"`
	Timestamp time.Time             `json:"timestamp"`
	Info      smartglass.DeviceInfo `json:"info"`
	Protocol  string                `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates every session is usable or idle.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the broker link is down or a session gave up.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/xbox
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Consoles      []ConsoleHealth   `json:"consoles,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConsoleHealth summarises one console session.
type ConsoleHealth struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Power    string `json:"power"`
	Terminal bool   `json:"terminal,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	CommandsReceived  uint64 `json:"commands_received"`
	CommandsFailed    uint64 `json:"commands_failed"`
	MessagesPublished uint64 `json:"messages_published"`
	Errors            uint64 `json:"errors"`
}

// Request actions accepted on graylogic/request/xbox/{request_id}.
const (
	RequestReadState   = "read_state"
	RequestReadAll     = "read_all"
	RequestDiagnostics = "diagnostics"
)

// RequestMessage is sent from Core for request/response operations.
// Topic: graylogic/request/xbox/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of read_state, read_all, diagnostics.
	Action string `json:"action"`

	// ConsoleID is the target console for console-specific actions.
	ConsoleID string `json:"console_id,omitempty"`
}

// ResponseMessage answers a request.
// Topic: graylogic/response/xbox/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// UnmarshalJSON accepts an RFC3339 timestamp or none.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: timestamp: %w", ErrInvalidMessage, err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgement for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, now time.Time) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: now.UTC(),
		ConsoleID: cmd.ConsoleID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgement from a console error.
// Timeouts are reported with the timeout status.
func NewAckError(cmd CommandMessage, err error, now time.Time) AckMessage {
	code := consoles.ErrorCode(err)
	status := AckFailed
	if code == consoles.CodeTimeout || code == consoles.CodePowerOnTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, now)
	ack.Error = &AckError{Code: code, Message: err.Error()}
	return ack
}

// NewStateMessage creates the retained state message for a snapshot.
func NewStateMessage(consoleID string, snap smartglass.Snapshot, at time.Time) StateMessage {
	return StateMessage{
		ConsoleID: consoleID,
		Timestamp: at.UTC(),
		State:     snap,
		Protocol:  Protocol,
	}
}

// NewInfoMessage creates the retained device info message.
func NewInfoMessage(consoleID string, info smartglass.DeviceInfo, at time.Time) InfoMessage {
	return InfoMessage{
		ConsoleID: consoleID,
		Timestamp: at.UTC(),
		Info:      info,
		Protocol:  Protocol,
	}
}

// errorResponse builds a failed response.
func errorResponse(req RequestMessage, code, message string, now time.Time) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: now.UTC(),
		Error:     &AckError{Code: code, Message: message},
	}
}
