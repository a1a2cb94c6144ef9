package mqtt

import "fmt"

// Topic layout for the console bridge. Bridge topics follow the flat
// scheme graylogic/{category}/{protocol}/{address}, with the console id as
// the address.
const (
	// TopicPrefix is the root of every topic.
	TopicPrefix = "graylogic"

	// Protocol is the protocol segment used by this bridge.
	Protocol = "xbox"
)

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ConsoleState("living-room")
//	// Returns: "graylogic/state/xbox/living-room"
type Topics struct{}

// ConsoleState is the retained console snapshot.
//
// Example: graylogic/state/xbox/living-room
func (Topics) ConsoleState(consoleID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, consoleID)
}

// ConsoleCommand receives commands for one console.
//
// Example: graylogic/command/xbox/living-room
func (Topics) ConsoleCommand(consoleID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, consoleID)
}

// ConsoleAck carries command acknowledgements.
//
// Example: graylogic/ack/xbox/living-room
func (Topics) ConsoleAck(consoleID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, consoleID)
}

// ConsoleInfo is the retained device information.
//
// Example: graylogic/info/xbox/living-room
func (Topics) ConsoleInfo(consoleID string) string {
	return fmt.Sprintf("%s/info/%s/%s", TopicPrefix, Protocol, consoleID)
}

// ConsoleEvent carries session notifications (connected, errors, ...).
//
// Example: graylogic/event/xbox/living-room
func (Topics) ConsoleEvent(consoleID string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefix, Protocol, consoleID)
}

// Telemetry carries raw decoded telemetry below prefix. An empty prefix
// selects the default graylogic/telemetry/xbox/{id}.
//
// Example: graylogic/telemetry/xbox/living-room/media
func (Topics) Telemetry(prefix, consoleID, topic string) string {
	if prefix == "" {
		prefix = fmt.Sprintf("%s/telemetry/%s/%s", TopicPrefix, Protocol, consoleID)
	}
	return prefix + "/" + topic
}

// Request receives read requests.
//
// Example: graylogic/request/xbox/req-abc123
func (Topics) Request(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// Response carries replies to requests.
//
// Example: graylogic/response/xbox/req-abc123
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// Health is the bridge health report.
//
// Example: graylogic/health/xbox
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// BridgeStatus is the retained online/offline status including the LWT.
//
// Example: graylogic/system/status/xbox
func (Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/system/status/%s", TopicPrefix, Protocol)
}

// AllConsoleCommands matches commands for every console.
//
// Pattern: graylogic/command/xbox/+
func (Topics) AllConsoleCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AllRequests matches every request to the bridge.
//
// Pattern: graylogic/request/xbox/+
func (Topics) AllRequests() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}
