// Package console bridges the console manager onto the Gray Logic MQTT bus.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐           ┌──────────┐
//	│   Gray Logic    │   MQTT   │  Console Bridge │  Manager  │ Sessions │
//	│      Core       │◄────────►│   (this pkg)    │◄─────────►│  (UDP)   │
//	└─────────────────┘          └─────────────────┘           └──────────┘
//
// # Topics
//
//   - graylogic/command/xbox/{console_id}: commands in (power_on, power_off,
//     send, special_action)
//   - graylogic/ack/xbox/{console_id}: "accepted", then "completed",
//     "failed" or "timeout" with a bus error code
//   - graylogic/state/xbox/{console_id}: retained snapshot
//   - graylogic/info/xbox/{console_id}: retained device info
//   - graylogic/event/xbox/{console_id}: session notifications
//   - graylogic/telemetry/xbox/{console_id}/{topic}: raw telemetry, or below
//     the console's mqtt_prefix when configured
//   - graylogic/request/xbox/{request_id} and graylogic/response/xbox/{request_id}:
//     read_state, read_all, diagnostics
//   - graylogic/health/xbox: retained health report
//
// Example command:
//
//	{"id": "cmd-1", "command": "send", "channel": "media-transport", "code": "play", "source": "scene"}
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package console
