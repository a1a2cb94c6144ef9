// Package smartglass implements the console protocol session used by the
// Gray Logic console bridge.
//
// A Session holds one long-lived, encrypted, multiplexed connection to a
// single game console on the local network. It wakes a powered-off console
// with a connectionless power-on packet, negotiates named command channels,
// turns asynchronous telemetry into a deduplicated state snapshot, and
// recovers from transport drops with bounded exponential backoff.
//
// # Architecture
//
//	┌──────────────┐ PowerOn/SendCommand  ┌──────────────────────────────┐  UDP 5050
//	│   Adapter    │─────────────────────►│ Session worker (one per host)│◄─────────► Console
//	│ (consoles)   │◄─────────────────────│ mux · dispatcher · decoder   │
//	└──────────────┘   ordered Events     └──────────────────────────────┘
//
// # Concurrency Model
//
// Each Session owns a single worker goroutine. The connection, the channel
// table, the per-channel command queues and the telemetry decoder are only
// touched from that goroutine; every external call is posted to its mailbox
// as a closure. Blocking work (wake bursts, discovery rounds, the handshake,
// socket reads) runs in helper goroutines that post their results back, and
// acknowledgement waits are timers, so inbound telemetry is never starved by
// a pending command.
//
// State and the latest Snapshot are published through atomics so State() and
// Snapshot() never wait on the worker.
//
// # Lifecycle
//
//	Disconnected → Waking → Connecting → Authenticating → Connected
//	                                                          │ transport lost
//	                              Connecting ◄── Reconnecting ◄┘
//
// Authenticating is only entered when credentials are configured. A rejected
// credential exchange, an exhausted reconnect budget and Close all leave the
// session terminal; the owner is expected to create a new Session.
//
// # Commands
//
// Commands are closed enumerations per channel (see Vocabulary). Unknown
// codes are rejected before any I/O. Each channel is stop-and-wait: one
// command in flight, the rest queued in submission order. An unacknowledged
// command is sent once more with the same sequence number and then fails
// with ErrCommandTimeout.
//
// # Thread Safety
//
// All exported methods of Session are safe for concurrent use.
package smartglass
