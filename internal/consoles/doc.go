// Package consoles runs the protocol sessions of every configured console.
//
// The Manager owns one smartglass.Session per console and is the single
// entry point the MQTT bridge and the HTTP API use to drive them. It
// provides:
//   - Power on/off, commands and special actions by console id
//   - Fan-out of session events to sinks (storage, metrics, event stream,
//     live API feed, MQTT bridge)
//   - Presence checks, so a console switched on by hand is picked up
//   - Re-creation of sessions that gave up reconnecting
//
// A session refused for bad credentials stays terminal; fixing the
// credentials needs a configuration change and a restart.
//
// Errors from console operations map onto stable bus codes with ErrorCode.
//
// Thread Safety:
//   - Manager methods are safe for concurrent use
//   - Sinks run on one goroutine per console and receive that console's
//     events in order
package consoles
