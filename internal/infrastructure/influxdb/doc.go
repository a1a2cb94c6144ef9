// Package influxdb writes console telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written:
//   - console_state: every distinct state snapshot (power, content, volume, media)
//   - console_command: command outcome and latency
//   - console_session: periodic session counters (frames, commands, reconnects)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteConsoleState(influxdb.ConsoleState{ConsoleID: "living-room", Power: true})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking; batch
// errors are delivered to the SetOnError callback.
package influxdb
