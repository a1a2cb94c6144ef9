// Package natsbus publishes console events to NATS.
//
// Every session notification a console manager sees (connected,
// state_changed, device_info, error, disconnected) can be streamed to
// NATS as a CloudEvent JSON document, so other services observe consoles
// without speaking MQTT.
//
// Usage:
//
//	pub, err := natsbus.Connect(ctx, cfg.NATS, logger)
//	if err != nil {
//	    return err
//	}
//	defer pub.Close()
//
//	err = pub.Publish("living-room", "state_changed", time.Now(), snapshot)
package natsbus
