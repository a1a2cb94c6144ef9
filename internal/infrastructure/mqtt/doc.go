// Package mqtt provides the broker connection used by the console bridge.
//
// This package manages:
//   - Connection to the broker with paho auto-reconnect
//   - Publishing with QoS and payload-size checks
//   - Subscriptions that are restored after a reconnect
//   - The retained bridge status topic, including the Last Will
//   - Topic builders for the graylogic/{category}/xbox/{id} layout
//
// # Architecture
//
//	Home automation ↔ MQTT broker ↔ console bridge ↔ consoles (UDP)
//
// # Security Considerations
//
//   - Enable TLS (mqtt.broker.tls) outside a trusted LAN
//   - Payloads carry console state and commands, never console tokens
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllConsoleCommands(), client.QoS(), handler)
package mqtt
