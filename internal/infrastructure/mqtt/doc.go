// Package mqtt connects the serial bus service to the Gray Logic MQTT bus.
//
// The serial bridge receives handler requests and publishes responses,
// retained device states, discovery results and health through this client.
// The broker decouples the serial handlers from the rest of the system:
//
//	Gray Logic Core ↔ MQTT Broker ↔ serial bridge ↔ serialbus.Handler ↔ devices
//
// The client wraps paho.mqtt.golang with:
//   - auto-reconnect with backoff and subscription restore
//   - a retained service status with Last Will for crash detection
//   - payload size and QoS validation
//   - panic recovery around message handlers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllSerialRequests(), 1, bridge.handleRequest)
//
// Broker-backed tests carry the integration build tag.
package mqtt
