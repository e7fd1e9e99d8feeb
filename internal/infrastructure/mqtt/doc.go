// Package mqtt provides the MQTT client the connector uses as its
// exchange bus.
//
// The client keeps a retained status document on the connector status
// topic (online after every connect, offline on Close or through the Last
// Will) and replays its subscriptions after paho reconnects.
//
// # Architecture
//
// Property state changes are published to per-property exchange topics.
// The exchange writer subscribes to the same tree and turns write requests
// (expected value set, pending) into queue messages.
//
//	Connector ↔ MQTT Broker ↔ UIs / other services
//
// # Topics
//
//	sonoff/v1/connector/<connector>/status            retained status, LWT
//	sonoff/v1/connector/<connector>/health            retained health report
//	sonoff/v1/exchange/property/<connector>/<property> state notifications
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Connector.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllPropertyExchange(), 1, handler)
package mqtt
