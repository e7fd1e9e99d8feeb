// Package queue carries work between the transport clients and the
// platform model.
//
// Clients, discovery and writers append typed messages to a FIFO Queue.
// The connector drains it one message per tick through Consumers, which
// offers each message to the registered consumers in order until one
// claims it.
//
// # Message Types
//
//   - StoreDevice: create or update a device with its channels and properties
//   - StoreDeviceConnectionState: record a connection state change
//   - StoreParametersStates: record reported parameter values
//   - WriteDevicePropertyState / WriteChannelPropertyState: send an
//     expected property value to a device
//
// # Consumers
//
//	┌─────────┐   Append    ┌───────┐  Consume   ┌──────────────────────────┐
//	│ clients │ ──────────▶ │ Queue │ ─────────▶ │ StoreDevice              │
//	│ writers │             └───────┘            │ StoreConnectionState     │
//	└─────────┘                                  │ StoreParametersStates    │
//	                                             │ WritePropertyState ──┐   │
//	                                             └──────────────────────│───┘
//	                                                                    ▼
//	                                                          StateWriter (client)
//
// Write consumers do not wait for the device call: the call runs on its own
// goroutine and its failure is reported back through the queue as a
// StoreDeviceConnectionState message.
//
// # Building Messages
//
// Build turns an untyped map, for example a decoded MQTT payload, into a
// typed message and validates it:
//
//	msg, err := queue.Build(queue.TypeWriteChannelPropertyState, payload)
//	if errors.Is(err, queue.ErrInvalidMessage) {
//	    // drop
//	}
package queue
