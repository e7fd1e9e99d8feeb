// Package clients runs device communication for one connector.
//
// A client keeps every device of its connector up to date by polling it
// and by listening for pushed updates, and it sends property writes using
// the transport policy of its mode:
//
//   - Lan: mDNS announcements and the /zeroconf HTTP API only
//   - Cloud: eWeLink REST and WebSocket APIs only
//   - Auto: LAN when the device address is known, cloud otherwise or as
//     fallback when the LAN call fails
//
// Results are never written to storage directly. Clients append queue
// messages (StoreDeviceConnectionState, StoreParametersStates) that the
// queue consumers apply on the connector's draining loop.
//
// # Polling
//
// All modes share one polling loop. After a start delay the loop ticks
// every 10ms and issues at most one read per tick, visiting devices round
// robin:
//
//	tick ─▶ next unvisited device ─▶ heartbeat due? ─▶ readInformation
//	                               └▶ state due?     ─▶ readState
//
// A device whose heartbeat and state reads are both recent is skipped for
// the current round. When every device was visited the round starts over.
// Devices in the alert state are dropped from polling for the rest of the
// session.
//
// # Discovery
//
// Discovery is a one-shot job: it lists the devices of the cloud account,
// optionally listens for LAN announcements in parallel, and emits one
// StoreDevice message per supported device.
package clients
