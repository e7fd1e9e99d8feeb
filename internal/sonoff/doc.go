// Package sonoff holds the vocabulary shared by every part of the Sonoff
// connector: client modes, regions, well-known parameter names and the
// error categories used to decide how a failed device call affects the
// device connection state.
//
// # Architecture
//
// The connector is split into leaf packages that talk to devices and
// orchestration packages that decide when to talk to them:
//
//	sonoff/transformer  AES payload codec and parameter name mapping
//	sonoff/uiid         per device-family JSON schemas and mappings
//	sonoff/lan          mDNS discovery and /zeroconf HTTP calls
//	sonoff/cloud        eWeLink REST API and push WebSocket
//	clients             polling loops for lan, cloud and auto modes
//	queue               message queue and platform state consumers
//	writers             detection of pending property writes
//	connector           facade tying the above together
//
// This package must not import any of them.
package sonoff
