// Package device provides the platform model the Sonoff connector writes
// into: connectors, devices, channels and properties, plus the runtime
// state of dynamic properties and the connection state of devices.
//
// The connector core only depends on the Repository and StateManager
// interfaces. This package also ships the implementations used by the
// standalone binary: a SQLite repository and an in-memory state manager
// that notifies observers on every change.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                       Platform model                          │
//	│                                                               │
//	│  ┌──────────────────┐          ┌──────────────────────────┐   │
//	│  │    Repository    │          │       StateStore         │   │
//	│  │ (repository.go)  │          │       (state.go)         │   │
//	│  │                  │          │                          │   │
//	│  │ • connectors     │          │ • actual / expected      │   │
//	│  │ • devices        │          │ • pending (false/true/t) │   │
//	│  │ • channels       │          │ • valid flag             │   │
//	│  │ • properties     │          │ • connection states      │   │
//	│  └──────────────────┘          │ • observers              │   │
//	│           │                    └──────────────────────────┘   │
//	└───────────│───────────────────────────────────────────────────┘
//	            ▼
//	┌──────────────────────┐
//	│   SQLite Database    │
//	└──────────────────────┘
//
// # Key Types
//
//   - Connector: one configured Sonoff account / transport
//   - Device: a physical or gateway-attached device, optionally with a parent
//   - Channel: an addressable sub-unit of a device such as "switch_0"
//   - Property: a dynamic (runtime) or variable (static) value
//   - PropertyState: actual, expected, pending and valid fields
//   - ConnectionState: connected, disconnected, alert, lost, ...
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	states := device.NewStateStore()
//	states.Subscribe(func(ev device.PropertyStateEvent) { ... })
//
//	dev, err := repo.FindDevice(ctx, connectorID, "1000abcdef")
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // create it
//	}
package device
