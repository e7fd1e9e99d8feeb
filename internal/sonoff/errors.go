package sonoff

import "errors"

// Shared error categories.
//
// Leaf packages return their own typed errors for transport and protocol
// failures; these sentinels cover configuration and capability problems
// that are raised by the orchestration layers.
var (
	// ErrInvalidState is returned when a device or connector is missing a
	// value it needs for the requested operation (IP address, credentials).
	ErrInvalidState = errors.New("sonoff: invalid state")

	// ErrNotSupported is returned for operations a transport cannot perform,
	// for example reading device status over LAN.
	ErrNotSupported = errors.New("sonoff: operation not supported")

	// ErrNotImplemented is returned for recognised but unimplemented
	// features, for example the gateway client mode.
	ErrNotImplemented = errors.New("sonoff: not implemented")

	// ErrRuntime is returned when a payload could not be mapped or validated.
	ErrRuntime = errors.New("sonoff: runtime error")
)
