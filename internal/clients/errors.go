package clients

import "errors"

var (
	// ErrMissingTransport is returned when a mode needs a transport that
	// was not provided in Deps.
	ErrMissingTransport = errors.New("clients: transport not configured")

	// ErrUnknownDevice is returned for writes to devices that do not
	// belong to the client's connector.
	ErrUnknownDevice = errors.New("clients: unknown device")

	// ErrDiscoveryFailed is returned when the cloud part of discovery
	// could not list the account devices.
	ErrDiscoveryFailed = errors.New("clients: discovery failed")
)
