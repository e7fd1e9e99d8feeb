package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrConnectorNotFound is returned when a connector ID does not exist.
	ErrConnectorNotFound = errors.New("device: connector not found")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrChannelNotFound is returned when a channel ID does not exist.
	ErrChannelNotFound = errors.New("device: channel not found")

	// ErrPropertyNotFound is returned when a property ID does not exist.
	ErrPropertyNotFound = errors.New("device: property not found")

	// ErrInvalidDataType is returned when a data type is not recognised.
	ErrInvalidDataType = errors.New("device: invalid data type")

	// ErrInvalidConnectionState is returned when a connection state is not recognised.
	ErrInvalidConnectionState = errors.New("device: invalid connection state")

	// ErrInvalidProperty is returned when property validation fails.
	ErrInvalidProperty = errors.New("device: invalid property")
)
