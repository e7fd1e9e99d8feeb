package uiid

import "errors"

// Domain errors for the uiid package.
var (
	// ErrUnsupportedType is returned when no known schema accepts a payload.
	ErrUnsupportedType = errors.New("uiid: unsupported type")

	// ErrUnknownUIID is returned when a UIID has no schema or mapping resource.
	ErrUnknownUIID = errors.New("uiid: unknown uiid")

	// ErrInvalidPayload is returned when a payload does not validate
	// against the schema of its UIID.
	ErrInvalidPayload = errors.New("uiid: invalid payload")

	// ErrInvalidMapping is returned when a mapping resource is malformed.
	ErrInvalidMapping = errors.New("uiid: invalid mapping")
)
