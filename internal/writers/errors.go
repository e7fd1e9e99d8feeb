package writers

import "errors"

var (
	// ErrUnknownKind is returned by New for an unsupported writer kind.
	ErrUnknownKind = errors.New("writers: unknown writer kind")

	// ErrMissingDependency is returned by New when a collaborator the
	// writer kind needs is not set.
	ErrMissingDependency = errors.New("writers: missing dependency")

	// ErrInvalidPayload is returned for exchange messages that cannot be
	// decoded into a write request.
	ErrInvalidPayload = errors.New("writers: invalid exchange payload")

	// errForeignProperty marks properties of other connectors.
	errForeignProperty = errors.New("writers: property of another connector")
)
