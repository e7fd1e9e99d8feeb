package connector

import "errors"

var (
	// ErrAlreadyRunning is returned by Execute when a client is running.
	ErrAlreadyRunning = errors.New("connector: already running")

	// ErrInvalidOptions is returned by New for incomplete options.
	ErrInvalidOptions = errors.New("connector: invalid options")

	// ErrNoCloud is returned by Discover without a cloud client.
	ErrNoCloud = errors.New("connector: discovery needs a cloud client")
)
