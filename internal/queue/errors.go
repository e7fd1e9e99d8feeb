package queue

import "errors"

var (
	// ErrInvalidMessage is returned by Build when the data does not
	// describe a valid message of the requested type.
	ErrInvalidMessage = errors.New("queue: invalid message")
)
