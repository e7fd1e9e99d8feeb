package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Cloud response codes with special handling.
const (
	CodeOK             = 0
	CodeUnauthorized   = 401
	CodeRegionRedirect = 10004
)

// DefaultTransportErrorCodes are the cloud codes treated as transport
// failures when Options.TransportErrorCodes is empty: internal errors,
// unavailable or timed out backends and an offline device.
var DefaultTransportErrorCodes = []int{500, 503, 504, 4002}

var (
	// ErrNotConnected is returned when a call needs a session or socket
	// that is not established.
	ErrNotConnected = errors.New("cloud: not connected")

	// ErrCallTimeout is returned when a socket call gets no reply in time.
	ErrCallTimeout = errors.New("cloud: socket call timed out")

	// ErrUnexpectedThing is returned when a thing lookup does not yield
	// exactly one device.
	ErrUnexpectedThing = errors.New("cloud: unexpected thing in response")
)

// APICallError is a failed call that should be treated as the device or
// the cloud being unreachable.
type APICallError struct {
	Message  string
	Code     int
	Request  *http.Request
	Response *http.Response
	Err      error
}

func (e *APICallError) Error() string {
	msg := "cloud: " + e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APICallError) Unwrap() error {
	return e.Err
}

// APIError is a cloud answer with a non-zero protocol code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: api error %d: %s", e.Code, e.Message)
}

// WSError is a socket reply carrying a non-zero error code.
type WSError struct {
	Code int
}

func (e *WSError) Error() string {
	return fmt.Sprintf("cloud: socket call failed with error %d", e.Code)
}
