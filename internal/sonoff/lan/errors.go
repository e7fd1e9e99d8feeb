package lan

import (
	"errors"
	"fmt"
	"net/http"
)

// Device error codes returned in the "error" field of /zeroconf responses.
const (
	ErrorInvalidJSON      = 400
	ErrorUnauthorized     = 401
	ErrorDeviceIDInvalid  = 404
	ErrorInvalidParameter = 422
)

var (
	// ErrNotConnected is returned when the mDNS listener is not running.
	ErrNotConnected = errors.New("lan: not connected")

	// ErrEncode is returned when a request payload cannot be prepared.
	ErrEncode = errors.New("lan: could not encode request")
)

// IsIgnorable reports whether a device error code means the device should
// not be contacted again for the rest of the session.
func IsIgnorable(code int) bool {
	switch code {
	case ErrorInvalidJSON, ErrorUnauthorized, ErrorDeviceIDInvalid, ErrorInvalidParameter:
		return true
	}
	return false
}

// APICallError is returned when a device call fails, either in transport
// or with a non-zero device error code. Code is zero for transport
// failures.
type APICallError struct {
	Message  string
	Code     int
	Request  *http.Request
	Response *http.Response
	Err      error
}

func (e *APICallError) Error() string {
	msg := "lan: " + e.Message
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

// APIError is returned when a device answers with a payload that does not
// follow the protocol.
type APIError struct {
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return "lan: " + e.Message + ": " + e.Err.Error()
	}
	return "lan: " + e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}
