package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// apiError is an error a handler returns to produce a client-facing
// response. Any other error becomes a logged 500.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

var (
	errDeviceNotFound   = &apiError{http.StatusNotFound, "device_not_found", "device not found"}
	errPropertyNotFound = &apiError{http.StatusNotFound, "property_not_found", "property not found"}
	errNotSettable      = &apiError{http.StatusConflict, "not_settable", "property is not settable"}
	errInternal         = &apiError{http.StatusInternalServerError, "internal_error", "internal server error"}
)

func badRequest(message string) error {
	return &apiError{http.StatusBadRequest, "bad_request", message}
}

// handlerFunc is a route handler that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle adapts fn to net/http, writing the error response fn returns.
func (s *Server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			s.respondError(w, r, err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := r.Context().Value(ctxKeyRequestID).(string)

	var ae *apiError
	if !errors.As(err, &ae) {
		s.logger.Error("request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
		)
		ae = errInternal
	}

	writeJSON(w, ae.status, Error{
		Status:    ae.status,
		Code:      ae.code,
		Message:   ae.message,
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}
