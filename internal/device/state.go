package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Pending tracks whether a write of the expected value is in flight.
// It has three forms: not pending, pending (true) and pending since a
// timestamp, the last being set once a write was handed to a device.
type Pending struct {
	set bool
	at  time.Time
}

// NotPending is the zero Pending value.
var NotPending = Pending{}

// PendingTrue returns a pending marker without timestamp, meaning
// "a write is requested but no device call was made yet".
func PendingTrue() Pending {
	return Pending{set: true}
}

// PendingSince returns a pending marker stamped with t.
func PendingSince(t time.Time) Pending {
	return Pending{set: true, at: t}
}

// IsPending reports whether the marker is true or a timestamp.
func (p Pending) IsPending() bool {
	return p.set
}

// IsTrue reports whether the marker is the plain true value.
func (p Pending) IsTrue() bool {
	return p.set && p.at.IsZero()
}

// Since returns the pending timestamp, ok is false when there is none.
func (p Pending) Since() (time.Time, bool) {
	if !p.set || p.at.IsZero() {
		return time.Time{}, false
	}
	return p.at, true
}

// Equal reports whether both markers have the same form and timestamp.
func (p Pending) Equal(o Pending) bool {
	return p.set == o.set && p.at.Equal(o.at)
}

// String renders the marker for logs.
func (p Pending) String() string {
	switch {
	case !p.set:
		return "false"
	case p.at.IsZero():
		return "true"
	default:
		return p.at.Format(time.RFC3339Nano)
	}
}

// MarshalJSON encodes false, true or an RFC 3339 timestamp.
func (p Pending) MarshalJSON() ([]byte, error) {
	switch {
	case !p.set:
		return []byte("false"), nil
	case p.at.IsZero():
		return []byte("true"), nil
	default:
		return json.Marshal(p.at.Format(time.RFC3339Nano))
	}
}

// UnmarshalJSON decodes false, true, null or an RFC 3339 timestamp.
func (p *Pending) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "false", "null":
		*p = NotPending
		return nil
	case "true":
		*p = PendingTrue()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding pending: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("decoding pending: %w", err)
	}
	*p = PendingSince(t)
	return nil
}

// PropertyState is the runtime state of a dynamic property.
//
// Expected == nil implies no write is in flight.
type PropertyState struct {
	PropertyID string    `json:"property_id"`
	Actual     any       `json:"actual_value"`
	Expected   any       `json:"expected_value"`
	Pending    Pending   `json:"pending"`
	Valid      bool      `json:"valid"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StateOption mutates a property state during WriteState.
type StateOption func(*PropertyState)

// WithActual sets the actual value.
func WithActual(v any) StateOption {
	return func(s *PropertyState) { s.Actual = v }
}

// WithExpected sets the expected value; nil clears it.
func WithExpected(v any) StateOption {
	return func(s *PropertyState) { s.Expected = v }
}

// WithPending sets the pending marker.
func WithPending(p Pending) StateOption {
	return func(s *PropertyState) { s.Pending = p }
}

// IfPendingSince applies opts only while the state is still pending since
// t. A write requested after t restamps the marker and is left alone.
func IfPendingSince(t time.Time, opts ...StateOption) StateOption {
	return func(s *PropertyState) {
		if since, ok := s.Pending.Since(); !ok || !since.Equal(t) {
			return
		}
		for _, opt := range opts {
			opt(s)
		}
	}
}

// WithValid sets the valid flag.
func WithValid(valid bool) StateOption {
	return func(s *PropertyState) { s.Valid = valid }
}

// PropertyStateEvent is delivered to observers after a state change.
type PropertyStateEvent struct {
	PropertyID string
	Previous   PropertyState
	Current    PropertyState
}

// StateManager reads and writes runtime state of properties and devices.
type StateManager interface {
	// ReadState returns the state of a dynamic property. A property that
	// never had state returns a zero PropertyState, not an error.
	ReadState(ctx context.Context, propertyID string) (PropertyState, error)

	// WriteState applies opts to the property state and returns the result.
	WriteState(ctx context.Context, propertyID string, opts ...StateOption) (PropertyState, error)

	// ConnectionState returns the connection state of a device,
	// StateUnknown if none was recorded.
	ConnectionState(ctx context.Context, deviceID string) ConnectionState

	// SetConnectionState records the connection state of a device.
	SetConnectionState(ctx context.Context, deviceID string, state ConnectionState) error
}

// StateStore is an in-memory StateManager with change observers.
//
// All public methods are thread-safe. Observers run synchronously on the
// goroutine that made the change, after the store lock is released.
type StateStore struct {
	mu          sync.RWMutex
	properties  map[string]PropertyState
	connections map[string]ConnectionState

	observersMu  sync.RWMutex
	observers    []observer
	nextObserver int

	now func() time.Time
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{
		properties:  make(map[string]PropertyState),
		connections: make(map[string]ConnectionState),
		now:         time.Now,
	}
}

type observer struct {
	id int
	fn func(PropertyStateEvent)
}

// Subscribe registers an observer for property state changes. The
// returned function removes it again.
func (s *StateStore) Subscribe(fn func(PropertyStateEvent)) (unsubscribe func()) {
	s.observersMu.Lock()
	s.nextObserver++
	id := s.nextObserver
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.observersMu.Unlock()

	return func() {
		s.observersMu.Lock()
		defer s.observersMu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// ReadState returns the current state of a property.
func (s *StateStore) ReadState(_ context.Context, propertyID string) (PropertyState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.properties[propertyID]
	if !ok {
		return PropertyState{PropertyID: propertyID}, nil
	}
	return st, nil
}

// WriteState applies opts to the state of a property and notifies observers.
func (s *StateStore) WriteState(_ context.Context, propertyID string, opts ...StateOption) (PropertyState, error) {
	if propertyID == "" {
		return PropertyState{}, fmt.Errorf("%w: empty property id", ErrInvalidProperty)
	}

	s.mu.Lock()
	prev, ok := s.properties[propertyID]
	if !ok {
		prev = PropertyState{PropertyID: propertyID}
	}
	next := prev
	for _, opt := range opts {
		opt(&next)
	}
	next.UpdatedAt = s.now()
	s.properties[propertyID] = next
	s.mu.Unlock()

	s.notify(PropertyStateEvent{PropertyID: propertyID, Previous: prev, Current: next})
	return next, nil
}

// ConnectionState returns the recorded connection state of a device.
func (s *StateStore) ConnectionState(_ context.Context, deviceID string) ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.connections[deviceID]; ok {
		return st
	}
	return StateUnknown
}

// SetConnectionState records the connection state of a device.
func (s *StateStore) SetConnectionState(_ context.Context, deviceID string, state ConnectionState) error {
	if _, err := ParseConnectionState(string(state)); err != nil {
		return err
	}

	s.mu.Lock()
	s.connections[deviceID] = state
	s.mu.Unlock()
	return nil
}

func (s *StateStore) notify(ev PropertyStateEvent) {
	s.observersMu.RLock()
	observers := make([]observer, len(s.observers))
	copy(observers, s.observers)
	s.observersMu.RUnlock()

	for _, o := range observers {
		o.fn(ev)
	}
}
