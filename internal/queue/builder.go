package queue

import (
	"encoding/json"
	"fmt"
)

type buildable interface {
	Message
	validate() error
}

// Build maps untyped data onto the message type t.
//
// Unknown fields are ignored. Enumerated fields (parameter types,
// connection states, data types) and required identifiers are validated.
// Any failure is reported as ErrInvalidMessage.
func Build(t MessageType, data map[string]any) (Message, error) {
	var msg buildable
	switch t {
	case TypeStoreDevice:
		msg = &StoreDevice{}
	case TypeStoreDeviceConnectionState:
		msg = &StoreDeviceConnectionState{}
	case TypeStoreParametersStates:
		msg = &StoreParametersStates{}
	case TypeWriteDevicePropertyState:
		msg = &WriteDevicePropertyState{}
	case TypeWriteChannelPropertyState:
		msg = &WriteChannelPropertyState{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, t)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, t, err)
	}
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, t, err)
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, t, err)
	}
	return msg, nil
}
