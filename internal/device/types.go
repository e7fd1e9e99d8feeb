package device

import (
	"encoding/json"
	"fmt"
	"time"
)

// Connector is one configured Sonoff connector instance.
type Connector struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Mode       string    `json:"mode"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Device is a device owned by a connector.
// ParentID is set for sub-devices attached to a gateway style parent.
type Device struct {
	ID          string    `json:"id"`
	ConnectorID string    `json:"connector_id"`
	ParentID    *string   `json:"parent_id,omitempty"`
	Identifier  string    `json:"identifier"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Channel is an addressable sub-unit of a device, e.g. one outlet.
type Channel struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PropertyKind distinguishes runtime values from static configuration values.
type PropertyKind string

// Property kinds.
const (
	// KindDynamic properties carry actual/expected/pending/valid state.
	KindDynamic PropertyKind = "dynamic"

	// KindVariable properties carry a single stored value (MAC, API key).
	KindVariable PropertyKind = "variable"
)

// Property is a device-level property (ChannelID empty) or a
// channel-level property.
type Property struct {
	ID         string       `json:"id"`
	DeviceID   string       `json:"device_id"`
	ChannelID  string       `json:"channel_id,omitempty"`
	Identifier string       `json:"identifier"`
	Name       string       `json:"name,omitempty"`
	Kind       PropertyKind `json:"kind"`
	DataType   DataType     `json:"data_type"`
	Format     Format       `json:"format,omitempty"`
	Settable   bool         `json:"settable"`
	Queryable  bool         `json:"queryable"`
	Scale      *int         `json:"scale,omitempty"`

	// Value holds the stored value of variable properties.
	Value any `json:"value,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDynamic reports whether the property has runtime state.
func (p *Property) IsDynamic() bool {
	return p.Kind == KindDynamic
}

// DataType is the value type of a property.
type DataType string

// Data types.
const (
	DataTypeString  DataType = "string"
	DataTypeBool    DataType = "bool"
	DataTypeChar    DataType = "char"
	DataTypeUChar   DataType = "uchar"
	DataTypeShort   DataType = "short"
	DataTypeUShort  DataType = "ushort"
	DataTypeInt     DataType = "int"
	DataTypeUInt    DataType = "uint"
	DataTypeFloat   DataType = "float"
	DataTypeEnum    DataType = "enum"
	DataTypeSwitch  DataType = "switch"
	DataTypeUnknown DataType = "unknown"
)

// ParseDataType validates a data type string.
func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(s); dt {
	case DataTypeString, DataTypeBool, DataTypeChar, DataTypeUChar, DataTypeShort,
		DataTypeUShort, DataTypeInt, DataTypeUInt, DataTypeFloat, DataTypeEnum,
		DataTypeSwitch, DataTypeUnknown:
		return dt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDataType, s)
	}
}

// IsInteger reports whether values of this type are whole numbers.
func (d DataType) IsInteger() bool {
	switch d {
	case DataTypeChar, DataTypeUChar, DataTypeShort, DataTypeUShort, DataTypeInt, DataTypeUInt:
		return true
	}
	return false
}

// IsNumeric reports whether values of this type are numbers.
func (d DataType) IsNumeric() bool {
	return d.IsInteger() || d == DataTypeFloat
}

// Format constrains property values. Numeric properties use Min/Max,
// enum and switch properties use Items.
//
// On the wire a format is a JSON array: [min, max] for numbers (either
// bound may be null) or a list of strings for enumerations.
type Format struct {
	Min   *float64
	Max   *float64
	Items []string
}

// IsZero reports whether the format carries no constraint.
func (f Format) IsZero() bool {
	return f.Min == nil && f.Max == nil && len(f.Items) == 0
}

// MarshalJSON encodes the format as a JSON array.
func (f Format) MarshalJSON() ([]byte, error) {
	if len(f.Items) > 0 {
		return json.Marshal(f.Items)
	}
	if f.Min == nil && f.Max == nil {
		return []byte("null"), nil
	}
	return json.Marshal([]*float64{f.Min, f.Max})
}

// UnmarshalJSON decodes a numeric range or a list of enumeration items.
func (f *Format) UnmarshalJSON(data []byte) error {
	*f = Format{}
	if string(data) == "null" {
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding format: %w", err)
	}

	for i, item := range raw {
		switch v := item.(type) {
		case string:
			f.Items = append(f.Items, v)
		case float64:
			n := v
			switch i {
			case 0:
				f.Min = &n
			case 1:
				f.Max = &n
			}
		case nil:
			// open bound
		default:
			return fmt.Errorf("decoding format: unsupported item %v", item)
		}
	}
	if len(f.Items) > 0 && (f.Min != nil || f.Max != nil) {
		return fmt.Errorf("decoding format: mixed range and items")
	}
	return nil
}

// ConnectionState is the connection state of a device or connector.
type ConnectionState string

// Connection states.
const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateAlert        ConnectionState = "alert"
	StateLost         ConnectionState = "lost"
	StateUnknown      ConnectionState = "unknown"
	StateStopped      ConnectionState = "stopped"
	StateRunning      ConnectionState = "running"
)

// ParseConnectionState validates a connection state string.
func ParseConnectionState(s string) (ConnectionState, error) {
	switch st := ConnectionState(s); st {
	case StateConnected, StateDisconnected, StateConnecting, StateAlert,
		StateLost, StateUnknown, StateStopped, StateRunning:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidConnectionState, s)
	}
}

// InvalidatesProperties reports whether entering this state marks all
// dynamic properties of the device as invalid.
func (s ConnectionState) InvalidatesProperties() bool {
	switch s {
	case StateDisconnected, StateLost, StateAlert, StateUnknown:
		return true
	}
	return false
}
