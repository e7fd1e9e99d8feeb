package queue

import (
	"fmt"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
)

// MessageType identifies a queue message.
type MessageType string

// Message types.
const (
	TypeStoreDevice                MessageType = "store_device"
	TypeStoreDeviceConnectionState MessageType = "store_device_connection_state"
	TypeStoreParametersStates      MessageType = "store_parameters_states"
	TypeWriteDevicePropertyState   MessageType = "write_device_property_state"
	TypeWriteChannelPropertyState  MessageType = "write_channel_property_state"
)

// Message is an entry of the queue. Connector returns the platform ID of
// the connector the message belongs to.
type Message interface {
	Type() MessageType
	Connector() string
}

// ParameterType tells whether a discovered parameter belongs to the
// device itself or to one of its channels.
type ParameterType string

// Parameter types.
const (
	ParameterDevice  ParameterType = "device"
	ParameterChannel ParameterType = "channel"
)

// StoreDevice creates or updates a device discovered in the cloud.
type StoreDevice struct {
	ConnectorID string  `json:"connector"`
	Identifier  string  `json:"identifier"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`

	APIKey        string  `json:"api_key"`
	DeviceKey     *string `json:"device_key,omitempty"`
	UIID          int     `json:"uiid"`
	BrandName     *string `json:"brand_name,omitempty"`
	BrandLogo     *string `json:"brand_logo,omitempty"`
	ProductModel  *string `json:"product_model,omitempty"`
	HardwareModel *string `json:"hardware_model,omitempty"`
	MACAddress    *string `json:"mac_address,omitempty"`

	// Local address, known when the device announced itself on the LAN.
	IPAddress *string `json:"ip_address,omitempty"`
	Domain    *string `json:"domain,omitempty"`
	Port      *int    `json:"port,omitempty"`

	Parameters []DeviceParameter `json:"parameters"`
}

// Type implements Message.
func (m *StoreDevice) Type() MessageType { return TypeStoreDevice }

// Connector implements Message.
func (m *StoreDevice) Connector() string { return m.ConnectorID }

func (m *StoreDevice) validate() error {
	if err := requireIDs(m.ConnectorID, "connector", m.Identifier, "identifier"); err != nil {
		return err
	}
	if m.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if m.UIID <= 0 {
		return fmt.Errorf("uiid must be positive")
	}
	for i := range m.Parameters {
		if err := m.Parameters[i].validate(); err != nil {
			return fmt.Errorf("parameters[%d]: %w", i, err)
		}
	}
	return nil
}

// DeviceParameter describes one property of a discovered device.
// Group names the channel of channel parameters, e.g. "switch_0".
type DeviceParameter struct {
	Type       ParameterType   `json:"type"`
	Group      string          `json:"group,omitempty"`
	Identifier string          `json:"identifier"`
	Name       string          `json:"name"`
	DataType   device.DataType `json:"data_type"`
	Format     device.Format   `json:"format"`
	Settable   bool            `json:"settable"`
	Queryable  bool            `json:"queryable"`
	Scale      *int            `json:"scale,omitempty"`
}

func (p *DeviceParameter) validate() error {
	if p.Identifier == "" {
		return fmt.Errorf("identifier is required")
	}
	switch p.Type {
	case ParameterDevice:
	case ParameterChannel:
		if p.Group == "" {
			return fmt.Errorf("%s: channel parameter without group", p.Identifier)
		}
	default:
		return fmt.Errorf("%s: unknown parameter type %q", p.Identifier, p.Type)
	}
	if _, err := device.ParseDataType(string(p.DataType)); err != nil {
		return fmt.Errorf("%s: %w", p.Identifier, err)
	}
	return nil
}

// StoreDeviceConnectionState records the connection state of a device.
type StoreDeviceConnectionState struct {
	ConnectorID string                 `json:"connector"`
	Identifier  string                 `json:"identifier"`
	State       device.ConnectionState `json:"state"`
}

// Type implements Message.
func (m *StoreDeviceConnectionState) Type() MessageType { return TypeStoreDeviceConnectionState }

// Connector implements Message.
func (m *StoreDeviceConnectionState) Connector() string { return m.ConnectorID }

func (m *StoreDeviceConnectionState) validate() error {
	if err := requireIDs(m.ConnectorID, "connector", m.Identifier, "identifier"); err != nil {
		return err
	}
	_, err := device.ParseConnectionState(string(m.State))
	return err
}

// StoreParametersStates records parameter values reported by a device.
type StoreParametersStates struct {
	ConnectorID string           `json:"connector"`
	Identifier  string           `json:"identifier"`
	Parameters  []ParameterState `json:"parameters"`
}

// Type implements Message.
func (m *StoreParametersStates) Type() MessageType { return TypeStoreParametersStates }

// Connector implements Message.
func (m *StoreParametersStates) Connector() string { return m.ConnectorID }

func (m *StoreParametersStates) validate() error {
	if err := requireIDs(m.ConnectorID, "connector", m.Identifier, "identifier"); err != nil {
		return err
	}
	for i, p := range m.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameters[%d]: name is required", i)
		}
	}
	return nil
}

// ParameterState is one reported value. Group is empty for device-level
// parameters and names the channel otherwise.
type ParameterState struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Group string `json:"group,omitempty"`
}

// PropertyStateRequest is the requested state carried by write messages
// that arrive from outside the connector.
type PropertyStateRequest struct {
	ExpectedValue any            `json:"expected_value"`
	Pending       device.Pending `json:"pending"`
}

// WriteDevicePropertyState asks for the expected value of a device-level
// property to be sent to the device.
type WriteDevicePropertyState struct {
	ConnectorID string                `json:"connector"`
	DeviceID    string                `json:"device"`
	PropertyID  string                `json:"property"`
	State       *PropertyStateRequest `json:"state,omitempty"`
}

// Type implements Message.
func (m *WriteDevicePropertyState) Type() MessageType { return TypeWriteDevicePropertyState }

// Connector implements Message.
func (m *WriteDevicePropertyState) Connector() string { return m.ConnectorID }

func (m *WriteDevicePropertyState) validate() error {
	if err := requireIDs(m.ConnectorID, "connector", m.DeviceID, "device"); err != nil {
		return err
	}
	return requireIDs(m.PropertyID, "property")
}

// WriteChannelPropertyState asks for the expected value of a channel
// property to be sent to the device.
type WriteChannelPropertyState struct {
	ConnectorID string                `json:"connector"`
	DeviceID    string                `json:"device"`
	ChannelID   string                `json:"channel"`
	PropertyID  string                `json:"property"`
	State       *PropertyStateRequest `json:"state,omitempty"`
}

// Type implements Message.
func (m *WriteChannelPropertyState) Type() MessageType { return TypeWriteChannelPropertyState }

// Connector implements Message.
func (m *WriteChannelPropertyState) Connector() string { return m.ConnectorID }

func (m *WriteChannelPropertyState) validate() error {
	if err := requireIDs(m.ConnectorID, "connector", m.DeviceID, "device"); err != nil {
		return err
	}
	return requireIDs(m.ChannelID, "channel", m.PropertyID, "property")
}

// requireIDs takes (value, name) pairs and reports the first empty value.
func requireIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i] == "" {
			return fmt.Errorf("%s is required", pairs[i+1])
		}
	}
	return nil
}
