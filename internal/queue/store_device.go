package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/transformer"
)

// StoreDeviceConsumer upserts discovered devices with their variable
// properties, channels and dynamic properties.
type StoreDeviceConsumer struct {
	base
}

// NewStoreDevice creates the StoreDevice consumer.
func NewStoreDevice(deps Deps) *StoreDeviceConsumer {
	return &StoreDeviceConsumer{base: newBase(deps)}
}

// Consume implements Consumer.
func (c *StoreDeviceConsumer) Consume(ctx context.Context, msg Message) bool {
	m, ok := msg.(*StoreDevice)
	if !ok {
		return false
	}

	if err := c.store(ctx, m); err != nil {
		c.logError("storing device failed", err, "device", m.Identifier)
		return true
	}

	c.logDebug("consumed store device message", "device", m.Identifier, "parameters", len(m.Parameters))
	return true
}

func (c *StoreDeviceConsumer) store(ctx context.Context, m *StoreDevice) error {
	connector, err := c.repo.GetConnector(ctx, m.ConnectorID)
	if err != nil {
		return err
	}

	dev, err := c.repo.FindDevice(ctx, connector.ID, m.Identifier)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		dev = &device.Device{ConnectorID: connector.ID, Identifier: m.Identifier}
	case err != nil:
		return err
	}

	if m.Name != "" {
		dev.Name = m.Name
	}
	if dev.Name == "" {
		dev.Name = m.Identifier
	}
	if m.Description != nil {
		dev.Description = *m.Description
	}
	if err := c.repo.SaveDevice(ctx, dev); err != nil {
		return err
	}

	uiid := m.UIID
	variables := []struct {
		identifier string
		name       string
		dataType   device.DataType
		value      any
	}{
		{sonoff.PropertyAPIKey, "API key", device.DataTypeString, &m.APIKey},
		{sonoff.PropertyDeviceKey, "Device key", device.DataTypeString, m.DeviceKey},
		{sonoff.PropertyUIID, "UIID", device.DataTypeUInt, &uiid},
		{sonoff.PropertyBrandName, "Brand name", device.DataTypeString, m.BrandName},
		{sonoff.PropertyBrandLogo, "Brand logo", device.DataTypeString, m.BrandLogo},
		{sonoff.PropertyProductModel, "Product model", device.DataTypeString, m.ProductModel},
		{sonoff.PropertyHardwareModel, "Hardware model", device.DataTypeString, m.HardwareModel},
		{sonoff.PropertyHardwareMACAddress, "MAC address", device.DataTypeString, m.MACAddress},
		{sonoff.PropertyIPAddress, "IP address", device.DataTypeString, m.IPAddress},
		{sonoff.PropertyAddress, "Domain", device.DataTypeString, m.Domain},
		{sonoff.PropertyPort, "Port", device.DataTypeUInt, m.Port},
	}
	for _, v := range variables {
		value := deref(v.value)
		if value == nil {
			continue
		}
		if err := c.setVariable(ctx, dev.ID, v.identifier, v.name, v.dataType, value); err != nil {
			return err
		}
	}

	for i := range m.Parameters {
		if err := c.storeParameter(ctx, dev, &m.Parameters[i]); err != nil {
			return fmt.Errorf("parameter %s: %w", m.Parameters[i].Identifier, err)
		}
	}
	return nil
}

func (c *StoreDeviceConsumer) setVariable(
	ctx context.Context,
	deviceID, identifier, name string,
	dataType device.DataType,
	value any,
) error {
	prop, err := c.repo.FindDeviceProperty(ctx, deviceID, identifier)
	switch {
	case errors.Is(err, device.ErrPropertyNotFound):
		prop = &device.Property{DeviceID: deviceID, Identifier: identifier}
	case err != nil:
		return err
	}

	prop.Name = name
	prop.Kind = device.KindVariable
	prop.DataType = dataType
	prop.Settable = false
	prop.Queryable = false
	prop.Value = value
	return c.repo.SaveProperty(ctx, prop)
}

func (c *StoreDeviceConsumer) storeParameter(ctx context.Context, dev *device.Device, p *DeviceParameter) error {
	identifier := transformer.ParameterToProperty(p.Identifier)

	var (
		prop      *device.Property
		channelID string
		err       error
	)
	if p.Type == ParameterChannel {
		ch, chErr := c.repo.FindChannel(ctx, dev.ID, p.Group)
		switch {
		case errors.Is(chErr, device.ErrChannelNotFound):
			ch = &device.Channel{DeviceID: dev.ID, Identifier: p.Group, Name: p.Group}
			if err := c.repo.SaveChannel(ctx, ch); err != nil {
				return err
			}
		case chErr != nil:
			return chErr
		}
		channelID = ch.ID
		prop, err = c.repo.FindChannelProperty(ctx, ch.ID, identifier)
	} else {
		prop, err = c.repo.FindDeviceProperty(ctx, dev.ID, identifier)
	}

	switch {
	case errors.Is(err, device.ErrPropertyNotFound):
		prop = &device.Property{DeviceID: dev.ID, ChannelID: channelID, Identifier: identifier}
	case err != nil:
		return err
	}

	prop.Name = p.Name
	prop.Kind = device.KindDynamic
	prop.DataType = p.DataType
	prop.Format = p.Format
	prop.Settable = p.Settable
	prop.Queryable = p.Queryable
	prop.Scale = p.Scale
	prop.Value = nil
	return c.repo.SaveProperty(ctx, prop)
}

// deref unwraps the optional fields of StoreDevice.
func deref(v any) any {
	switch p := v.(type) {
	case *string:
		if p == nil || *p == "" {
			return nil
		}
		return *p
	case *int:
		if p == nil {
			return nil
		}
		return *p
	}
	return v
}
