package queue

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/influxdb"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/transformer"
)

// StoreParametersConsumer records parameter values reported by devices.
type StoreParametersConsumer struct {
	base
	now func() time.Time
}

// NewStoreParameters creates the StoreParametersStates consumer.
func NewStoreParameters(deps Deps) *StoreParametersConsumer {
	return &StoreParametersConsumer{base: newBase(deps), now: time.Now}
}

// Consume implements Consumer.
func (c *StoreParametersConsumer) Consume(ctx context.Context, msg Message) bool {
	m, ok := msg.(*StoreParametersStates)
	if !ok {
		return false
	}

	dev, err := c.findDevice(ctx, m.ConnectorID, m.Identifier)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			c.logWarn("parameters for unknown device", "device", m.Identifier)
		} else {
			c.logError("loading device failed", err, "device", m.Identifier)
		}
		return true
	}

	for _, p := range m.Parameters {
		if err := c.storeParameter(ctx, dev, p); err != nil {
			c.logError("storing parameter failed", err, "device", m.Identifier, "parameter", p.Name, "group", p.Group)
		}
	}

	c.logDebug("consumed parameters states message", "device", m.Identifier, "parameters", len(m.Parameters))
	return true
}

func (c *StoreParametersConsumer) storeParameter(ctx context.Context, dev *device.Device, p ParameterState) error {
	identifier := transformer.ParameterToProperty(p.Name)

	var (
		prop *device.Property
		err  error
	)
	if p.Group == "" {
		prop, err = c.repo.FindDeviceProperty(ctx, dev.ID, identifier)
	} else {
		ch, chErr := c.repo.FindChannel(ctx, dev.ID, p.Group)
		if chErr != nil {
			if errors.Is(chErr, device.ErrChannelNotFound) {
				c.logDebug("reported channel is not stored", "device", dev.Identifier, "group", p.Group)
				return nil
			}
			return chErr
		}
		prop, err = c.repo.FindChannelProperty(ctx, ch.ID, identifier)
	}
	if errors.Is(err, device.ErrPropertyNotFound) {
		c.logDebug("reported parameter is not stored", "device", dev.Identifier, "parameter", p.Name, "group", p.Group)
		return nil
	}
	if err != nil {
		return err
	}

	value := transformer.ValueFromDevice(prop.DataType, prop.Format, p.Value)

	if !prop.IsDynamic() {
		if value == nil || valuesEqual(prop.Value, value) {
			return nil
		}
		prop.Value = value
		return c.repo.SaveProperty(ctx, prop)
	}

	state, err := c.states.ReadState(ctx, prop.ID)
	if err != nil {
		return err
	}

	opts := []device.StateOption{device.WithActual(value), device.WithValid(value != nil)}
	if state.Expected != nil && valuesEqual(state.Expected, value) {
		opts = append(opts, device.WithExpected(nil), device.WithPending(device.NotPending))
	}
	if _, err := c.states.WriteState(ctx, prop.ID, opts...); err != nil {
		return err
	}

	if c.recorder != nil && value != nil {
		c.recorder.WriteParameterState(influxdb.ParameterSample{
			DeviceID:   dev.Identifier,
			Channel:    p.Group,
			Identifier: identifier,
			Value:      value,
			Timestamp:  c.now(),
		})
	}
	return nil
}

// valuesEqual compares normalised property values. Numbers of different
// Go types compare by value.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
