package queue

import (
	"context"
	"errors"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
)

// StoreConnectionStateConsumer records device connection states and
// invalidates property values when a device becomes unreachable.
type StoreConnectionStateConsumer struct {
	base
}

// NewStoreConnectionState creates the StoreDeviceConnectionState consumer.
func NewStoreConnectionState(deps Deps) *StoreConnectionStateConsumer {
	return &StoreConnectionStateConsumer{base: newBase(deps)}
}

// Consume implements Consumer.
func (c *StoreConnectionStateConsumer) Consume(ctx context.Context, msg Message) bool {
	m, ok := msg.(*StoreDeviceConnectionState)
	if !ok {
		return false
	}

	dev, err := c.findDevice(ctx, m.ConnectorID, m.Identifier)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			c.logWarn("connection state for unknown device", "device", m.Identifier)
		} else {
			c.logError("loading device failed", err, "device", m.Identifier)
		}
		return true
	}

	if c.states.ConnectionState(ctx, dev.ID) == m.State {
		return true
	}

	if err := c.states.SetConnectionState(ctx, dev.ID, m.State); err != nil {
		c.logError("storing connection state failed", err, "device", m.Identifier)
		return true
	}
	if c.recorder != nil {
		c.recorder.WriteConnectionState(dev.Identifier, string(m.State))
	}

	if m.State.InvalidatesProperties() {
		c.cascade(ctx, dev)
	}

	c.logDebug("consumed device connection state message", "device", m.Identifier, "state", m.State)
	return true
}

// cascade invalidates the device and every device attached to it.
func (c *StoreConnectionStateConsumer) cascade(ctx context.Context, root *device.Device) {
	seen := map[string]bool{}
	pending := []string{root.ID}

	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := c.invalidateDevice(ctx, id); err != nil {
			c.logError("invalidating device properties failed", err, "device", id)
		}

		children, err := c.repo.ListChildren(ctx, id)
		if err != nil {
			c.logError("loading child devices failed", err, "device", id)
			continue
		}
		for _, child := range children {
			pending = append(pending, child.ID)
		}
	}
}
