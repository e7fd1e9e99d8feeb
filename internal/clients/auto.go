package clients

import (
	"context"
	"fmt"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
)

// Auto is the client of the auto mode. Devices with a known local
// address are contacted over the LAN first; the cloud serves the rest
// and takes over whenever a LAN call fails. State reads always go to the
// cloud.
type Auto struct {
	p     *process
	lan   *lanTransport
	cloud *cloudTransport
}

// NewAuto creates an auto-mode client. deps.Lan and deps.Cloud must be set.
func NewAuto(deps Deps) *Auto {
	p := newProcess(deps)
	c := &Auto{
		p:     p,
		lan:   newLanTransport(p, deps.Lan),
		cloud: newCloudTransport(p, deps.Cloud, deps.Socket),
	}

	p.readInformation = c.readInformation
	p.readState = c.readState
	p.onRefresh = c.lan.registerKeys
	return c
}

// SetLogger sets the logger.
func (c *Auto) SetLogger(l Logger) {
	c.p.SetLogger(l)
}

// Connect starts both transports and the polling loop. A LAN listener
// failure is logged; the cloud alone keeps the devices reachable.
func (c *Auto) Connect(ctx context.Context) error {
	c.lan.reset()
	if err := c.p.refresh(ctx); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	if err := c.cloud.connect(ctx); err != nil {
		return err
	}

	c.lan.api.SetOnMessage(c.lan.handleEvent)
	if err := c.lan.api.Connect(ctx); err != nil {
		c.p.logError("lan client could not be connected", err)
	}

	c.p.start(ctx)
	c.p.logInfo("auto client connected")
	return nil
}

// Disconnect stops polling and both transports.
func (c *Auto) Disconnect() {
	c.p.stop()
	c.lan.api.Disconnect()
	c.cloud.disconnect()
	c.p.logInfo("auto client disconnected")
}

// WriteState implements queue.StateWriter. The LAN is tried first when
// the device is reachable there.
func (c *Auto) WriteState(ctx context.Context, dev *device.Device, req queue.WriteRequest) error {
	e, err := c.p.entryByID(ctx, dev.ID)
	if err != nil {
		return err
	}

	if c.lan.reachable(e) {
		err := c.lan.writeState(ctx, e, req)
		if err == nil {
			return nil
		}
		c.p.logDebug("lan write failed, using cloud", "device", e.identifier(), "error", err)
	}
	return c.cloud.writeState(ctx, e, req)
}

func (c *Auto) readInformation(ctx context.Context, e *deviceEntry) error {
	if c.lan.reachable(e) {
		err := c.lan.readInformation(ctx, e)
		if err == nil {
			return nil
		}
		c.p.logDebug("lan read failed, using cloud", "device", e.identifier(), "error", err)
	}

	if err := c.cloud.readInformation(ctx, e); err != nil {
		c.p.storeFailure(e, err)
		return err
	}
	return nil
}

func (c *Auto) readState(ctx context.Context, e *deviceEntry) error {
	if err := c.cloud.readState(ctx, e); err != nil {
		c.p.storeFailure(e, err)
		return err
	}
	return nil
}
