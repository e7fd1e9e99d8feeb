package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/cloud"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/lan"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/transformer"
)

// writeTimeout bounds one device write.
const writeTimeout = 30 * time.Second

// WriteRequest is one parameter write sent to a device. Group and Outlet
// are set for per-outlet parameters of multi-outlet devices.
type WriteRequest struct {
	Parameter string
	Value     any
	Group     string
	Outlet    *int
}

// StateWriter sends parameter writes to devices using the transport
// policy of the active client mode.
type StateWriter interface {
	WriteState(ctx context.Context, dev *device.Device, req WriteRequest) error
}

// WritePropertyConsumer sends expected property values to devices. It
// handles both WriteDevicePropertyState and WriteChannelPropertyState.
//
// Device calls run on their own goroutine; Wait blocks until they finish.
type WritePropertyConsumer struct {
	base
	now func() time.Time

	writer   StateWriter
	writerMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriteProperty creates the write consumer. writer may be nil and set
// later with SetWriter.
func NewWriteProperty(deps Deps, writer StateWriter) *WritePropertyConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &WritePropertyConsumer{
		base:   newBase(deps),
		now:    time.Now,
		writer: writer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetWriter replaces the state writer.
func (c *WritePropertyConsumer) SetWriter(writer StateWriter) {
	c.writerMu.Lock()
	c.writer = writer
	c.writerMu.Unlock()
}

// Wait blocks until all dispatched device calls have finished.
func (c *WritePropertyConsumer) Wait() {
	c.wg.Wait()
}

// Close cancels in-flight device calls and waits for them.
func (c *WritePropertyConsumer) Close() {
	c.cancel()
	c.wg.Wait()
}

// writeTarget is the resolved entity chain of a write message.
type writeTarget struct {
	connector *device.Connector
	device    *device.Device
	channel   *device.Channel
	property  *device.Property
}

// Consume implements Consumer.
func (c *WritePropertyConsumer) Consume(ctx context.Context, msg Message) bool {
	var (
		target *writeTarget
		err    error
	)
	switch m := msg.(type) {
	case *WriteDevicePropertyState:
		target, err = c.resolve(ctx, m.ConnectorID, m.DeviceID, "", m.PropertyID)
	case *WriteChannelPropertyState:
		target, err = c.resolve(ctx, m.ConnectorID, m.DeviceID, m.ChannelID, m.PropertyID)
	default:
		return false
	}
	if err != nil {
		c.logError("write target could not be loaded", err, "type", msg.Type())
		return true
	}

	prop := target.property
	if !prop.Settable || !prop.IsDynamic() {
		c.logWarn("property is not writable", "device", target.device.Identifier, "property", prop.Identifier)
		return true
	}

	state, err := c.states.ReadState(ctx, prop.ID)
	if err != nil {
		c.logError("reading property state failed", err, "property", prop.ID)
		return true
	}

	if state.Expected == nil {
		if _, err := c.states.WriteState(ctx, prop.ID, device.WithPending(device.NotPending)); err != nil {
			c.logError("clearing pending flag failed", err, "property", prop.ID)
		}
		return true
	}

	now := c.now()
	if since, ok := state.Pending.Since(); ok && now.Sub(since) < sonoff.WriteDebounceDelay {
		c.logDebug("write is already pending", "device", target.device.Identifier, "property", prop.Identifier)
		return true
	}

	c.writerMu.RLock()
	writer := c.writer
	c.writerMu.RUnlock()
	if writer == nil {
		c.logWarn("no client is running, write dropped", "device", target.device.Identifier, "property", prop.Identifier)
		return true
	}

	value := transformer.ValueToDevice(prop.DataType, prop.Format, state.Expected)
	if value == nil {
		c.logWarn("expected value is not valid for the property",
			"device", target.device.Identifier, "property", prop.Identifier, "value", state.Expected)
		c.abandon(ctx, prop.ID)
		return true
	}

	if _, err := c.states.WriteState(ctx, prop.ID, device.WithPending(device.PendingSince(now))); err != nil {
		c.logError("marking property pending failed", err, "property", prop.ID)
		return true
	}

	req := buildRequest(target, value)

	c.wg.Add(1)
	go c.dispatch(writer, target, req, now)

	return true
}

func (c *WritePropertyConsumer) resolve(ctx context.Context, connectorID, deviceID, channelID, propertyID string) (*writeTarget, error) {
	connector, err := c.repo.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	dev, err := c.repo.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.ConnectorID != connector.ID {
		return nil, device.ErrDeviceNotFound
	}

	t := &writeTarget{connector: connector, device: dev}

	if channelID != "" {
		ch, err := c.repo.GetChannel(ctx, channelID)
		if err != nil {
			return nil, err
		}
		if ch.DeviceID != dev.ID {
			return nil, device.ErrChannelNotFound
		}
		t.channel = ch
	}

	prop, err := c.repo.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if prop.DeviceID != dev.ID || (t.channel != nil && prop.ChannelID != t.channel.ID) ||
		(t.channel == nil && prop.ChannelID != "") {
		return nil, device.ErrPropertyNotFound
	}
	t.property = prop
	return t, nil
}

// buildRequest derives the wire parameter, array group and outlet of a
// write. Per-outlet parameters of channels named "<group>_<n>" are sent
// inside their outlet array.
func buildRequest(t *writeTarget, value any) WriteRequest {
	req := WriteRequest{
		Parameter: transformer.PropertyToParameter(t.property.Identifier),
		Value:     value,
	}
	if t.channel == nil {
		return req
	}

	if _, outlet, ok := sonoff.SplitChannelIdentifier(t.channel.Identifier); ok {
		if group, isOutlet := transformer.ChannelGroupFor(req.Parameter); isOutlet {
			req.Group = group
			req.Outlet = &outlet
		}
	}
	return req
}

// dispatch performs the device call of a write stamped pending at stamp.
// The outcome only touches the property state while that stamp is still
// in place, and a failure only reports the device while writer is still
// the active client.
func (c *WritePropertyConsumer) dispatch(writer StateWriter, t *writeTarget, req WriteRequest, stamp time.Time) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()

	err := writer.WriteState(ctx, t.device, req)
	if err == nil {
		if _, err := c.states.WriteState(ctx, t.property.ID,
			device.IfPendingSince(stamp, device.WithPending(device.PendingSince(c.now())))); err != nil {
			c.logError("updating pending timestamp failed", err, "property", t.property.ID)
		}
		c.logDebug("property state was written",
			"device", t.device.Identifier, "parameter", req.Parameter, "group", req.Group)
		return
	}

	c.logError("writing property state failed", err,
		"device", t.device.Identifier, "parameter", req.Parameter, "group", req.Group)

	// Use a fresh context: c.ctx may be cancelled already.
	cleanup, cancelCleanup := context.WithTimeout(context.Background(), time.Second)
	defer cancelCleanup()
	if _, err := c.states.WriteState(cleanup, t.property.ID, device.IfPendingSince(stamp,
		device.WithExpected(nil), device.WithPending(device.NotPending))); err != nil {
		c.logError("clearing expected value failed", err, "property", t.property.ID)
	}

	state, ok := ClassifyFailure(err)
	if !ok {
		return
	}
	if !c.active(writer) {
		c.logDebug("client stopped, late write failure not reported", "device", t.device.Identifier)
		return
	}
	c.queue.Append(&StoreDeviceConnectionState{
		ConnectorID: t.connector.ID,
		Identifier:  t.device.Identifier,
		State:       state,
	})
}

// active reports whether writer is still the client in use.
func (c *WritePropertyConsumer) active(writer StateWriter) bool {
	c.writerMu.RLock()
	defer c.writerMu.RUnlock()
	return c.writer == writer && c.ctx.Err() == nil
}

// abandon clears the requested value of a property.
func (c *WritePropertyConsumer) abandon(ctx context.Context, propertyID string) {
	if _, err := c.states.WriteState(ctx, propertyID,
		device.WithExpected(nil), device.WithPending(device.NotPending)); err != nil {
		c.logError("clearing expected value failed", err, "property", propertyID)
	}
}

// ClassifyFailure maps a transport error to the connection state it
// implies: failed calls mean the device is unreachable, protocol errors
// mean it needs attention. ok is false for errors of neither class.
func ClassifyFailure(err error) (device.ConnectionState, bool) {
	var (
		lanCall   *lan.APICallError
		lanAPI    *lan.APIError
		cloudCall *cloud.APICallError
		cloudAPI  *cloud.APIError
		wsErr     *cloud.WSError
	)
	switch {
	case errors.As(err, &lanCall), errors.As(err, &cloudCall), errors.Is(err, cloud.ErrCallTimeout):
		return device.StateDisconnected, true
	case errors.As(err, &lanAPI), errors.As(err, &cloudAPI), errors.As(err, &wsErr):
		return device.StateAlert, true
	}
	return "", false
}
