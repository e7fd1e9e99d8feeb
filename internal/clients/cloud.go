package clients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/cloud"
)

// Redial backoff of a lost cloud socket.
const (
	socketRetryMin = 5 * time.Second
	socketRetryMax = 2 * time.Minute
)

// cloudTransport talks to devices through the eWeLink cloud. The socket
// is preferred for state reads and writes when it is up and the device
// has an API key; REST is the fallback.
//
// A socket that drops is redialed from the polling loop with an
// exponential backoff for as long as the client is connected.
type cloudTransport struct {
	p      *process
	api    CloudAPI
	socket SocketAPI

	socketMu   sync.Mutex
	socketLost bool
	redialing  bool
	retryAt    time.Time
	backoff    time.Duration
}

func newCloudTransport(p *process, api CloudAPI, socket SocketAPI) *cloudTransport {
	t := &cloudTransport{p: p, api: api, socket: socket}
	p.maintain = t.maintain
	return t
}

func (t *cloudTransport) connect(ctx context.Context) error {
	if err := t.api.Connect(ctx); err != nil {
		return fmt.Errorf("connecting cloud client: %w", err)
	}

	if t.socket == nil {
		return nil
	}
	t.socket.SetOnMessage(t.handleEvent)
	t.socket.SetOnError(func(err error) {
		t.p.logWarn("cloud socket error", "error", err)
	})
	t.socket.SetOnDisconnected(t.socketDropped)

	t.socketMu.Lock()
	t.socketLost, t.redialing, t.backoff = false, false, 0
	t.socketMu.Unlock()

	if err := t.socket.Connect(ctx); err != nil {
		// Polling over REST keeps working until the redial succeeds.
		t.p.logError("cloud socket could not be connected", err)
		t.markLost()
	}
	return nil
}

// socketDropped is the socket's disconnect callback. Drops caused by
// Disconnect do not reach it; a drop racing with shutdown is ignored.
func (t *cloudTransport) socketDropped() {
	if !t.p.connected.Load() {
		return
	}
	t.p.logWarn("cloud socket lost, falling back to rest until it is redialed")
	t.markLost()
}

func (t *cloudTransport) markLost() {
	t.socketMu.Lock()
	defer t.socketMu.Unlock()

	t.socketLost = true
	if t.backoff == 0 {
		t.backoff = socketRetryMin
	}
	t.retryAt = t.p.now().Add(t.backoff)
}

// maintain redials a lost socket once its backoff has passed. The dial
// runs beside the loop so a slow dispatch call does not stall polling.
func (t *cloudTransport) maintain(ctx context.Context) {
	if t.socket == nil || !t.p.connected.Load() {
		return
	}

	t.socketMu.Lock()
	if !t.socketLost || t.redialing || t.p.now().Before(t.retryAt) {
		t.socketMu.Unlock()
		return
	}
	t.redialing = true
	t.socketMu.Unlock()

	t.p.wg.Add(1)
	go func() {
		defer t.p.wg.Done()

		err := t.socket.Connect(ctx)

		t.socketMu.Lock()
		defer t.socketMu.Unlock()
		t.redialing = false

		if err != nil {
			t.backoff = min(2*t.backoff, socketRetryMax)
			t.retryAt = t.p.now().Add(t.backoff)
			t.p.logWarn("cloud socket redial failed", "error", err, "retry_in", t.backoff)
			return
		}
		t.socketLost = false
		t.backoff = 0
		t.p.logInfo("cloud socket reconnected")
	}()
}

func (t *cloudTransport) disconnect() {
	if t.socket != nil {
		t.socket.Disconnect()
	}
	t.api.Disconnect()
}

func (t *cloudTransport) socketUsable(e *deviceEntry) bool {
	return t.socket != nil && t.socket.IsConnected() && e.apiKey != ""
}

// readInformation asks the cloud whether the device is online.
func (t *cloudTransport) readInformation(ctx context.Context, e *deviceEntry) error {
	thing, err := t.api.GetThing(ctx, e.identifier())
	if err != nil {
		return err
	}

	state := device.StateDisconnected
	if thing.Online {
		state = device.StateConnected
	}
	t.p.storeConnection(e.identifier(), state)
	return nil
}

// readState reads the reported params over the socket, falling back to
// REST when the socket is unavailable or the socket call fails.
func (t *cloudTransport) readState(ctx context.Context, e *deviceEntry) error {
	if t.socketUsable(e) {
		params, err := t.socket.ReadStates(ctx, e.identifier(), e.apiKey)
		if err == nil {
			t.p.storeParams(e, params)
			return nil
		}
		t.p.logDebug("socket state read failed, using rest", "device", e.identifier(), "error", err)
	}

	status, err := t.api.GetThingStatus(ctx, e.identifier())
	if err != nil {
		return err
	}
	t.p.storeParams(e, status.Params)
	return nil
}

func (t *cloudTransport) writeState(ctx context.Context, e *deviceEntry, req queue.WriteRequest) error {
	if t.socketUsable(e) {
		err := t.socket.WriteState(ctx, e.identifier(), e.apiKey, req.Parameter, req.Value, req.Group, req.Outlet)
		if err == nil {
			return nil
		}
		t.p.logDebug("socket write failed, using rest", "device", e.identifier(), "error", err)
	}
	return t.api.SetThingState(ctx, e.identifier(), req.Parameter, req.Value, req.Group, req.Outlet)
}

// handleEvent processes a pushed socket message.
func (t *cloudTransport) handleEvent(ev cloud.Event) {
	e, ok := t.p.entryByIdentifier(ev.Device())
	if !ok {
		t.p.logDebug("push message of unknown device", "device", ev.Device())
		return
	}

	switch m := ev.(type) {
	case *cloud.DeviceConnectionEvent:
		state := device.StateDisconnected
		if m.Online {
			state = device.StateConnected
		}
		t.p.storeConnection(e.identifier(), state)

	case *cloud.DeviceStateEvent:
		t.p.storeParams(e, m.Params)
	}
}

// Cloud is the client of the cloud mode.
type Cloud struct {
	p     *process
	cloud *cloudTransport
}

// NewCloud creates a cloud-only client. deps.Cloud must be set.
func NewCloud(deps Deps) *Cloud {
	p := newProcess(deps)
	c := &Cloud{
		p:     p,
		cloud: newCloudTransport(p, deps.Cloud, deps.Socket),
	}

	p.readInformation = c.readInformation
	p.readState = c.readState
	return c
}

// SetLogger sets the logger.
func (c *Cloud) SetLogger(l Logger) {
	c.p.SetLogger(l)
}

// Connect logs into the cloud, opens the socket and starts polling.
func (c *Cloud) Connect(ctx context.Context) error {
	if err := c.p.refresh(ctx); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	if err := c.cloud.connect(ctx); err != nil {
		return err
	}
	c.p.start(ctx)
	c.p.logInfo("cloud client connected")
	return nil
}

// Disconnect stops polling and closes the cloud connections.
func (c *Cloud) Disconnect() {
	c.p.stop()
	c.cloud.disconnect()
	c.p.logInfo("cloud client disconnected")
}

// WriteState implements queue.StateWriter.
func (c *Cloud) WriteState(ctx context.Context, dev *device.Device, req queue.WriteRequest) error {
	e, err := c.p.entryByID(ctx, dev.ID)
	if err != nil {
		return err
	}
	return c.cloud.writeState(ctx, e, req)
}

func (c *Cloud) readInformation(ctx context.Context, e *deviceEntry) error {
	if err := c.cloud.readInformation(ctx, e); err != nil {
		c.p.storeFailure(e, err)
		return err
	}
	return nil
}

func (c *Cloud) readState(ctx context.Context, e *deviceEntry) error {
	if err := c.cloud.readState(ctx, e); err != nil {
		c.p.storeFailure(e, err)
		return err
	}
	return nil
}
