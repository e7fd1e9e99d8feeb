package clients

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/lan"
)

// lanTransport talks to devices over the /zeroconf API and tracks
// announcements.
type lanTransport struct {
	p   *process
	api LanAPI

	mu sync.RWMutex

	// ignored holds devices that answered with an error code meaning
	// they must not be contacted again this session.
	ignored map[string]bool

	// seen holds the latest announced address by device identifier.
	seen map[string]lan.Address
}

func newLanTransport(p *process, api LanAPI) *lanTransport {
	return &lanTransport{
		p:       p,
		api:     api,
		ignored: make(map[string]bool),
		seen:    make(map[string]lan.Address),
	}
}

func (t *lanTransport) reset() {
	t.mu.Lock()
	clear(t.ignored)
	clear(t.seen)
	t.mu.Unlock()
}

func (t *lanTransport) isIgnored(e *deviceEntry) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ignored[e.device.ID]
}

func (t *lanTransport) ignore(e *deviceEntry) {
	t.mu.Lock()
	t.ignored[e.device.ID] = true
	t.mu.Unlock()
	t.p.logWarn("device excluded from lan communication", "device", e.identifier())
}

// address returns the announced address of e, or the stored one.
func (t *lanTransport) address(e *deviceEntry) (string, int) {
	t.mu.RLock()
	addr, ok := t.seen[e.identifier()]
	t.mu.RUnlock()

	if ok && addr.IPAddress != "" {
		port := addr.Port
		if port == 0 {
			port = lan.DefaultPort
		}
		return addr.IPAddress, port
	}
	return e.ipAddress, e.port
}

// reachable reports whether e can be contacted over the LAN.
func (t *lanTransport) reachable(e *deviceEntry) bool {
	ip, _ := t.address(e)
	return ip != "" && !t.isIgnored(e)
}

func (t *lanTransport) registerKeys(entries []*deviceEntry) {
	for _, e := range entries {
		if e.deviceKey != "" {
			t.api.RegisterDeviceKey(e.identifier(), e.deviceKey)
		}
	}
}

// readInformation reads /zeroconf/info and emits the device state.
func (t *lanTransport) readInformation(ctx context.Context, e *deviceEntry) error {
	ip, port := t.address(e)
	if ip == "" {
		return fmt.Errorf("%w: device %s has no ip address", sonoff.ErrInvalidState, e.identifier())
	}

	info, err := t.api.GetDeviceInfo(ctx, e.identifier(), ip, port)
	if err != nil {
		var callErr *lan.APICallError
		if errors.As(err, &callErr) && lan.IsIgnorable(callErr.Code) {
			t.ignore(e)
		}
		return err
	}

	t.p.storeConnection(e.identifier(), device.StateConnected)
	t.p.storeParams(e, info.Params)
	return nil
}

func (t *lanTransport) writeState(ctx context.Context, e *deviceEntry, req queue.WriteRequest) error {
	if t.isIgnored(e) {
		return fmt.Errorf("%w: device %s is excluded from lan communication", sonoff.ErrInvalidState, e.identifier())
	}
	ip, port := t.address(e)
	if ip == "" {
		return fmt.Errorf("%w: device %s has no ip address", sonoff.ErrInvalidState, e.identifier())
	}
	return t.api.SetDeviceState(ctx, e.identifier(), ip, port, req.Parameter, req.Value, req.Group, req.Outlet)
}

// handleEvent processes one device announcement. Announcements of
// sub-devices carry the sub-device id in subDevId and are routed to the
// child of the announcing device.
func (t *lanTransport) handleEvent(ev lan.Event) {
	e, ok := t.p.entryByIdentifier(ev.ID)
	if !ok {
		t.p.logDebug("announcement of unknown device", "device", ev.ID)
		return
	}

	t.mu.Lock()
	t.seen[ev.ID] = lan.Address{IPAddress: ev.IPAddress, Domain: ev.Domain, Port: ev.Port}
	t.mu.Unlock()

	t.p.storeConnection(e.identifier(), device.StateConnected)

	if ev.Data == nil {
		return
	}

	target := e
	if sub, _ := ev.Data["subDevId"].(string); sub != "" {
		child, ok := t.p.entryByIdentifier(sub)
		if !ok || child.device.ParentID == nil || *child.device.ParentID != e.device.ID {
			t.p.logWarn("sub-device of announcement could not be found", "device", e.identifier(), "sub_device", sub)
			return
		}
		target = child
	}

	t.p.storeParams(target, ev.Data)
}

// Lan is the client of the lan mode.
type Lan struct {
	p   *process
	lan *lanTransport
}

// NewLan creates a LAN-only client. deps.Lan must be set.
func NewLan(deps Deps) *Lan {
	p := newProcess(deps)
	c := &Lan{p: p, lan: newLanTransport(p, deps.Lan)}

	p.readInformation = c.readInformation
	p.readState = c.readState
	p.skip = c.lan.isIgnored
	p.onRefresh = c.lan.registerKeys
	return c
}

// SetLogger sets the logger.
func (c *Lan) SetLogger(l Logger) {
	c.p.SetLogger(l)
}

// Connect registers device keys, starts the mDNS listener and the
// polling loop.
func (c *Lan) Connect(ctx context.Context) error {
	c.lan.reset()
	if err := c.p.refresh(ctx); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	c.lan.api.SetOnMessage(c.lan.handleEvent)
	if err := c.lan.api.Connect(ctx); err != nil {
		return fmt.Errorf("connecting lan client: %w", err)
	}

	c.p.start(ctx)
	c.p.logInfo("lan client connected")
	return nil
}

// Disconnect stops polling and the mDNS listener.
func (c *Lan) Disconnect() {
	c.p.stop()
	c.lan.api.Disconnect()
	c.p.logInfo("lan client disconnected")
}

// WriteState implements queue.StateWriter.
func (c *Lan) WriteState(ctx context.Context, dev *device.Device, req queue.WriteRequest) error {
	e, err := c.p.entryByID(ctx, dev.ID)
	if err != nil {
		return err
	}
	return c.lan.writeState(ctx, e, req)
}

func (c *Lan) readInformation(ctx context.Context, e *deviceEntry) error {
	if err := c.lan.readInformation(ctx, e); err != nil {
		c.p.storeFailure(e, err)
		return err
	}
	return nil
}

// readState is not available over the LAN API; announcements carry the
// state instead.
func (c *Lan) readState(context.Context, *deviceEntry) error {
	return sonoff.ErrNotSupported
}
