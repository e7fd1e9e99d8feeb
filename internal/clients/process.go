package clients

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/lan"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/uiid"
)

const (
	defaultStartDelay = 2 * time.Second

	// deviceRefreshInterval bounds how stale the cached device list is.
	deviceRefreshInterval = 5 * time.Second
)

type readFunc func(ctx context.Context, e *deviceEntry) error

// deviceEntry is a device with the variable properties the transports
// need. Entries are immutable; a refresh replaces them.
type deviceEntry struct {
	device    device.Device
	ipAddress string
	port      int
	apiKey    string
	deviceKey string
	uiid      int

	heartbeatDelay time.Duration
	stateDelay     time.Duration
}

func (e *deviceEntry) identifier() string {
	return e.device.Identifier
}

// process is the polling loop and message emitter shared by all modes.
type process struct {
	connector *device.Connector
	repo      device.Repository
	states    device.StateManager
	queue     *queue.Queue
	registry  *uiid.Registry

	heartbeatDelay time.Duration
	stateDelay     time.Duration
	startDelay     time.Duration
	tick           time.Duration
	now            func() time.Time

	// Set by the owning client before start.
	readInformation readFunc
	readState       readFunc
	skip            func(e *deviceEntry) bool
	maintain        func(ctx context.Context)
	onRefresh       func(entries []*deviceEntry)

	mu           sync.Mutex
	entries      []*deviceEntry
	byID         map[string]*deviceEntry
	byIdentifier map[string]*deviceEntry
	refreshedAt  time.Time
	heartbeats   map[string]time.Time
	stateReads   map[string]time.Time
	inflight     map[string]bool
	runCtx       context.Context
	cancel       context.CancelFunc

	// processed is only touched by the loop goroutine.
	processed map[string]bool

	connected atomic.Bool
	wg        sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

func newProcess(deps Deps) *process {
	p := &process{
		connector:      deps.Connector,
		repo:           deps.Repository,
		states:         deps.States,
		queue:          deps.Queue,
		registry:       deps.Registry,
		heartbeatDelay: deps.HeartbeatDelay,
		stateDelay:     deps.StateReadingDelay,
		startDelay:     deps.StartDelay,
		tick:           sonoff.ProcessingInterval,
		now:            time.Now,
		byID:           make(map[string]*deviceEntry),
		byIdentifier:   make(map[string]*deviceEntry),
		heartbeats:     make(map[string]time.Time),
		stateReads:     make(map[string]time.Time),
		inflight:       make(map[string]bool),
		processed:      make(map[string]bool),
		logger:         deps.Logger,
	}
	if p.registry == nil {
		p.registry = uiid.NewRegistry()
	}
	if p.heartbeatDelay <= 0 {
		p.heartbeatDelay = sonoff.HeartbeatDelay
	}
	if p.stateDelay <= 0 {
		p.stateDelay = sonoff.StateReadingDelay
	}
	if p.startDelay <= 0 {
		p.startDelay = defaultStartDelay
	}
	return p
}

// SetLogger sets the logger.
func (p *process) SetLogger(l Logger) {
	p.loggerMu.Lock()
	defer p.loggerMu.Unlock()
	p.logger = l
}

// start launches the polling loop. Results are accepted until stop.
func (p *process) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.runCtx = ctx
	p.cancel = cancel
	clear(p.heartbeats)
	clear(p.stateReads)
	p.mu.Unlock()
	clear(p.processed)

	p.connected.Store(true)

	p.wg.Add(1)
	go p.run(ctx)
}

// stop ends the loop and waits for in-flight reads. Results arriving
// after stop are dropped.
func (p *process) stop() {
	p.connected.Store(false)

	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// context returns the context of the running session, for callbacks that
// do not carry one.
func (p *process) context() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runCtx == nil {
		return context.Background()
	}
	return p.runCtx
}

func (p *process) run(ctx context.Context) {
	defer p.wg.Done()

	timer := time.NewTimer(p.startDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.maintain != nil {
				p.maintain(ctx)
			}
			p.handleCommunication(ctx)
		}
	}
}

// handleCommunication visits devices not yet seen in this round and
// issues at most one read. A round ends when every device was visited.
func (p *process) handleCommunication(ctx context.Context) {
	for _, e := range p.devices(ctx) {
		id := e.device.ID
		if p.processed[id] {
			continue
		}
		p.processed[id] = true

		if p.skipped(ctx, e) {
			continue
		}
		if p.processDevice(ctx, e) {
			return
		}
	}

	clear(p.processed)
}

func (p *process) skipped(ctx context.Context, e *deviceEntry) bool {
	switch p.states.ConnectionState(ctx, e.device.ID) {
	case device.StateAlert, device.StateStopped:
		return true
	}
	return p.skip != nil && p.skip(e)
}

// processDevice starts the heartbeat read, or the state read when the
// heartbeat is not due. It reports whether a read was started.
func (p *process) processDevice(ctx context.Context, e *deviceEntry) bool {
	id := e.device.ID
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inflight[id] {
		return false
	}

	if p.readInformation != nil && now.Sub(p.heartbeats[id]) >= e.heartbeatDelay {
		p.heartbeats[id] = now
		p.launch(ctx, e, "heartbeat", p.readInformation, p.heartbeats)
		return true
	}

	if p.readState != nil && now.Sub(p.stateReads[id]) >= e.stateDelay {
		p.stateReads[id] = now
		p.launch(ctx, e, "state", p.readState, p.stateReads)
		return true
	}

	return false
}

// launch runs read on its own goroutine. Callers hold p.mu.
func (p *process) launch(ctx context.Context, e *deviceEntry, cmd string, read readFunc, stamps map[string]time.Time) {
	id := e.device.ID
	p.inflight[id] = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		err := read(ctx, e)

		p.mu.Lock()
		delete(p.inflight, id)
		stamps[id] = p.now()
		p.mu.Unlock()

		switch {
		case err == nil:
		case errors.Is(err, sonoff.ErrNotSupported), errors.Is(err, context.Canceled):
			p.logDebug("device read skipped", "device", e.identifier(), "command", cmd, "reason", err)
		case p.connected.Load():
			p.logWarn("device read failed", "device", e.identifier(), "command", cmd, "error", err)
		}
	}()
}

// devices returns the cached device list, reloading it when stale.
func (p *process) devices(ctx context.Context) []*deviceEntry {
	p.mu.Lock()
	fresh := p.entries != nil && p.now().Sub(p.refreshedAt) < deviceRefreshInterval
	entries := p.entries
	p.mu.Unlock()

	if fresh {
		return entries
	}

	if err := p.refresh(ctx); err != nil {
		p.logError("loading connector devices failed", err)
		return entries
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries
}

// refresh reloads the devices of the connector from the repository.
func (p *process) refresh(ctx context.Context) error {
	defer func() {
		p.mu.Lock()
		p.refreshedAt = p.now()
		p.mu.Unlock()
	}()

	devices, err := p.repo.ListDevices(ctx, p.connector.ID)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	entries := make([]*deviceEntry, 0, len(devices))
	for _, dev := range devices {
		props, err := p.repo.ListDeviceProperties(ctx, dev.ID)
		if err != nil {
			return fmt.Errorf("listing properties of device %s: %w", dev.Identifier, err)
		}
		entries = append(entries, p.newEntry(dev, props))
	}

	byID := make(map[string]*deviceEntry, len(entries))
	byIdentifier := make(map[string]*deviceEntry, len(entries))
	for _, e := range entries {
		byID[e.device.ID] = e
		byIdentifier[e.device.Identifier] = e
	}

	p.mu.Lock()
	p.entries = entries
	p.byID = byID
	p.byIdentifier = byIdentifier
	p.mu.Unlock()

	if p.onRefresh != nil {
		p.onRefresh(entries)
	}
	return nil
}

func (p *process) newEntry(dev device.Device, props []device.Property) *deviceEntry {
	e := &deviceEntry{
		device:         dev,
		port:           lan.DefaultPort,
		heartbeatDelay: p.heartbeatDelay,
		stateDelay:     p.stateDelay,
	}

	for _, prop := range props {
		if prop.Kind != device.KindVariable || prop.Value == nil {
			continue
		}
		switch prop.Identifier {
		case sonoff.PropertyIPAddress:
			e.ipAddress = stringValue(prop.Value)
		case sonoff.PropertyPort:
			if n, ok := intValue(prop.Value); ok && n > 0 {
				e.port = n
			}
		case sonoff.PropertyAPIKey:
			e.apiKey = stringValue(prop.Value)
		case sonoff.PropertyDeviceKey:
			e.deviceKey = stringValue(prop.Value)
		case sonoff.PropertyUIID:
			e.uiid, _ = intValue(prop.Value)
		case sonoff.PropertyHeartbeatDelay:
			if n, ok := intValue(prop.Value); ok && n > 0 {
				e.heartbeatDelay = time.Duration(n) * time.Millisecond
			}
		case sonoff.PropertyStateReadingDelay:
			if n, ok := intValue(prop.Value); ok && n > 0 {
				e.stateDelay = time.Duration(n) * time.Millisecond
			}
		}
	}
	return e
}

// entryByID returns the entry of a connector device, reloading the cache
// once when the device is not in it.
func (p *process) entryByID(ctx context.Context, deviceID string) (*deviceEntry, error) {
	if e, ok := p.lookup(func() *deviceEntry { return p.byID[deviceID] }); ok {
		return e, nil
	}
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	if e, ok := p.lookup(func() *deviceEntry { return p.byID[deviceID] }); ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
}

// entryByIdentifier returns the entry with the given device identifier
// from the cache.
func (p *process) entryByIdentifier(identifier string) (*deviceEntry, bool) {
	return p.lookup(func() *deviceEntry { return p.byIdentifier[identifier] })
}

func (p *process) lookup(find func() *deviceEntry) (*deviceEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := find()
	return e, e != nil
}

// emit appends msg unless the session has ended.
func (p *process) emit(msg queue.Message) {
	if !p.connected.Load() {
		p.logDebug("dropping result of a closed session", "type", msg.Type())
		return
	}
	p.queue.Append(msg)
}

func (p *process) storeConnection(identifier string, state device.ConnectionState) {
	p.emit(&queue.StoreDeviceConnectionState{
		ConnectorID: p.connector.ID,
		Identifier:  identifier,
		State:       state,
	})
}

// storeFailure records the connection state a failed call implies.
// A missing address puts the device into alert.
func (p *process) storeFailure(e *deviceEntry, err error) {
	if errors.Is(err, sonoff.ErrInvalidState) {
		p.storeConnection(e.identifier(), device.StateAlert)
		return
	}
	if state, ok := queue.ClassifyFailure(err); ok {
		p.storeConnection(e.identifier(), state)
	}
}

func (p *process) storeStates(identifier string, states []queue.ParameterState) {
	if len(states) == 0 {
		return
	}
	p.emit(&queue.StoreParametersStates{
		ConnectorID: p.connector.ID,
		Identifier:  identifier,
		Parameters:  states,
	})
}

// storeParams decodes reported params of e and emits their states.
func (p *process) storeParams(e *deviceEntry, params map[string]any) {
	states, err := p.decodeStates(e.uiid, params)
	if err != nil {
		p.logWarn("reported params could not be mapped", "device", e.identifier(), "error", err)
		return
	}
	p.storeStates(e.identifier(), states)
}

// decodeStates maps params to parameter states. Params of a device with
// a supported stored UIID are decoded as that UIID, since pushed updates
// are partial and may match the schema of another family. Otherwise the
// UIID is resolved by schema.
func (p *process) decodeStates(id int, params map[string]any) ([]queue.ParameterState, error) {
	var (
		v   uiid.Variant
		err error
	)
	if id > 0 {
		v, err = uiid.Decode(id, params)
	}
	if id <= 0 || errors.Is(err, uiid.ErrUnknownUIID) {
		v, err = p.registry.Resolve(params)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sonoff.ErrRuntime, err)
	}
	return parameterStates(v.States()), nil
}

func parameterStates(s uiid.States) []queue.ParameterState {
	out := make([]queue.ParameterState, 0, len(s.Device)+len(s.Channel))
	for _, st := range s.Device {
		out = append(out, queue.ParameterState{Name: st.Parameter, Value: st.Value})
	}
	for _, st := range s.Channel {
		out = append(out, queue.ParameterState{Name: st.Parameter, Value: st.Value, Group: st.Group})
	}
	return out
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func (p *process) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

func (p *process) logDebug(msg string, args ...any) {
	if l := p.getLogger(); l != nil {
		l.Debug(msg, append([]any{"connector", p.connector.Identifier}, args...)...)
	}
}

func (p *process) logInfo(msg string, args ...any) {
	if l := p.getLogger(); l != nil {
		l.Info(msg, append([]any{"connector", p.connector.Identifier}, args...)...)
	}
}

func (p *process) logWarn(msg string, args ...any) {
	if l := p.getLogger(); l != nil {
		l.Warn(msg, append([]any{"connector", p.connector.Identifier}, args...)...)
	}
}

func (p *process) logError(msg string, err error, args ...any) {
	if l := p.getLogger(); l != nil {
		l.Error(msg, append([]any{"connector", p.connector.Identifier, "error", err}, args...)...)
	}
}
