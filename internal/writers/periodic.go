package writers

import (
	"context"
	"sync"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
)

// Periodic tuning.
const (
	// PeriodicStartDelay postpones the first scan after Connect.
	PeriodicStartDelay = 5 * time.Second

	// PeriodicDebounceInterval is the minimum time between two writes of
	// the same property.
	PeriodicDebounceInterval = 500 * time.Millisecond

	// PeriodicPendingDelay is how long a write may stay pending before it
	// is issued again.
	PeriodicPendingDelay = 2000 * time.Millisecond

	deviceRefreshInterval = 5 * time.Second
)

// Periodic scans the settable properties of connected devices and
// enqueues one write per tick. Devices are visited round robin: a device
// is not visited again until every other connected device was.
type Periodic struct {
	base

	startDelay   time.Duration
	interval     time.Duration
	debounce     time.Duration
	pendingDelay time.Duration
	now          func() time.Time

	// Owned by the scanning goroutine once started.
	devices          []device.Device
	devicesAt        time.Time
	processedDevices map[string]bool
	processedProps   map[string]time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPeriodic creates a periodic writer.
func NewPeriodic(deps Deps) *Periodic {
	return &Periodic{
		base:             newBase(deps),
		startDelay:       PeriodicStartDelay,
		interval:         sonoff.ProcessingInterval,
		debounce:         PeriodicDebounceInterval,
		pendingDelay:     PeriodicPendingDelay,
		now:              time.Now,
		processedDevices: make(map[string]bool),
		processedProps:   make(map[string]time.Time),
	}
}

// Connect starts scanning after the start delay.
func (w *Periodic) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil
	}

	clear(w.processedDevices)
	clear(w.processedProps)
	w.devices = nil
	w.devicesAt = time.Time{}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)

	w.logDebug("periodic writer connected", "start_delay", w.startDelay)
	return nil
}

// Disconnect stops scanning and waits for the loop to exit.
func (w *Periodic) Disconnect() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.logDebug("periodic writer disconnected")
}

func (w *Periodic) run(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.startDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.handleCommunication(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleCommunication enqueues at most one write. It reports whether a
// write was enqueued.
func (w *Periodic) handleCommunication(ctx context.Context) bool {
	devices := w.loadDevices(ctx)
	for i := range devices {
		dev := &devices[i]
		if w.processedDevices[dev.ID] {
			continue
		}
		if w.states.ConnectionState(ctx, dev.ID) != device.StateConnected {
			continue
		}

		w.processedDevices[dev.ID] = true
		if w.writeProperty(ctx, dev) {
			return true
		}
	}

	clear(w.processedDevices)
	return false
}

func (w *Periodic) loadDevices(ctx context.Context) []device.Device {
	now := w.now()
	if w.devices != nil && now.Sub(w.devicesAt) < deviceRefreshInterval {
		return w.devices
	}

	devices, err := w.repo.ListDevices(ctx, w.connector.ID)
	if err != nil {
		if ctx.Err() == nil {
			w.logError("loading devices failed", err)
		}
		return w.devices
	}
	if devices == nil {
		devices = []device.Device{}
	}
	w.devices = devices
	w.devicesAt = now
	return w.devices
}

// writeProperty enqueues the first due write among the properties of dev.
func (w *Periodic) writeProperty(ctx context.Context, dev *device.Device) bool {
	props, err := w.properties(ctx, dev)
	if err != nil {
		if ctx.Err() == nil {
			w.logError("loading device properties failed", err, "device", dev.Identifier)
		}
		return false
	}

	now := w.now()
	for i := range props {
		prop := &props[i]
		if !prop.IsDynamic() || !prop.Settable {
			continue
		}

		st, err := w.states.ReadState(ctx, prop.ID)
		if err != nil {
			w.logError("reading property state failed", err, "property", prop.ID)
			continue
		}
		if st.Expected == nil || !st.Pending.IsPending() {
			continue
		}

		if last, ok := w.processedProps[prop.ID]; ok && now.Sub(last) < w.debounce {
			continue
		}
		delete(w.processedProps, prop.ID)

		since, stamped := st.Pending.Since()
		if st.Pending.IsTrue() || (stamped && now.Sub(since) > w.pendingDelay) {
			w.processedProps[prop.ID] = now
			w.queue.Append(writeMessage(w.connector.ID, prop, st))
			w.logDebug("property write enqueued", "device", dev.Identifier, "property", prop.Identifier)
			return true
		}
	}
	return false
}

// properties returns the device-level and channel properties of dev.
func (w *Periodic) properties(ctx context.Context, dev *device.Device) ([]device.Property, error) {
	props, err := w.repo.ListDeviceProperties(ctx, dev.ID)
	if err != nil {
		return nil, err
	}

	channels, err := w.repo.ListChannels(ctx, dev.ID)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		chProps, err := w.repo.ListChannelProperties(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		props = append(props, chProps...)
	}
	return props, nil
}
