package clients

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/cloud"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/lan"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/uiid"
)

// DefaultLanDiscoveryTimeout is how long announcements are collected.
const DefaultLanDiscoveryTimeout = 60 * time.Second

// DiscoveryCloudAPI lists account devices. *cloud.Client implements it.
type DiscoveryCloudAPI interface {
	Login(ctx context.Context) error
	GetHomes(ctx context.Context) (*cloud.Family, error)
	GetHomeThings(ctx context.Context, familyID string) (*cloud.Things, error)
}

// DiscoveryLanAPI collects LAN announcements. *lan.Client implements it.
type DiscoveryLanAPI interface {
	Discover(ctx context.Context, timeout time.Duration) (map[string]lan.Address, error)
}

// DiscoveryOptions configures a Discovery.
type DiscoveryOptions struct {
	Connector *device.Connector
	Mode      sonoff.ClientMode
	Queue     *queue.Queue

	Cloud DiscoveryCloudAPI

	// Lan is used in the lan and auto modes; nil skips the LAN listen.
	Lan DiscoveryLanAPI

	// LanTimeout defaults to DefaultLanDiscoveryTimeout.
	LanTimeout time.Duration

	// Registry defaults to uiid.NewRegistry().
	Registry *uiid.Registry

	Logger Logger
}

// Discovery finds the devices of the cloud account and emits a
// StoreDevice message for each supported one.
type Discovery struct {
	connector  *device.Connector
	mode       sonoff.ClientMode
	queue      *queue.Queue
	cloud      DiscoveryCloudAPI
	lan        DiscoveryLanAPI
	lanTimeout time.Duration
	registry   *uiid.Registry

	logger   Logger
	loggerMu sync.RWMutex
}

// NewDiscovery creates a discovery job.
func NewDiscovery(opts DiscoveryOptions) *Discovery {
	d := &Discovery{
		connector:  opts.Connector,
		mode:       opts.Mode,
		queue:      opts.Queue,
		cloud:      opts.Cloud,
		lan:        opts.Lan,
		lanTimeout: opts.LanTimeout,
		registry:   opts.Registry,
		logger:     opts.Logger,
	}
	if d.lanTimeout <= 0 {
		d.lanTimeout = DefaultLanDiscoveryTimeout
	}
	if d.registry == nil {
		d.registry = uiid.NewRegistry()
	}
	return d
}

// SetLogger sets the logger.
func (d *Discovery) SetLogger(l Logger) {
	d.loggerMu.Lock()
	defer d.loggerMu.Unlock()
	d.logger = l
}

// Discover runs the discovery and returns the number of devices emitted.
// The LAN listen, when enabled, runs alongside the cloud listing and
// always completes before devices are emitted. A cloud failure aborts
// the whole run with ErrDiscoveryFailed.
func (d *Discovery) Discover(ctx context.Context) (int, error) {
	if d.cloud == nil {
		return 0, fmt.Errorf("%w: cloud client is not configured", ErrDiscoveryFailed)
	}

	var (
		things *cloud.Things
		local  map[string]lan.Address
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t, err := d.discoverCloud(gctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
		}
		things = t
		return nil
	})

	if d.lan != nil && d.mode.UsesLan() {
		g.Go(func() error {
			d.logDebug("starting lan devices discovery", "timeout", d.lanTimeout)
			found, err := d.lan.Discover(gctx, d.lanTimeout)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logWarn("lan discovery failed", "error", err)
			}
			local = found
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		d.logError("discovery failed", err)
		return 0, err
	}

	emitted := 0
	for i := range things.Devices {
		dev := &things.Devices[i]
		msg, err := d.storeDevice(dev, local)
		if err != nil {
			d.logWarn("device skipped", "device", dev.DeviceID, "uiid", dev.Extra.UIID, "error", err)
			continue
		}
		d.queue.Append(msg)
		emitted++
	}

	d.logInfo("discovery finished", "cloud_devices", len(things.Devices), "lan_devices", len(local), "emitted", emitted)
	return emitted, nil
}

func (d *Discovery) discoverCloud(ctx context.Context) (*cloud.Things, error) {
	d.logDebug("starting cloud devices discovery")

	if err := d.cloud.Login(ctx); err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	family, err := d.cloud.GetHomes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading homes: %w", err)
	}
	home, ok := family.Current()
	if !ok {
		return nil, fmt.Errorf("%w: account has no home", sonoff.ErrInvalidState)
	}

	things, err := d.cloud.GetHomeThings(ctx, home.ID)
	if err != nil {
		return nil, fmt.Errorf("loading devices of home %s: %w", home.ID, err)
	}
	return things, nil
}

// storeDevice builds the StoreDevice message of a cloud device, merging
// the announced LAN address when there is one.
func (d *Discovery) storeDevice(dev *cloud.Device, local map[string]lan.Address) (*queue.StoreDevice, error) {
	params, err := d.parameters(dev)
	if err != nil {
		return nil, err
	}

	name := dev.Name
	if name == "" {
		name = dev.DeviceID
	}

	msg := &queue.StoreDevice{
		ConnectorID:   d.connector.ID,
		Identifier:    dev.DeviceID,
		Name:          name,
		Description:   optional(dev.Extra.Description),
		APIKey:        dev.APIKey,
		DeviceKey:     optional(dev.DeviceKey),
		UIID:          dev.Extra.UIID,
		BrandName:     optional(dev.BrandName),
		BrandLogo:     optional(dev.BrandLogo),
		ProductModel:  optional(dev.ProductModel),
		HardwareModel: optional(dev.Extra.Model),
		MACAddress:    optional(dev.Extra.MAC),
		Parameters:    params,
	}

	if addr, ok := local[dev.DeviceID]; ok {
		port := addr.Port
		msg.IPAddress = optional(addr.IPAddress)
		msg.Domain = optional(addr.Domain)
		msg.Port = &port
	}
	return msg, nil
}

// parameters expands the UIID mapping of dev into property descriptors.
func (d *Discovery) parameters(dev *cloud.Device) ([]queue.DeviceParameter, error) {
	id := dev.Extra.UIID

	if err := d.registry.Validate(id, dev.Params); err != nil {
		return nil, err
	}
	mapping, err := d.registry.Mapping(id)
	if err != nil {
		return nil, err
	}

	denied := make(map[string]bool, len(dev.DenyFeatures))
	for _, f := range dev.DenyFeatures {
		denied[f] = true
	}

	var out []queue.DeviceParameter
	for _, entry := range mapping.Entries {
		if entry.Identifier == sonoff.GroupRFList {
			d.logDebug("rf list is not supported", "device", dev.DeviceID)
			continue
		}
		if denied[entry.Identifier] {
			continue
		}

		if entry.IsGroup() {
			count := outletCount(entry, dev.Params)
			for i := 0; i < count; i++ {
				for _, sub := range entry.Properties {
					group := sub.Group
					if group == "" {
						group = sub.Identifier
					}
					out = append(out, deviceParameter(sub.Identifier, fmt.Sprintf("%s_%d", group, i), sub.Descriptor))
				}
			}
			continue
		}

		if entry.Identifier == sonoff.ParameterStatusLed && denied["sled"] {
			continue
		}
		group := entry.Descriptor.Group
		if group == "" {
			group = entry.Identifier
		}
		out = append(out, deviceParameter(entry.Identifier, group, *entry.Descriptor))
	}
	return out, nil
}

// outletCount returns how many outlets a group entry expands to: the
// live length of switches, configure or pulses, in that order, else the
// mapping length.
func outletCount(entry uiid.Entry, params map[string]any) int {
	for _, key := range []string{sonoff.GroupSwitches, sonoff.GroupConfigure, sonoff.GroupPulses} {
		if list, ok := params[key].([]any); ok {
			return len(list)
		}
	}
	return entry.Length
}

func deviceParameter(identifier, group string, desc uiid.Descriptor) queue.DeviceParameter {
	p := queue.DeviceParameter{
		Type:       queue.ParameterType(desc.Type),
		Identifier: identifier,
		Name:       desc.Name,
		DataType:   device.DataType(desc.DataType),
		Format:     desc.Format,
		Settable:   desc.Settable,
		Queryable:  desc.Queryable,
		Scale:      desc.Scale,
	}
	if p.Type == queue.ParameterChannel {
		p.Group = group
	}
	return p
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (d *Discovery) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}

func (d *Discovery) logDebug(msg string, args ...any) {
	if l := d.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

func (d *Discovery) logInfo(msg string, args ...any) {
	if l := d.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (d *Discovery) logWarn(msg string, args ...any) {
	if l := d.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (d *Discovery) logError(msg string, err error, args ...any) {
	if l := d.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, args...)...)
	}
}
