package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/clients"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/uiid"
	"github.com/FastyBird/sonoff-connector-sub001/internal/writers"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LanTransport is the LAN client used for polling and discovery.
// *lan.Client implements it.
type LanTransport interface {
	clients.LanAPI
	clients.DiscoveryLanAPI
}

// CloudTransport is the cloud REST client used for polling and
// discovery. *cloud.Client implements it.
type CloudTransport interface {
	clients.CloudAPI
	clients.DiscoveryCloudAPI
}

// Bus is the MQTT exchange bus. *mqtt.Client implements it.
type Bus interface {
	writers.Subscriber
	writers.Publisher
	IsConnected() bool
}

// Options configures a Connector.
type Options struct {
	// Identifier and Name describe the connector entity. The entity is
	// created on first use.
	Identifier string
	Name       string

	Mode sonoff.ClientMode

	// WriterKind is the writer of standalone runs. Zero selects periodic.
	WriterKind writers.Kind

	HeartbeatDelay      time.Duration
	StateReadingDelay   time.Duration
	LanDiscoveryTimeout time.Duration

	Repository device.Repository
	States     *device.StateStore

	// Transports. Which ones are needed depends on Mode.
	Lan    LanTransport
	Cloud  CloudTransport
	Socket clients.SocketAPI

	// Bus enables the exchange writer, the state publisher and the
	// health report. Optional.
	Bus Bus
	QoS byte

	// Recorder is optional.
	Recorder queue.Recorder

	// Registry defaults to uiid.NewRegistry().
	Registry *uiid.Registry

	Version        string
	HealthInterval time.Duration

	// DrainInterval defaults to sonoff.ProcessingInterval.
	DrainInterval time.Duration

	Logger Logger
}

// Connector runs one Sonoff connector.
//
// Execute, Discover and Terminate may be called from any goroutine.
type Connector struct {
	opts Options

	queue         *queue.Queue
	consumers     *queue.Consumers
	writeConsumer *queue.WritePropertyConsumer

	mu        sync.Mutex
	entity    *device.Connector
	client    clients.Client
	writer    writers.Writer
	publisher *writers.StatePublisher
	health    *HealthReporter

	drainMu     sync.Mutex
	draining    bool
	stopping    bool
	drainCancel context.CancelFunc
	drainDone   chan struct{}

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a connector and registers the queue consumers.
func New(opts Options) (*Connector, error) {
	if opts.Identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidOptions)
	}
	if opts.Repository == nil || opts.States == nil {
		return nil, fmt.Errorf("%w: repository and state store are required", ErrInvalidOptions)
	}
	if opts.Name == "" {
		opts.Name = opts.Identifier
	}
	if opts.WriterKind == "" {
		opts.WriterKind = writers.KindPeriodic
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = sonoff.ProcessingInterval
	}
	if opts.Registry == nil {
		opts.Registry = uiid.NewRegistry()
	}

	q := queue.New()
	deps := queue.Deps{
		Repository: opts.Repository,
		States:     opts.States,
		Queue:      q,
		Recorder:   opts.Recorder,
		Logger:     opts.Logger,
	}

	c := &Connector{
		opts:          opts,
		queue:         q,
		consumers:     queue.NewConsumers(q, opts.Logger),
		writeConsumer: queue.NewWriteProperty(deps, nil),
		logger:        opts.Logger,
	}
	c.consumers.Register(queue.NewStoreDevice(deps))
	c.consumers.Register(queue.NewStoreConnectionState(deps))
	c.consumers.Register(queue.NewStoreParameters(deps))
	c.consumers.Register(c.writeConsumer)
	return c, nil
}

// SetLogger sets the logger.
func (c *Connector) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
	c.consumers.SetLogger(logger)
}

// Queue returns the message queue of the connector.
func (c *Connector) Queue() *queue.Queue {
	return c.queue
}

// Entity returns the connector entity, creating it when missing.
func (c *Connector) Entity(ctx context.Context) (*device.Connector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureEntity(ctx)
}

// Running reports whether a client is running.
func (c *Connector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

// Execute connects the client of the configured mode and the writer and
// starts draining the queue. It returns once everything is started.
//
// Standalone runs use the configured writer kind; otherwise requests are
// made in-process and the event writer is used.
func (c *Connector) Execute(ctx context.Context, standalone bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return ErrAlreadyRunning
	}

	entity, err := c.ensureEntity(ctx)
	if err != nil {
		return err
	}

	client, err := clients.New(c.opts.Mode, clients.Deps{
		Connector:         entity,
		Repository:        c.opts.Repository,
		States:            c.opts.States,
		Queue:             c.queue,
		Registry:          c.opts.Registry,
		Lan:               c.opts.Lan,
		Cloud:             c.opts.Cloud,
		Socket:            c.opts.Socket,
		HeartbeatDelay:    c.opts.HeartbeatDelay,
		StateReadingDelay: c.opts.StateReadingDelay,
		Logger:            c.opts.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating %s client: %w", c.opts.Mode, err)
	}

	kind := writers.KindEvent
	if standalone {
		kind = c.opts.WriterKind
	}
	writer, err := writers.New(kind, c.writerDeps(entity))
	if err != nil {
		return fmt.Errorf("creating %s writer: %w", kind, err)
	}

	c.writeConsumer.SetWriter(client)
	c.startDrain()

	if err := client.Connect(ctx); err != nil {
		c.writeConsumer.SetWriter(nil)
		c.requestDrainStop()
		return fmt.Errorf("connecting %s client: %w", c.opts.Mode, err)
	}
	if err := writer.Connect(ctx); err != nil {
		client.Disconnect()
		c.writeConsumer.SetWriter(nil)
		c.requestDrainStop()
		return fmt.Errorf("connecting %s writer: %w", kind, err)
	}

	c.client = client
	c.writer = writer

	if err := c.opts.States.SetConnectionState(ctx, entity.ID, device.StateRunning); err != nil {
		c.logWarn("storing connector state failed", "error", err)
	}

	if c.opts.Bus != nil {
		c.publisher = writers.NewStatePublisher(c.writerDeps(entity), c.opts.Bus)
		c.publisher.SetLogger(c.opts.Logger)
		c.publisher.Start()

		c.health = NewHealthReporter(HealthReporterConfig{
			Connector: entity.Identifier,
			Mode:      string(c.opts.Mode),
			Version:   c.opts.Version,
			Interval:  c.opts.HealthInterval,
			Publisher: c.opts.Bus,
			Stats:     c.Stats,
		})
		c.health.SetLogger(c.opts.Logger)
		c.health.Start(context.WithoutCancel(ctx))
	}

	c.logInfo("connector started", "mode", c.opts.Mode, "writer", kind)
	return nil
}

// Discover runs a one-shot discovery and returns the number of devices
// found. Found devices are stored while the queue drains; the host
// should wait for HasUnfinishedTasks before exiting.
func (c *Connector) Discover(ctx context.Context) (int, error) {
	c.mu.Lock()
	entity, err := c.ensureEntity(ctx)
	running := c.client != nil
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if c.opts.Cloud == nil {
		return 0, ErrNoCloud
	}

	c.startDrain()
	defer func() {
		if !running {
			c.requestDrainStop()
		}
	}()

	discovery := clients.NewDiscovery(clients.DiscoveryOptions{
		Connector:  entity,
		Mode:       c.opts.Mode,
		Queue:      c.queue,
		Cloud:      c.opts.Cloud,
		Lan:        c.opts.Lan,
		LanTimeout: c.opts.LanDiscoveryTimeout,
		Registry:   c.opts.Registry,
		Logger:     c.opts.Logger,
	})

	found, err := discovery.Discover(ctx)
	if err != nil {
		return 0, err
	}
	c.logInfo("discovery finished", "devices", found)
	return found, nil
}

// Terminate disconnects the writer and the client. The queue drain keeps
// running until the queue is empty.
func (c *Connector) Terminate() {
	c.mu.Lock()
	client, writer := c.client, c.writer
	publisher, health := c.publisher, c.health
	entity := c.entity
	c.client, c.writer, c.publisher, c.health = nil, nil, nil, nil
	c.mu.Unlock()

	if writer != nil {
		writer.Disconnect()
	}
	if publisher != nil {
		publisher.Stop()
	}
	// Detach the client first so writes failing during shutdown are not
	// reported as device failures.
	c.writeConsumer.SetWriter(nil)
	if client != nil {
		client.Disconnect()
	}
	c.writeConsumer.Wait()

	if entity != nil && client != nil {
		if err := c.opts.States.SetConnectionState(context.Background(), entity.ID, device.StateStopped); err != nil {
			c.logWarn("storing connector state failed", "error", err)
		}
	}

	if health != nil {
		health.Stop()
	}

	c.requestDrainStop()

	if client != nil {
		c.logInfo("connector stopped", "queued", c.queue.Len())
	}
}

// HasUnfinishedTasks reports whether queued messages are still being
// drained.
func (c *Connector) HasUnfinishedTasks() bool {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	return c.draining && !c.queue.IsEmpty()
}

// Stats returns the health statistics of the connector.
func (c *Connector) Stats(ctx context.Context) HealthStats {
	c.mu.Lock()
	entity := c.entity
	stats := HealthStats{Running: c.client != nil}
	c.mu.Unlock()

	stats.QueueLength = c.queue.Len()
	if entity == nil {
		return stats
	}

	devices, err := c.opts.Repository.ListDevices(ctx, entity.ID)
	if err != nil {
		c.logError("loading devices failed", err)
		return stats
	}
	stats.Devices = len(devices)
	for _, dev := range devices {
		switch c.opts.States.ConnectionState(ctx, dev.ID) {
		case device.StateConnected:
			stats.Connected++
		case device.StateAlert:
			stats.Alert++
		case device.StateDisconnected, device.StateLost:
			stats.Disconnected++
		}
	}
	return stats
}

// ensureEntity loads or creates the connector entity. c.mu must be held.
func (c *Connector) ensureEntity(ctx context.Context) (*device.Connector, error) {
	if c.entity != nil {
		return c.entity, nil
	}

	entity, err := c.opts.Repository.FindConnector(ctx, c.opts.Identifier)
	switch {
	case errors.Is(err, device.ErrConnectorNotFound):
		entity = &device.Connector{Identifier: c.opts.Identifier}
	case err != nil:
		return nil, fmt.Errorf("loading connector %s: %w", c.opts.Identifier, err)
	}

	if entity.ID == "" || entity.Name != c.opts.Name || entity.Mode != string(c.opts.Mode) {
		entity.Name = c.opts.Name
		entity.Mode = string(c.opts.Mode)
		if err := c.opts.Repository.SaveConnector(ctx, entity); err != nil {
			return nil, fmt.Errorf("saving connector %s: %w", c.opts.Identifier, err)
		}
	}

	c.entity = entity
	return entity, nil
}

func (c *Connector) writerDeps(entity *device.Connector) writers.Deps {
	deps := writers.Deps{
		Connector:  entity,
		Repository: c.opts.Repository,
		States:     c.opts.States,
		Queue:      c.queue,
		Events:     c.opts.States,
		QoS:        c.opts.QoS,
		Logger:     c.opts.Logger,
	}
	if c.opts.Bus != nil {
		deps.Bus = c.opts.Bus
	}
	return deps
}

// --- queue drain ---

func (c *Connector) startDrain() {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	c.stopping = false
	if c.draining {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.draining = true
	c.drainCancel = cancel
	c.drainDone = done

	go c.drain(ctx, done)
}

func (c *Connector) drain(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.opts.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.consumers.Consume(ctx)

		if c.drainFinished(ctx) {
			return
		}
	}
}

// drainFinished stops the drain once a stop was requested and the queue
// ran empty.
func (c *Connector) drainFinished(ctx context.Context) bool {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	if ctx.Err() != nil {
		return true
	}
	if !c.stopping || !c.queue.IsEmpty() {
		return false
	}
	c.stopDrainLocked()
	c.logDebug("queue drained, drain loop stopped")
	return true
}

// requestDrainStop stops the drain now when the queue is empty, otherwise
// once it empties.
func (c *Connector) requestDrainStop() {
	c.drainMu.Lock()
	if !c.draining {
		c.drainMu.Unlock()
		return
	}
	c.stopping = true
	if !c.queue.IsEmpty() {
		c.drainMu.Unlock()
		return
	}
	done := c.drainDone
	c.stopDrainLocked()
	c.drainMu.Unlock()

	<-done
}

func (c *Connector) stopDrainLocked() {
	c.draining = false
	c.stopping = false
	if c.drainCancel != nil {
		c.drainCancel()
		c.drainCancel = nil
	}
}

// --- logging ---

func (c *Connector) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Connector) logDebug(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, append([]any{"connector", c.opts.Identifier}, args...)...)
	}
}

func (c *Connector) logInfo(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, append([]any{"connector", c.opts.Identifier}, args...)...)
	}
}

func (c *Connector) logWarn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, append([]any{"connector", c.opts.Identifier}, args...)...)
	}
}

func (c *Connector) logError(msg string, err error, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, append([]any{"connector", c.opts.Identifier, "error", err}, args...)...)
	}
}
