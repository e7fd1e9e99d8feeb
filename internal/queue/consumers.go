package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/influxdb"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Consumer handles messages. Consume returns true when it claimed msg;
// claimed messages are not offered to later consumers.
type Consumer interface {
	Consume(ctx context.Context, msg Message) bool
}

// Recorder stores parameter history. *influxdb.Client implements it.
type Recorder interface {
	WriteParameterState(sample influxdb.ParameterSample)
	WriteConnectionState(deviceID, state string)
}

// Deps groups the collaborators of the built-in consumers.
type Deps struct {
	Repository device.Repository
	States     device.StateManager
	Queue      *Queue

	// Recorder is optional.
	Recorder Recorder

	Logger Logger
}

// Consumers drains a queue into the registered consumers.
//
// All methods are safe for concurrent use; Consume itself is meant to be
// called from a single draining loop so messages are handled one at a time.
type Consumers struct {
	queue *Queue

	mu        sync.RWMutex
	consumers []Consumer

	logger   Logger
	loggerMu sync.RWMutex
}

// NewConsumers creates a dispatcher reading from q.
func NewConsumers(q *Queue, logger Logger) *Consumers {
	return &Consumers{queue: q, logger: logger}
}

// Register appends a consumer. Consumers are offered messages in
// registration order.
func (c *Consumers) Register(consumer Consumer) {
	c.mu.Lock()
	c.consumers = append(c.consumers, consumer)
	c.mu.Unlock()
}

// SetLogger sets the logger.
func (c *Consumers) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Consume dequeues one message and offers it to the consumers until one
// claims it. It returns false when the queue was empty.
//
// A message nobody claims is logged and dropped.
func (c *Consumers) Consume(ctx context.Context) bool {
	msg, ok := c.queue.Dequeue()
	if !ok {
		return false
	}

	c.mu.RLock()
	consumers := make([]Consumer, len(c.consumers))
	copy(consumers, c.consumers)
	c.mu.RUnlock()

	if len(consumers) == 0 {
		c.logError("no consumers are registered, message dropped", "type", msg.Type())
		return true
	}

	for _, consumer := range consumers {
		if consumer.Consume(ctx, msg) {
			return true
		}
	}

	c.logError("message was not consumed", "type", msg.Type(), "connector", msg.Connector())
	return true
}

func (c *Consumers) logError(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, args...)
	}
}

// base carries the dependencies and logging helpers of the consumers.
type base struct {
	repo     device.Repository
	states   device.StateManager
	queue    *Queue
	recorder Recorder
	logger   Logger
}

func newBase(deps Deps) base {
	return base{
		repo:     deps.Repository,
		states:   deps.States,
		queue:    deps.Queue,
		recorder: deps.Recorder,
		logger:   deps.Logger,
	}
}

// findDevice loads the connector and the device with the given identifier.
func (b *base) findDevice(ctx context.Context, connectorID, identifier string) (*device.Device, error) {
	connector, err := b.repo.GetConnector(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	return b.repo.FindDevice(ctx, connector.ID, identifier)
}

// invalidateDevice marks every dynamic property of a device as invalid.
func (b *base) invalidateDevice(ctx context.Context, deviceID string) error {
	props, err := b.repo.ListDeviceProperties(ctx, deviceID)
	if err != nil {
		return err
	}

	channels, err := b.repo.ListChannels(ctx, deviceID)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		chProps, err := b.repo.ListChannelProperties(ctx, ch.ID)
		if err != nil {
			return err
		}
		props = append(props, chProps...)
	}

	var errs []error
	for i := range props {
		if !props[i].IsDynamic() {
			continue
		}
		if _, err := b.states.WriteState(ctx, props[i].ID, device.WithValid(false)); err != nil {
			errs = append(errs, fmt.Errorf("invalidating %s: %w", props[i].Identifier, err))
		}
	}
	return errors.Join(errs...)
}

func (b *base) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func (b *base) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *base) logError(msg string, err error, args ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append(args, "error", err)...)
	}
}
