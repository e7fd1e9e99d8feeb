package writers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/mqtt"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
)

// Kind names a writer implementation.
type Kind string

// Writer kinds.
const (
	KindPeriodic Kind = "periodic"
	KindEvent    Kind = "event"
	KindExchange Kind = "exchange"
)

// lookupTimeout bounds repository lookups made from callbacks.
const lookupTimeout = 5 * time.Second

// Writer watches for requested property writes of one connector.
type Writer interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateEvents delivers property state changes. *device.StateStore
// implements it.
type StateEvents interface {
	Subscribe(fn func(device.PropertyStateEvent)) (unsubscribe func())
}

// Subscriber is the exchange bus. *mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Deps groups the collaborators of the writers.
type Deps struct {
	Connector  *device.Connector
	Repository device.Repository
	States     device.StateManager
	Queue      *queue.Queue

	// Events is required by the event writer.
	Events StateEvents

	// Bus is required by the exchange writer.
	Bus Subscriber
	QoS byte

	Logger Logger
}

// New creates a writer of the given kind.
func New(kind Kind, deps Deps) (Writer, error) {
	if deps.Connector == nil || deps.Repository == nil || deps.States == nil || deps.Queue == nil {
		return nil, fmt.Errorf("%w: connector, repository, states and queue are required", ErrMissingDependency)
	}

	switch kind {
	case KindPeriodic:
		return NewPeriodic(deps), nil
	case KindEvent:
		if deps.Events == nil {
			return nil, fmt.Errorf("%w: event writer needs state events", ErrMissingDependency)
		}
		return NewEvent(deps), nil
	case KindExchange:
		if deps.Bus == nil {
			return nil, fmt.Errorf("%w: exchange writer needs the mqtt bus", ErrMissingDependency)
		}
		return NewExchange(deps), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// isWriteRequest reports whether a state asks for a write that no device
// call was made for yet.
func isWriteRequest(expected any, pending device.Pending) bool {
	return expected != nil && pending.IsTrue()
}

// writeMessage builds the queue message that writes the expected value
// of prop.
func writeMessage(connectorID string, prop *device.Property, st device.PropertyState) queue.Message {
	req := &queue.PropertyStateRequest{ExpectedValue: st.Expected, Pending: st.Pending}
	if prop.ChannelID != "" {
		return &queue.WriteChannelPropertyState{
			ConnectorID: connectorID,
			DeviceID:    prop.DeviceID,
			ChannelID:   prop.ChannelID,
			PropertyID:  prop.ID,
			State:       req,
		}
	}
	return &queue.WriteDevicePropertyState{
		ConnectorID: connectorID,
		DeviceID:    prop.DeviceID,
		PropertyID:  prop.ID,
		State:       req,
	}
}

// base carries what all writers share.
type base struct {
	connector *device.Connector
	repo      device.Repository
	states    device.StateManager
	queue     *queue.Queue

	logger   Logger
	loggerMu sync.RWMutex
}

func newBase(deps Deps) base {
	return base{
		connector: deps.Connector,
		repo:      deps.Repository,
		states:    deps.States,
		queue:     deps.Queue,
		logger:    deps.Logger,
	}
}

// SetLogger sets the logger.
func (b *base) SetLogger(l Logger) {
	b.loggerMu.Lock()
	defer b.loggerMu.Unlock()
	b.logger = l
}

// ownedProperty loads a property and checks it belongs to a device of
// the writer's connector.
func (b *base) ownedProperty(ctx context.Context, propertyID string) (*device.Property, error) {
	prop, err := b.repo.GetProperty(ctx, propertyID)
	if err != nil {
		if errors.Is(err, device.ErrPropertyNotFound) {
			return nil, errForeignProperty
		}
		return nil, err
	}
	dev, err := b.repo.GetDevice(ctx, prop.DeviceID)
	if err != nil {
		return nil, err
	}
	if dev.ConnectorID != b.connector.ID {
		return nil, errForeignProperty
	}
	return prop, nil
}

func (b *base) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *base) logDebug(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Debug(msg, append([]any{"connector", b.connector.Identifier}, args...)...)
	}
}

func (b *base) logInfo(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Info(msg, append([]any{"connector", b.connector.Identifier}, args...)...)
	}
}

func (b *base) logWarn(msg string, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, append([]any{"connector", b.connector.Identifier}, args...)...)
	}
}

func (b *base) logError(msg string, err error, args ...any) {
	if l := b.getLogger(); l != nil {
		l.Error(msg, append([]any{"connector", b.connector.Identifier, "error", err}, args...)...)
	}
}
