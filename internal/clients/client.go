package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/cloud"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/lan"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/uiid"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LanAPI is the LAN transport. *lan.Client implements it.
type LanAPI interface {
	Connect(ctx context.Context) error
	Disconnect()
	SetOnMessage(fn func(lan.Event))
	RegisterDeviceKey(deviceID, key string)
	GetDeviceInfo(ctx context.Context, deviceID, ip string, port int) (*lan.DeviceInfo, error)
	SetDeviceState(ctx context.Context, deviceID, ip string, port int, parameter string, value any, group string, outlet *int) error
}

// CloudAPI is the cloud REST transport. *cloud.Client implements it.
type CloudAPI interface {
	Connect(ctx context.Context) error
	Disconnect()
	GetThing(ctx context.Context, deviceID string) (*cloud.Device, error)
	GetThingStatus(ctx context.Context, deviceID string) (*cloud.DeviceState, error)
	SetThingState(ctx context.Context, deviceID, parameter string, value any, group string, outlet *int) error
}

// SocketAPI is the cloud push transport. *cloud.WSClient implements it.
type SocketAPI interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	SetOnMessage(fn func(cloud.Event))
	SetOnDisconnected(fn func())
	SetOnError(fn func(error))
	ReadStates(ctx context.Context, deviceID, apiKey string) (map[string]any, error)
	WriteState(ctx context.Context, deviceID, apiKey, parameter string, value any, group string, outlet *int) error
}

// Client is a running device communication session of one connector.
//
// WriteState sends a property write using the transport policy of the
// client's mode; the write consumer calls it.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	queue.StateWriter
}

// Deps groups the collaborators of a client.
type Deps struct {
	Connector  *device.Connector
	Repository device.Repository
	States     device.StateManager
	Queue      *queue.Queue

	// Registry defaults to uiid.NewRegistry().
	Registry *uiid.Registry

	// Lan is required by the lan and auto modes.
	Lan LanAPI

	// Cloud is required by the cloud and auto modes.
	Cloud CloudAPI

	// Socket is optional. Without it the cloud is polled over REST only.
	Socket SocketAPI

	// HeartbeatDelay and StateReadingDelay are the default read
	// intervals. Zero selects sonoff.HeartbeatDelay and
	// sonoff.StateReadingDelay.
	HeartbeatDelay    time.Duration
	StateReadingDelay time.Duration

	// StartDelay postpones the first poll after Connect. Zero selects
	// two seconds.
	StartDelay time.Duration

	Logger Logger
}

// New creates the client of the given mode.
func New(mode sonoff.ClientMode, deps Deps) (Client, error) {
	if deps.Connector == nil || deps.Repository == nil || deps.States == nil || deps.Queue == nil {
		return nil, fmt.Errorf("%w: client dependencies are incomplete", sonoff.ErrInvalidState)
	}

	switch mode {
	case sonoff.ModeLan:
		if deps.Lan == nil {
			return nil, fmt.Errorf("%w: lan mode needs a lan client", ErrMissingTransport)
		}
		return NewLan(deps), nil

	case sonoff.ModeCloud:
		if deps.Cloud == nil {
			return nil, fmt.Errorf("%w: cloud mode needs a cloud client", ErrMissingTransport)
		}
		return NewCloud(deps), nil

	case sonoff.ModeAuto:
		if deps.Lan == nil || deps.Cloud == nil {
			return nil, fmt.Errorf("%w: auto mode needs lan and cloud clients", ErrMissingTransport)
		}
		return NewAuto(deps), nil

	case sonoff.ModeGateway:
		return nil, fmt.Errorf("%w: gateway client mode", sonoff.ErrNotImplemented)

	default:
		return nil, fmt.Errorf("%w: unknown client mode %q", sonoff.ErrInvalidState, mode)
	}
}
