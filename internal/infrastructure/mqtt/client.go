package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/config"
)

// Connector status states published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Status is the retained payload of the connector status topic.
type Status struct {
	State     string    `json:"state"`
	Connector string    `json:"connector"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger is the logging interface the client reports through.
// *logging.Logger implements it.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MessageHandler receives one message. Returned errors are logged; the
// message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the exchange bus connection of one connector.
//
// The connector's status topic holds "online" while the client is
// connected; a clean Close replaces it with "offline" and the broker
// publishes the Last Will when the connection dies. Subscriptions are
// restored after every reconnect.
type Client struct {
	client pahomqtt.Client

	connector   string
	clientID    string
	statusTopic string
	qos         byte

	connected atomic.Bool

	subs  map[string]subscription
	subMu sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect connects to the broker on behalf of connector, whose
// identifier names the status topic.
//
// Connect blocks until the first connection succeeds or
// defaultConnectTimeout passes. Later connection losses are handled by
// paho's auto-reconnect.
func Connect(cfg config.MQTTConfig, connector string) (*Client, error) {
	if connector == "" {
		return nil, fmt.Errorf("%w: connector identifier is required", ErrConnectionFailed)
	}

	c := &Client{
		connector:   connector,
		clientID:    clientID(cfg, connector),
		statusTopic: Topics{}.ConnectorStatus(connector),
		qos:         byte(cfg.QoS),
		subs:        make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	opts.SetClientID(c.clientID)
	configureLWT(opts, c.statusTopic, c.status(StatusOffline, "connection_lost"))

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logDebug("MQTT reconnecting", "broker", cfg.Broker.Host)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The connect handler runs asynchronously; report connected from
	// here on even if it has not run yet.
	c.connected.Store(true)

	return c, nil
}

// clientID defaults to "sonoff-<connector>" so several connectors can
// share a broker.
func clientID(cfg config.MQTTConfig, connector string) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return "sonoff-" + connector
}

func (c *Client) status(state, reason string) []byte {
	payload, _ := json.Marshal(Status{
		State:     state,
		Connector: c.connector,
		ClientID:  c.clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	return payload
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.resubscribe()
	c.client.Publish(c.statusTopic, c.qos, true, c.status(StatusOnline, ""))

	c.callbackMu.RLock()
	fn := c.onConnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)

	c.callbackMu.RLock()
	fn := c.onDisconnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// resubscribe restores tracked subscriptions after a reconnect. The broker
// drops them because sessions are clean.
func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subs {
		token := c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if err := await(token, defaultPublishTimeout, ErrSubscribeFailed); err != nil {
				c.logWarn("restoring MQTT subscription failed", "topic", topic, "error", err)
			}
		}(topic)
	}
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic, c.qos, true, c.status(StatusOffline, "shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(disconnectQuiesceMillis)
	c.connected.Store(false)

	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers a callback run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.callbackMu.Lock()
	c.onConnect = fn
	c.callbackMu.Unlock()
}

// SetOnDisconnect registers a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = fn
	c.callbackMu.Unlock()
}

// SetLogger sets the logger. Without one, handler errors are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) logDebug(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Error(msg, args...)
	}
}

// wrapHandler adapts a MessageHandler to paho. A panicking handler is
// logged and does not take the paho router down.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logError("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logWarn("MQTT message rejected", "topic", msg.Topic(), "error", err)
		}
	}
}

// await waits for a paho token and wraps its failure in sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %w after %v", sentinel, ErrTimeout, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
