package writers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/mqtt"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
)

// Exchange turns write requests published on the MQTT property exchange
// tree into queue write messages.
//
// An exchange payload looks like
//
//	{"device": "<id>", "channel": "<id>", "state": {"expected_value": "on", "pending": true}}
//
// with the connector identifier and the property taken from the topic.
// The channel is omitted for device-level properties. Requests for other
// connectors are ignored. A request is copied into the local state store
// before the write is enqueued so the write consumer sees it.
type Exchange struct {
	base
	bus Subscriber
	qos byte

	mu         sync.Mutex
	subscribed bool
}

// NewExchange creates an exchange writer. deps.Bus must be set.
func NewExchange(deps Deps) *Exchange {
	return &Exchange{base: newBase(deps), bus: deps.Bus, qos: deps.QoS}
}

// Connect subscribes to the exchange tree.
func (w *Exchange) Connect(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscribed {
		return nil
	}
	if err := w.bus.Subscribe(mqtt.Topics{}.AllPropertyExchange(), w.qos, w.handle); err != nil {
		return fmt.Errorf("subscribing to property exchange: %w", err)
	}
	w.subscribed = true
	w.logDebug("exchange writer connected")
	return nil
}

// Disconnect removes the subscription.
func (w *Exchange) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.subscribed {
		return
	}
	w.subscribed = false
	if err := w.bus.Unsubscribe(mqtt.Topics{}.AllPropertyExchange()); err != nil {
		w.logWarn("unsubscribing from property exchange failed", "error", err)
	}
	w.logDebug("exchange writer disconnected")
}

func (w *Exchange) handle(topic string, payload []byte) error {
	connector, propertyID, ok := mqtt.Topics{}.ParsePropertyExchange(topic)
	if !ok || connector != w.connector.Identifier {
		return nil
	}

	msg, req, err := decodeExchange(w.connector.ID, propertyID, payload)
	if err != nil {
		return err
	}
	if req == nil || !isWriteRequest(req.ExpectedValue, req.Pending) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	prop, err := w.ownedProperty(ctx, propertyID)
	if err != nil {
		if errors.Is(err, errForeignProperty) {
			w.logDebug("exchange request for unknown property", "property", propertyID)
			return nil
		}
		return err
	}
	if !prop.Settable {
		w.logWarn("write requested for read-only property", "property", prop.Identifier)
		return nil
	}
	if deviceOf(msg) != prop.DeviceID {
		return fmt.Errorf("%w: property %s does not belong to device %s", ErrInvalidPayload, propertyID, deviceOf(msg))
	}

	local, err := w.states.ReadState(ctx, prop.ID)
	if err != nil {
		return fmt.Errorf("reading state of %s: %w", prop.ID, err)
	}
	if local.Pending.IsPending() && reflect.DeepEqual(local.Expected, req.ExpectedValue) {
		return nil
	}

	if _, err := w.states.WriteState(ctx, prop.ID,
		device.WithExpected(req.ExpectedValue), device.WithPending(device.PendingTrue())); err != nil {
		return fmt.Errorf("storing write request of %s: %w", prop.ID, err)
	}

	w.queue.Append(msg)
	w.logDebug("exchange write enqueued", "property", prop.Identifier)
	return nil
}

// decodeExchange builds the write message of an exchange payload.
func decodeExchange(connectorID, propertyID string, payload []byte) (queue.Message, *queue.PropertyStateRequest, error) {
	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if data == nil {
		return nil, nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	data["connector"] = connectorID
	data["property"] = propertyID

	kind := queue.TypeWriteDevicePropertyState
	if ch, _ := data["channel"].(string); ch != "" {
		kind = queue.TypeWriteChannelPropertyState
	}

	msg, err := queue.Build(kind, data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	switch m := msg.(type) {
	case *queue.WriteDevicePropertyState:
		return m, m.State, nil
	case *queue.WriteChannelPropertyState:
		return m, m.State, nil
	}
	return msg, nil, nil
}

func deviceOf(msg queue.Message) string {
	switch m := msg.(type) {
	case *queue.WriteDevicePropertyState:
		return m.DeviceID
	case *queue.WriteChannelPropertyState:
		return m.DeviceID
	}
	return ""
}
