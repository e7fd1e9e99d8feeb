package writers

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/mqtt"
)

// Publisher publishes to the exchange bus. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// exchangeState is the state object of an exchange payload.
type exchangeState struct {
	Actual   any            `json:"actual_value"`
	Expected any            `json:"expected_value"`
	Pending  device.Pending `json:"pending"`
	Valid    bool           `json:"valid"`
}

type exchangePayload struct {
	Device  string        `json:"device"`
	Channel string        `json:"channel,omitempty"`
	State   exchangeState `json:"state"`
}

// StatePublisher publishes state changes of the connector's properties
// to their exchange topics.
type StatePublisher struct {
	base
	events StateEvents
	bus    Publisher
	qos    byte

	cacheMu sync.Mutex
	cache   map[string]*device.Property

	mu          sync.Mutex
	unsubscribe func()
}

// NewStatePublisher creates a publisher. deps.Events must be set.
func NewStatePublisher(deps Deps, bus Publisher) *StatePublisher {
	return &StatePublisher{
		base:   newBase(deps),
		events: deps.Events,
		bus:    bus,
		qos:    deps.QoS,
		cache:  make(map[string]*device.Property),
	}
}

// Start subscribes to state changes.
func (p *StatePublisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe == nil {
		p.unsubscribe = p.events.Subscribe(p.handle)
	}
}

// Stop removes the subscription.
func (p *StatePublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *StatePublisher) handle(ev device.PropertyStateEvent) {
	if sameState(ev.Previous, ev.Current) {
		return
	}

	prop, err := p.property(ev.PropertyID)
	if err != nil {
		if !errors.Is(err, errForeignProperty) {
			p.logError("loading property failed", err, "property", ev.PropertyID)
		}
		return
	}

	payload, err := json.Marshal(exchangePayload{
		Device:  prop.DeviceID,
		Channel: prop.ChannelID,
		State: exchangeState{
			Actual:   ev.Current.Actual,
			Expected: ev.Current.Expected,
			Pending:  ev.Current.Pending,
			Valid:    ev.Current.Valid,
		},
	})
	if err != nil {
		p.logError("encoding property state failed", err, "property", prop.ID)
		return
	}

	topic := mqtt.Topics{}.PropertyExchange(p.connector.Identifier, prop.ID)
	if err := p.bus.Publish(topic, payload, p.qos, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			p.logDebug("property state not published, broker unavailable", "property", prop.ID)
			return
		}
		p.logWarn("publishing property state failed", "property", prop.ID, "error", err)
	}
}

func (p *StatePublisher) property(id string) (*device.Property, error) {
	p.cacheMu.Lock()
	prop, ok := p.cache[id]
	p.cacheMu.Unlock()
	if ok {
		return prop, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	prop, err := p.ownedProperty(ctx, id)
	if err != nil {
		return nil, err
	}

	p.cacheMu.Lock()
	p.cache[id] = prop
	p.cacheMu.Unlock()
	return prop, nil
}

// sameState compares the published fields of two states.
func sameState(a, b device.PropertyState) bool {
	return a.Valid == b.Valid &&
		a.Pending.Equal(b.Pending) &&
		reflect.DeepEqual(a.Actual, b.Actual) &&
		reflect.DeepEqual(a.Expected, b.Expected)
}
