package writers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device/devicetest"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/mqtt"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
)

// fakeBus records subscriptions and publications.
type fakeBus struct {
	mu         sync.Mutex
	handlers   map[string]mqtt.MessageHandler
	published  map[string][]byte
	publishErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]mqtt.MessageHandler{}, published: map[string][]byte{}}
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[topic] = payload
	return nil
}

func (b *fakeBus) handler(topic string) mqtt.MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[topic]
}

func (b *fakeBus) take() map[string][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.published
	b.published = map[string][]byte{}
	return out
}

type fixture struct {
	repo      *device.SQLiteRepository
	states    *device.StateStore
	queue     *queue.Queue
	connector *device.Connector

	dev     *device.Device
	channel *device.Channel
	relay   *device.Property // channel, settable
	led     *device.Property // device, settable
	rssi    *device.Property // device, read only
	foreign *device.Property // other connector
	bus     *fakeBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := devicetest.OpenRepository(t)
	f := &fixture{
		repo:      repo,
		states:    device.NewStateStore(),
		queue:     queue.New(),
		connector: devicetest.SeedConnector(t, repo, "sonoff"),
		bus:       newFakeBus(),
	}

	f.dev = devicetest.SeedDevice(t, repo, f.connector.ID, "1000aa")
	f.channel = devicetest.SeedChannel(t, repo, f.dev.ID, "switch_0")
	f.relay = devicetest.SeedProperty(t, repo, &device.Property{
		DeviceID: f.dev.ID, ChannelID: f.channel.ID, Identifier: "switch",
		DataType: device.DataTypeSwitch, Settable: true, Queryable: true,
	})
	f.led = devicetest.SeedProperty(t, repo, &device.Property{
		DeviceID: f.dev.ID, Identifier: "sledOnline",
		DataType: device.DataTypeSwitch, Settable: true,
	})
	f.rssi = devicetest.SeedProperty(t, repo, &device.Property{
		DeviceID: f.dev.ID, Identifier: "rssi", DataType: device.DataTypeInt,
	})

	other := devicetest.SeedConnector(t, repo, "other")
	otherDev := devicetest.SeedDevice(t, repo, other.ID, "2000aa")
	f.foreign = devicetest.SeedProperty(t, repo, &device.Property{
		DeviceID: otherDev.ID, Identifier: "sledOnline",
		DataType: device.DataTypeSwitch, Settable: true,
	})
	return f
}

func (f *fixture) deps() Deps {
	return Deps{
		Connector:  f.connector,
		Repository: f.repo,
		States:     f.states,
		Queue:      f.queue,
		Events:     f.states,
		Bus:        f.bus,
	}
}

func (f *fixture) request(t *testing.T, prop *device.Property, value any, pending device.Pending) {
	t.Helper()
	_, err := f.states.WriteState(context.Background(), prop.ID,
		device.WithExpected(value), device.WithPending(pending))
	require.NoError(t, err)
}

func drain(q *queue.Queue) []queue.Message {
	var out []queue.Message
	for {
		msg, ok := q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		kind    Kind
		mutate  func(d *Deps)
		want    any
		wantErr error
	}{
		{name: "periodic", kind: KindPeriodic, want: &Periodic{}},
		{name: "event", kind: KindEvent, want: &Event{}},
		{name: "exchange", kind: KindExchange, want: &Exchange{}},
		{name: "unknown", kind: "push", wantErr: ErrUnknownKind},
		{name: "no queue", kind: KindPeriodic, mutate: func(d *Deps) { d.Queue = nil }, wantErr: ErrMissingDependency},
		{name: "event without events", kind: KindEvent, mutate: func(d *Deps) { d.Events = nil }, wantErr: ErrMissingDependency},
		{name: "exchange without bus", kind: KindExchange, mutate: func(d *Deps) { d.Bus = nil }, wantErr: ErrMissingDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := f.deps()
			if tt.mutate != nil {
				tt.mutate(&deps)
			}

			w, err := New(tt.kind, deps)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, w)
		})
	}
}

func TestEventWriter(t *testing.T) {
	f := newFixture(t)
	w := NewEvent(f.deps())
	require.NoError(t, w.Connect(context.Background()))

	f.request(t, f.relay, "on", device.PendingTrue())

	msgs := drain(f.queue)
	require.Len(t, msgs, 1)
	msg, ok := msgs[0].(*queue.WriteChannelPropertyState)
	require.True(t, ok, "got %T", msgs[0])
	assert.Equal(t, f.connector.ID, msg.ConnectorID)
	assert.Equal(t, f.dev.ID, msg.DeviceID)
	assert.Equal(t, f.channel.ID, msg.ChannelID)
	assert.Equal(t, f.relay.ID, msg.PropertyID)
	assert.Equal(t, "on", msg.State.ExpectedValue)

	f.request(t, f.led, "off", device.PendingTrue())
	msgs = drain(f.queue)
	require.Len(t, msgs, 1)
	assert.IsType(t, &queue.WriteDevicePropertyState{}, msgs[0])

	// Stamped, read-only and foreign properties are not written.
	f.request(t, f.relay, "off", device.PendingSince(time.Now()))
	f.request(t, f.rssi, -40, device.PendingTrue())
	f.request(t, f.foreign, "on", device.PendingTrue())
	assert.Empty(t, drain(f.queue))

	w.Disconnect()
	f.request(t, f.relay, "on", device.PendingTrue())
	assert.Empty(t, drain(f.queue))
}

func TestPeriodicWriter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.states.SetConnectionState(ctx, f.dev.ID, device.StateConnected))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewPeriodic(f.deps())
	w.now = func() time.Time { return now }

	f.request(t, f.relay, "on", device.PendingTrue())

	require.True(t, w.handleCommunication(ctx))
	msgs := drain(f.queue)
	require.Len(t, msgs, 1)
	assert.Equal(t, f.relay.ID, msgs[0].(*queue.WriteChannelPropertyState).PropertyID)

	// The device was visited; the cycle ends and restarts.
	assert.False(t, w.handleCommunication(ctx))
	// The property is debounced.
	assert.False(t, w.handleCommunication(ctx))

	now = now.Add(600 * time.Millisecond)
	require.True(t, w.handleCommunication(ctx))
	drain(f.queue)
	w.handleCommunication(ctx)

	now = now.Add(time.Second)
	f.request(t, f.relay, "on", device.PendingSince(now.Add(-time.Second)))
	assert.False(t, w.handleCommunication(ctx), "recent write must not be repeated")
	w.handleCommunication(ctx)

	now = now.Add(2 * time.Second)
	require.True(t, w.handleCommunication(ctx), "write pending too long must be repeated")
	assert.Len(t, drain(f.queue), 1)
}

func TestPeriodicWriterSkipsDisconnected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.states.SetConnectionState(ctx, f.dev.ID, device.StateDisconnected))

	w := NewPeriodic(f.deps())
	f.request(t, f.relay, "on", device.PendingTrue())

	assert.False(t, w.handleCommunication(ctx))
	assert.True(t, f.queue.IsEmpty())
}

func TestPeriodicWriterRoundRobin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second := devicetest.SeedDevice(t, f.repo, f.connector.ID, "1000bb")
	secondLed := devicetest.SeedProperty(t, f.repo, &device.Property{
		DeviceID: second.ID, Identifier: "sledOnline", DataType: device.DataTypeSwitch, Settable: true,
	})
	for _, id := range []string{f.dev.ID, second.ID} {
		require.NoError(t, f.states.SetConnectionState(ctx, id, device.StateConnected))
	}

	w := NewPeriodic(f.deps())
	f.request(t, f.led, "on", device.PendingTrue())
	f.request(t, f.relay, "on", device.PendingTrue())
	f.request(t, secondLed, "off", device.PendingTrue())

	var order []string
	for range 2 {
		require.True(t, w.handleCommunication(ctx))
		msgs := drain(f.queue)
		require.Len(t, msgs, 1)
		order = append(order, msgs[0].(*queue.WriteDevicePropertyState).DeviceID)
	}
	assert.Equal(t, []string{f.dev.ID, second.ID}, order)
}

func TestPeriodicWriterLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.states.SetConnectionState(ctx, f.dev.ID, device.StateConnected))
	f.request(t, f.led, "on", device.PendingTrue())

	w := NewPeriodic(f.deps())
	w.startDelay = time.Millisecond
	w.interval = time.Millisecond

	require.NoError(t, w.Connect(ctx))
	require.Eventually(t, func() bool { return !f.queue.IsEmpty() }, 2*time.Second, 5*time.Millisecond)
	w.Disconnect()
	w.Disconnect()
}

func TestExchangeWriter(t *testing.T) {
	f := newFixture(t)
	w := NewExchange(f.deps())
	require.NoError(t, w.Connect(context.Background()))

	handle := f.bus.handler(mqtt.Topics{}.AllPropertyExchange())
	require.NotNil(t, handle)

	topic := mqtt.Topics{}.PropertyExchange(f.connector.Identifier, f.relay.ID)
	payload := []byte(`{"device":"` + f.dev.ID + `","channel":"` + f.channel.ID + `",
		"state":{"actual_value":"off","expected_value":"on","pending":true}}`)

	require.NoError(t, handle(topic, payload))

	st, err := f.states.ReadState(context.Background(), f.relay.ID)
	require.NoError(t, err)
	assert.Equal(t, "on", st.Expected)
	assert.True(t, st.Pending.IsTrue())

	msgs := drain(f.queue)
	require.Len(t, msgs, 1)
	msg := msgs[0].(*queue.WriteChannelPropertyState)
	assert.Equal(t, f.relay.ID, msg.PropertyID)
	assert.Equal(t, f.channel.ID, msg.ChannelID)

	// The same request again is already pending.
	require.NoError(t, handle(topic, payload))
	assert.True(t, f.queue.IsEmpty())

	t.Run("ignored", func(t *testing.T) {
		cases := map[string]struct {
			topic   string
			payload string
		}{
			"other connector": {mqtt.Topics{}.PropertyExchange("elsewhere", f.relay.ID), string(payload)},
			"not pending":     {mqtt.Topics{}.PropertyExchange(f.connector.Identifier, f.led.ID), `{"device":"` + f.dev.ID + `","state":{"expected_value":"on","pending":false}}`},
			"no request":      {mqtt.Topics{}.PropertyExchange(f.connector.Identifier, f.led.ID), `{"device":"` + f.dev.ID + `"}`},
			"read only":       {mqtt.Topics{}.PropertyExchange(f.connector.Identifier, f.rssi.ID), `{"device":"` + f.dev.ID + `","state":{"expected_value":1,"pending":true}}`},
			"unknown":         {mqtt.Topics{}.PropertyExchange(f.connector.Identifier, "missing"), `{"device":"` + f.dev.ID + `","state":{"expected_value":1,"pending":true}}`},
			"foreign":         {mqtt.Topics{}.PropertyExchange(f.connector.Identifier, f.foreign.ID), `{"device":"x","state":{"expected_value":"on","pending":true}}`},
			"other topic":     {"sonoff/v1/connector/x/status", `{}`},
		}
		for name, c := range cases {
			require.NoError(t, handle(c.topic, []byte(c.payload)), name)
		}
		assert.True(t, f.queue.IsEmpty())
	})

	t.Run("invalid", func(t *testing.T) {
		ledTopic := mqtt.Topics{}.PropertyExchange(f.connector.Identifier, f.led.ID)
		for name, payload := range map[string]string{
			"json":         `{`,
			"null":         `null`,
			"no device":    `{"state":{"expected_value":"on","pending":true}}`,
			"wrong device": `{"device":"other","state":{"expected_value":"on","pending":true}}`,
		} {
			err := handle(ledTopic, []byte(payload))
			assert.True(t, errors.Is(err, ErrInvalidPayload), "%s: error = %v", name, err)
		}
		assert.True(t, f.queue.IsEmpty())
	})

	w.Disconnect()
	assert.Nil(t, f.bus.handler(mqtt.Topics{}.AllPropertyExchange()))
}

func TestStatePublisher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := NewStatePublisher(f.deps(), f.bus)
	p.Start()
	defer p.Stop()

	_, err := f.states.WriteState(ctx, f.relay.ID, device.WithActual("on"), device.WithValid(true))
	require.NoError(t, err)

	published := f.bus.take()
	require.Len(t, published, 1)
	raw, ok := published[mqtt.Topics{}.PropertyExchange(f.connector.Identifier, f.relay.ID)]
	require.True(t, ok)

	var got exchangePayload
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, f.dev.ID, got.Device)
	assert.Equal(t, f.channel.ID, got.Channel)
	assert.Equal(t, "on", got.State.Actual)
	assert.True(t, got.State.Valid)
	assert.False(t, got.State.Pending.IsPending())

	// Unchanged values and foreign properties are not published.
	_, err = f.states.WriteState(ctx, f.relay.ID, device.WithActual("on"))
	require.NoError(t, err)
	_, err = f.states.WriteState(ctx, f.foreign.ID, device.WithActual("on"))
	require.NoError(t, err)
	assert.Empty(t, f.bus.take())

	f.bus.publishErr = mqtt.ErrNotConnected
	_, err = f.states.WriteState(ctx, f.led.ID, device.WithActual("off"))
	require.NoError(t, err)

	p.Stop()
	f.bus.publishErr = nil
	_, err = f.states.WriteState(ctx, f.led.ID, device.WithActual("on"))
	require.NoError(t, err)
	assert.Empty(t, f.bus.take())
}
