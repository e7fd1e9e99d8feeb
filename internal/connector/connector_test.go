package connector

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FastyBird/sonoff-connector-sub001/internal/clients"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device/devicetest"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/mqtt"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/cloud"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/lan"
	"github.com/FastyBird/sonoff-connector-sub001/internal/writers"
)

// fakeLan implements LanTransport.
type fakeLan struct {
	mu        sync.Mutex
	connected bool
	found     map[string]lan.Address
}

func (f *fakeLan) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeLan) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeLan) isConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeLan) SetOnMessage(func(lan.Event))     {}
func (f *fakeLan) RegisterDeviceKey(string, string) {}

func (f *fakeLan) GetDeviceInfo(context.Context, string, string, int) (*lan.DeviceInfo, error) {
	return nil, &lan.APICallError{Message: "unreachable"}
}

func (f *fakeLan) SetDeviceState(context.Context, string, string, int, string, any, string, *int) error {
	return nil
}

func (f *fakeLan) Discover(context.Context, time.Duration) (map[string]lan.Address, error) {
	return f.found, nil
}

// fakeCloud implements CloudTransport.
type fakeCloud struct {
	mu        sync.Mutex
	connected bool
	things    *cloud.Things
	loginErr  error
}

func (f *fakeCloud) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeCloud) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeCloud) isConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeCloud) Login(context.Context) error { return f.loginErr }

func (f *fakeCloud) GetHomes(context.Context) (*cloud.Family, error) {
	return &cloud.Family{CurrentFamilyID: "home-1", Homes: []cloud.Home{{ID: "home-1"}}}, nil
}

func (f *fakeCloud) GetHomeThings(context.Context, string) (*cloud.Things, error) {
	if f.things == nil {
		return &cloud.Things{}, nil
	}
	return f.things, nil
}

func (f *fakeCloud) GetThing(context.Context, string) (*cloud.Device, error) {
	return nil, cloud.ErrUnexpectedThing
}

func (f *fakeCloud) GetThingStatus(_ context.Context, deviceID string) (*cloud.DeviceState, error) {
	return &cloud.DeviceState{DeviceID: deviceID}, nil
}

func (f *fakeCloud) SetThingState(context.Context, string, string, any, string, *int) error {
	return nil
}

// fakeBus implements Bus.
type fakeBus struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]mqtt.MessageHandler
	published map[string][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{connected: true, handlers: map[string]mqtt.MessageHandler{}, published: map[string][]byte{}}
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
	b.published[topic] = payload
	return nil
}

func (b *fakeBus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) message(topic string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[topic]
}

func (b *fakeBus) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

type fixture struct {
	repo   *device.SQLiteRepository
	states *device.StateStore
	lan    *fakeLan
	cloud  *fakeCloud
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		repo:   devicetest.OpenRepository(t),
		states: device.NewStateStore(),
		lan:    &fakeLan{},
		cloud:  &fakeCloud{},
	}
}

func (f *fixture) options(mode sonoff.ClientMode) Options {
	return Options{
		Identifier:    "sonoff",
		Name:          "Sonoff",
		Mode:          mode,
		Repository:    f.repo,
		States:        f.states,
		Lan:           f.lan,
		Cloud:         f.cloud,
		DrainInterval: time.Millisecond,
	}
}

func (f *fixture) connector(t *testing.T, opts Options) *Connector {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Terminate)
	return c
}

func TestNew(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr error
	}{
		{"valid", func(*Options) {}, nil},
		{"no identifier", func(o *Options) { o.Identifier = "" }, ErrInvalidOptions},
		{"no repository", func(o *Options) { o.Repository = nil }, ErrInvalidOptions},
		{"no state store", func(o *Options) { o.States = nil }, ErrInvalidOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := f.options(sonoff.ModeCloud)
			tt.mutate(&opts)

			c, err := New(opts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c.Queue())
		})
	}
}

func TestEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := devicetest.SeedConnector(t, f.repo, "sonoff")

	c := f.connector(t, f.options(sonoff.ModeLan))
	entity, err := c.Entity(ctx)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, entity.ID)
	assert.Equal(t, "Sonoff", entity.Name)
	assert.Equal(t, "lan", entity.Mode)

	stored, err := f.repo.FindConnector(ctx, "sonoff")
	require.NoError(t, err)
	assert.Equal(t, "lan", stored.Mode)
}

func TestEntityCreated(t *testing.T) {
	f := newFixture(t)

	c := f.connector(t, f.options(sonoff.ModeCloud))
	entity, err := c.Entity(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, entity.ID)

	stored, err := f.repo.FindConnector(context.Background(), "sonoff")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, stored.ID)
}

func TestExecuteAndTerminate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.connector(t, f.options(sonoff.ModeAuto))

	require.NoError(t, c.Execute(ctx, false))
	assert.True(t, c.Running())
	assert.True(t, f.lan.isConnected())
	assert.True(t, f.cloud.isConnected())
	require.ErrorIs(t, c.Execute(ctx, false), ErrAlreadyRunning)

	entity, err := c.Entity(ctx)
	require.NoError(t, err)
	assert.Equal(t, device.StateRunning, f.states.ConnectionState(ctx, entity.ID))

	c.Terminate()
	assert.False(t, c.Running())
	assert.False(t, f.lan.isConnected())
	assert.False(t, f.cloud.isConnected())
	assert.Equal(t, device.StateStopped, f.states.ConnectionState(ctx, entity.ID))
	assert.False(t, c.HasUnfinishedTasks())

	// A terminated connector can be started again.
	require.NoError(t, c.Execute(ctx, true))
	assert.True(t, c.Running())
}

func TestExecuteErrors(t *testing.T) {
	tests := []struct {
		name       string
		mode       sonoff.ClientMode
		standalone bool
		writer     writers.Kind
		mutate     func(f *fixture, o *Options)
		wantErr    error
	}{
		{name: "gateway", mode: sonoff.ModeGateway, wantErr: sonoff.ErrNotImplemented},
		{name: "unknown mode", mode: "zigbee", wantErr: sonoff.ErrInvalidState},
		{
			name:    "lan without transport",
			mode:    sonoff.ModeLan,
			mutate:  func(_ *fixture, o *Options) { o.Lan = nil },
			wantErr: clients.ErrMissingTransport,
		},
		{
			name:       "exchange without bus",
			mode:       sonoff.ModeCloud,
			standalone: true,
			writer:     writers.KindExchange,
			wantErr:    writers.ErrMissingDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			opts := f.options(tt.mode)
			opts.WriterKind = tt.writer
			if tt.mutate != nil {
				tt.mutate(f, &opts)
			}
			c := f.connector(t, opts)

			err := c.Execute(context.Background(), tt.standalone)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, c.Running())
			assert.False(t, c.HasUnfinishedTasks())
		})
	}
}

func TestTerminateDrainsQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.connector(t, f.options(sonoff.ModeCloud))

	require.NoError(t, c.Execute(ctx, false))
	entity, err := c.Entity(ctx)
	require.NoError(t, err)
	dev := devicetest.SeedDevice(t, f.repo, entity.ID, "1000aa")

	for range 20 {
		c.Queue().Append(&queue.StoreDeviceConnectionState{
			ConnectorID: entity.ID,
			Identifier:  "1000aa",
			State:       device.StateConnected,
		})
	}

	c.Terminate()

	require.Eventually(t, func() bool {
		return c.Queue().IsEmpty() && !c.HasUnfinishedTasks()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, device.StateConnected, f.states.ConnectionState(ctx, dev.ID))
}

func TestDiscover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cloud.things = &cloud.Things{Devices: []cloud.Device{{
		Name:     "Hall",
		DeviceID: "1000bb",
		APIKey:   "key-bb",
		Extra:    cloud.DeviceExtra{UIID: 1},
		Params:   map[string]any{"switch": "on"},
	}}}
	f.lan.found = map[string]lan.Address{"1000bb": {IPAddress: "192.168.1.21", Port: 8081}}

	c := f.connector(t, f.options(sonoff.ModeAuto))

	found, err := c.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, found)

	require.Eventually(t, func() bool { return !c.HasUnfinishedTasks() }, 2*time.Second, 5*time.Millisecond)

	entity, err := c.Entity(ctx)
	require.NoError(t, err)
	dev, err := f.repo.FindDevice(ctx, entity.ID, "1000bb")
	require.NoError(t, err)
	assert.Equal(t, "Hall", dev.Name)
}

func TestDiscoverErrors(t *testing.T) {
	t.Run("no cloud", func(t *testing.T) {
		f := newFixture(t)
		opts := f.options(sonoff.ModeLan)
		opts.Cloud = nil
		c := f.connector(t, opts)

		_, err := c.Discover(context.Background())
		require.ErrorIs(t, err, ErrNoCloud)
	})

	t.Run("login fails", func(t *testing.T) {
		f := newFixture(t)
		f.cloud.loginErr = &cloud.APIError{Code: 10001, Message: "bad credentials"}
		c := f.connector(t, f.options(sonoff.ModeCloud))

		_, err := c.Discover(context.Background())
		require.Error(t, err)
		assert.False(t, c.HasUnfinishedTasks())
	})
}

func TestExecuteWithBus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bus := newFakeBus()

	opts := f.options(sonoff.ModeCloud)
	opts.Bus = bus
	opts.WriterKind = writers.KindExchange
	opts.Version = "1.2.3"
	c := f.connector(t, opts)

	require.NoError(t, c.Execute(ctx, true))
	assert.True(t, bus.subscribed(mqtt.Topics{}.AllPropertyExchange()))

	topic := mqtt.Topics{}.ConnectorHealth("sonoff")
	require.Eventually(t, func() bool { return bus.message(topic) != nil }, 2*time.Second, 5*time.Millisecond)

	var msg HealthMessage
	require.NoError(t, json.Unmarshal(bus.message(topic), &msg))
	assert.Equal(t, "sonoff", msg.Connector)
	assert.Equal(t, "cloud", msg.Mode)
	assert.Equal(t, "1.2.3", msg.Version)
	assert.Equal(t, HealthHealthy, msg.Status)
	assert.True(t, msg.Statistics.Running)

	c.Terminate()
	assert.False(t, bus.subscribed(mqtt.Topics{}.AllPropertyExchange()))

	require.NoError(t, json.Unmarshal(bus.message(topic), &msg))
	assert.Equal(t, HealthStopping, msg.Status)
}
