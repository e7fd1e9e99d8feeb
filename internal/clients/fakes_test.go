package clients

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/device/devicetest"
	"github.com/FastyBird/sonoff-connector-sub001/internal/queue"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/cloud"
	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/lan"
)

// fakeLan implements LanAPI and DiscoveryLanAPI.
type fakeLan struct {
	mu sync.Mutex

	info     map[string]*lan.DeviceInfo
	infoErr  error
	writeErr error
	found    map[string]lan.Address

	infoCalls []string
	writes    []string
	keys      map[string]string
	onMessage func(lan.Event)
	connected bool
}

func newFakeLan() *fakeLan {
	return &fakeLan{info: map[string]*lan.DeviceInfo{}, keys: map[string]string{}}
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

func (f *fakeLan) SetOnMessage(fn func(lan.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *fakeLan) announce(ev lan.Event) {
	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (f *fakeLan) RegisterDeviceKey(deviceID, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[deviceID] = key
}

func (f *fakeLan) GetDeviceInfo(_ context.Context, deviceID, ip string, port int) (*lan.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls = append(f.infoCalls, fmt.Sprintf("%s@%s:%d", deviceID, ip, port))
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	info, ok := f.info[deviceID]
	if !ok {
		return nil, &lan.APICallError{Message: "no route to device"}
	}
	return info, nil
}

func (f *fakeLan) SetDeviceState(_ context.Context, deviceID, ip string, port int, parameter string, value any, group string, outlet *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fmt.Sprintf("%s@%s:%d %s=%v", deviceID, ip, port, parameter, value))
	return f.writeErr
}

func (f *fakeLan) Discover(ctx context.Context, _ time.Duration) (map[string]lan.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.found, nil
}

func (f *fakeLan) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.infoCalls...)
}

func (f *fakeLan) writeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// fakeCloud implements CloudAPI and DiscoveryCloudAPI.
type fakeCloud struct {
	mu sync.Mutex

	things    map[string]*cloud.Device
	thingErr  error
	status    map[string]map[string]any
	statusErr error
	writeErr  error

	loginErr error
	family   *cloud.Family
	homeList *cloud.Things
	listErr  error

	thingCalls  map[string]int
	statusCalls map[string]int
	writes      []string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		things:      map[string]*cloud.Device{},
		status:      map[string]map[string]any{},
		thingCalls:  map[string]int{},
		statusCalls: map[string]int{},
	}
}

func (f *fakeCloud) Connect(context.Context) error { return nil }
func (f *fakeCloud) Disconnect()                   {}

func (f *fakeCloud) Login(context.Context) error { return f.loginErr }

func (f *fakeCloud) GetHomes(context.Context) (*cloud.Family, error) {
	if f.family == nil {
		return &cloud.Family{}, nil
	}
	return f.family, nil
}

func (f *fakeCloud) GetHomeThings(context.Context, string) (*cloud.Things, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.homeList, nil
}

func (f *fakeCloud) GetThing(_ context.Context, deviceID string) (*cloud.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thingCalls[deviceID]++
	if f.thingErr != nil {
		return nil, f.thingErr
	}
	thing, ok := f.things[deviceID]
	if !ok {
		return nil, cloud.ErrUnexpectedThing
	}
	return thing, nil
}

func (f *fakeCloud) GetThingStatus(_ context.Context, deviceID string) (*cloud.DeviceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[deviceID]++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &cloud.DeviceState{DeviceID: deviceID, Params: f.status[deviceID]}, nil
}

func (f *fakeCloud) SetThingState(_ context.Context, deviceID, parameter string, value any, group string, outlet *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fmt.Sprintf("%s %s=%v", deviceID, parameter, value))
	return f.writeErr
}

func (f *fakeCloud) counts(deviceID string) (things, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thingCalls[deviceID], f.statusCalls[deviceID]
}

func (f *fakeCloud) writeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// fakeSocket implements SocketAPI.
type fakeSocket struct {
	mu sync.Mutex

	connected bool
	states    map[string]any
	readErr   error
	writeErr  error

	reads     int
	writes    []string
	onMessage func(cloud.Event)

	dials      int
	connectErr error
	onDropped  func()
	onError    func(error)
}

func (f *fakeSocket) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSocket) SetOnDisconnected(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDropped = fn
}

func (f *fakeSocket) SetOnError(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = fn
}

func (f *fakeSocket) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeSocket) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// drop loses the connection the way a failed heartbeat does.
func (f *fakeSocket) drop() {
	f.mu.Lock()
	f.connected = false
	fn := f.onDropped
	f.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (f *fakeSocket) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeSocket) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSocket) SetOnMessage(fn func(cloud.Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = fn
}

func (f *fakeSocket) ReadStates(context.Context, string, string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.states, nil
}

func (f *fakeSocket) WriteState(_ context.Context, deviceID, apiKey, parameter string, value any, group string, outlet *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fmt.Sprintf("%s/%s %s=%v", deviceID, apiKey, parameter, value))
	return f.writeErr
}

// clientFixture wires fakes around a migrated repository.
type clientFixture struct {
	repo      *device.SQLiteRepository
	states    *device.StateStore
	queue     *queue.Queue
	connector *device.Connector
	lan       *fakeLan
	cloud     *fakeCloud
	socket    *fakeSocket
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()

	repo := devicetest.OpenRepository(t)
	return &clientFixture{
		repo:      repo,
		states:    device.NewStateStore(),
		queue:     queue.New(),
		connector: devicetest.SeedConnector(t, repo, "sonoff"),
		lan:       newFakeLan(),
		cloud:     newFakeCloud(),
		socket:    &fakeSocket{},
	}
}

func (f *clientFixture) deps() Deps {
	return Deps{
		Connector:  f.connector,
		Repository: f.repo,
		States:     f.states,
		Queue:      f.queue,
		Lan:        f.lan,
		Cloud:      f.cloud,
		Socket:     f.socket,
		StartDelay: time.Hour,
	}
}

// seedDevice stores a device with variable properties.
func (f *clientFixture) seedDevice(t *testing.T, identifier string, parentID *string, vars map[string]any) *device.Device {
	t.Helper()

	dev := &device.Device{ConnectorID: f.connector.ID, ParentID: parentID, Identifier: identifier, Name: identifier}
	require.NoError(t, f.repo.SaveDevice(context.Background(), dev))

	for id, v := range vars {
		devicetest.SeedProperty(t, f.repo, &device.Property{
			DeviceID:   dev.ID,
			Identifier: id,
			Kind:       device.KindVariable,
			Value:      v,
		})
	}
	return dev
}

// activate loads devices and opens the session without the polling loop.
func activate(t *testing.T, p *process) {
	t.Helper()
	require.NoError(t, p.refresh(context.Background()))
	p.connected.Store(true)
}

func entry(t *testing.T, p *process, identifier string) *deviceEntry {
	t.Helper()
	e, ok := p.entryByIdentifier(identifier)
	require.True(t, ok, "device %s not loaded", identifier)
	return e
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

func connectionStates(msgs []queue.Message) []device.ConnectionState {
	var out []device.ConnectionState
	for _, m := range msgs {
		if s, ok := m.(*queue.StoreDeviceConnectionState); ok {
			out = append(out, s.State)
		}
	}
	return out
}

func parameterMessages(msgs []queue.Message) []*queue.StoreParametersStates {
	var out []*queue.StoreParametersStates
	for _, m := range msgs {
		if s, ok := m.(*queue.StoreParametersStates); ok {
			out = append(out, s)
		}
	}
	return out
}
