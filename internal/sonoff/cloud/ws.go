package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
)

// Socket actions.
const (
	actionUserOnline = "userOnline"
	actionSysMsg     = "sysmsg"
	actionUpdate     = "update"
	actionQuery      = "query"
)

const (
	// DefaultCallTimeout is how long a socket call waits for its reply.
	DefaultCallTimeout = 15 * time.Second

	pathDispatch = "/dispatch/app"

	protocolVersion         = 8
	defaultHeartbeatSeconds = 90
	controlWriteTimeout     = 5 * time.Second
)

// WSState is the connection state of a WSClient.
type WSState int

// Socket connection states.
const (
	WSDisconnected WSState = iota
	WSConnecting
	WSHandshaking
	WSAuthenticated
	WSConnected
)

func (s WSState) String() string {
	switch s {
	case WSConnecting:
		return "connecting"
	case WSHandshaking:
		return "handshaking"
	case WSAuthenticated:
		return "authenticated"
	case WSConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Event is a message pushed by the cloud: *DeviceConnectionEvent or
// *DeviceStateEvent.
type Event interface {
	Device() string
}

// DeviceConnectionEvent reports a device going online or offline.
type DeviceConnectionEvent struct {
	DeviceID string
	Online   bool
}

// Device implements Event.
func (e *DeviceConnectionEvent) Device() string { return e.DeviceID }

// DeviceStateEvent carries params reported by a device.
type DeviceStateEvent struct {
	DeviceID string
	Params   map[string]any
}

// Device implements Event.
func (e *DeviceStateEvent) Device() string { return e.DeviceID }

// SessionSource provides the authenticated session. *Client implements it.
type SessionSource interface {
	Session() (Session, bool)
}

// WSOptions configures a WSClient.
type WSOptions struct {
	AppID string

	// HTTPClient is used for the dispatch call.
	HTTPClient *http.Client

	// Dialer dials the socket. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// DispatchEndpoint maps a region to its dispatch base URL. Defaults
	// to DispatchEndpoint.
	DispatchEndpoint func(sonoff.Region) string

	// CallTimeout defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	Logger Logger
}

type frame struct {
	Action   string          `json:"action"`
	Error    int             `json:"error"`
	Sequence string          `json:"sequence"`
	DeviceID string          `json:"deviceid"`
	APIKey   string          `json:"apikey"`
	Params   json.RawMessage `json:"params"`
	Config   *socketConfig   `json:"config"`
}

type socketConfig struct {
	Heartbeat         int `json:"hb"`
	HeartbeatInterval int `json:"hbInterval"`
}

type callResult struct {
	frame *frame
	err   error
}

type pendingCall struct {
	action string
	result chan callResult
}

// WSClient is the eWeLink push socket client.
//
// All public methods are safe for concurrent use. Callbacks run on the
// socket reader goroutine and must not block.
type WSClient struct {
	sessions         SessionSource
	appID            string
	http             *http.Client
	dialer           *websocket.Dialer
	dispatchEndpoint func(sonoff.Region) string
	callTimeout      time.Duration
	now              func() time.Time

	mu       sync.Mutex
	state    WSState
	conn     *websocket.Conn
	done     chan struct{}
	pending  map[string]*pendingCall
	lastSeq  int64
	lastPong time.Time

	// writeMu serialises data frame writes.
	writeMu sync.Mutex
	wg      sync.WaitGroup

	onConnected    func()
	onDisconnected func()
	onMessage      func(Event)
	onError        func(error)
	callbackMu     sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewWSClient creates a socket client that authenticates with the
// session of sessions.
func NewWSClient(sessions SessionSource, opts WSOptions) *WSClient {
	c := &WSClient{
		sessions:         sessions,
		appID:            opts.AppID,
		http:             opts.HTTPClient,
		dialer:           opts.Dialer,
		dispatchEndpoint: opts.DispatchEndpoint,
		callTimeout:      opts.CallTimeout,
		now:              time.Now,
		pending:          make(map[string]*pendingCall),
		logger:           opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.dispatchEndpoint == nil {
		c.dispatchEndpoint = DispatchEndpoint
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	return c
}

// SetLogger sets the logger.
func (c *WSClient) SetLogger(l Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = l
}

// SetOnConnected registers the callback run after a successful handshake.
func (c *WSClient) SetOnConnected(fn func()) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onConnected = fn
}

// SetOnDisconnected registers the callback run when the socket is lost.
func (c *WSClient) SetOnDisconnected(fn func()) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onDisconnected = fn
}

// SetOnMessage registers the handler for pushed events.
func (c *WSClient) SetOnMessage(fn func(Event)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onMessage = fn
}

// SetOnError registers the handler for socket errors.
func (c *WSClient) SetOnError(fn func(error)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onError = fn
}

// State returns the connection state.
func (c *WSClient) State() WSState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the socket is authenticated and usable.
func (c *WSClient) IsConnected() bool {
	return c.State() == WSConnected
}

type dispatchAnswer struct {
	Error  int    `json:"error"`
	Reason string `json:"reason"`
	IP     string `json:"IP"`
	Domain string `json:"domain"`
	Port   int    `json:"port"`
}

// Connect resolves the socket server, dials it and performs the
// userOnline handshake.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != WSDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = WSConnecting
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.mu.Lock()
		if c.conn == nil {
			c.state = WSDisconnected
		}
		c.mu.Unlock()
		c.emitError(err)
		return err
	}
	return nil
}

func (c *WSClient) connect(ctx context.Context) error {
	sess, ok := c.sessions.Session()
	if !ok {
		return ErrNotConnected
	}

	addr, err := c.dispatch(ctx, sess)
	if err != nil {
		return err
	}

	url := "wss://" + net.JoinHostPort(addr.Domain, strconv.Itoa(addr.Port)) + "/api/ws"
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", url, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.state = WSHandshaking
	c.lastPong = c.now()
	c.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = c.now()
		c.mu.Unlock()
		return nil
	})

	c.wg.Add(1)
	go c.readLoop(conn)

	ts := c.now().Unix()
	ack, err := c.call(ctx, actionUserOnline, map[string]any{
		"action":    actionUserOnline,
		"at":        sess.AccessToken,
		"apikey":    sess.APIKey,
		"appid":     c.appID,
		"nonce":     strconv.FormatInt(ts/100, 10),
		"ts":        ts,
		"userAgent": "app",
		"version":   protocolVersion,
	})
	if err != nil {
		c.teardown(conn, nil, false)
		return fmt.Errorf("socket handshake failed: %w", err)
	}

	c.mu.Lock()
	c.state = WSAuthenticated
	c.mu.Unlock()

	if ack.Config != nil && ack.Config.Heartbeat == 1 {
		interval := ack.Config.HeartbeatInterval
		if interval <= 0 {
			interval = defaultHeartbeatSeconds
		}
		c.wg.Add(1)
		go c.heartbeat(conn, done, time.Duration(interval)*time.Second)
	}

	c.mu.Lock()
	c.state = WSConnected
	c.mu.Unlock()

	c.logInfo("connected to cloud socket", "url", url)

	c.callbackMu.RLock()
	fn := c.onConnected
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (c *WSClient) dispatch(ctx context.Context, sess Session) (*dispatchAnswer, error) {
	u := c.dispatchEndpoint(sess.Region) + pathDispatch
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &APICallError{Message: "could not create dispatch request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &APICallError{Message: "calling dispatch endpoint failed", Request: req, Err: err}
	}
	defer res.Body.Close()

	var answer dispatchAnswer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		return nil, &APICallError{Message: "could not decode dispatch answer", Request: req, Response: res, Err: err}
	}
	if answer.Error != CodeOK {
		return nil, &APICallError{Message: "dispatch failed: " + answer.Reason, Code: answer.Error, Request: req, Response: res}
	}
	if answer.Domain == "" {
		answer.Domain = answer.IP
	}
	if answer.Domain == "" || answer.Port == 0 {
		return nil, &APICallError{Message: "dispatch answer has no socket address", Request: req, Response: res}
	}
	return &answer, nil
}

// Disconnect closes the socket without running the disconnected callback.
func (c *WSClient) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(controlWriteTimeout))
		c.teardown(conn, nil, false)
	}
	c.wg.Wait()
}

// ReadStates queries the current params of a device.
func (c *WSClient) ReadStates(ctx context.Context, deviceID, apiKey string) (map[string]any, error) {
	sess, ok := c.sessions.Session()
	if !ok {
		return nil, ErrNotConnected
	}

	reply, err := c.call(ctx, actionQuery, map[string]any{
		"action":     actionQuery,
		"apikey":     apiKey,
		"selfApikey": sess.APIKey,
		"deviceid":   deviceID,
		"userAgent":  "app",
		"params":     []string{},
	})
	if err != nil {
		return nil, err
	}

	var params map[string]any
	if err := json.Unmarshal(reply.Params, &params); err != nil {
		return nil, &APICallError{Message: "could not decode query reply", Err: err}
	}
	return params, nil
}

// WriteState writes one parameter through the socket.
func (c *WSClient) WriteState(
	ctx context.Context,
	deviceID, apiKey, parameter string,
	value any,
	group string,
	outlet *int,
) error {
	sess, ok := c.sessions.Session()
	if !ok {
		return ErrNotConnected
	}

	_, err := c.call(ctx, actionUpdate, map[string]any{
		"action":     actionUpdate,
		"apikey":     apiKey,
		"selfApikey": sess.APIKey,
		"deviceid":   deviceID,
		"userAgent":  "app",
		"params":     stateParams(parameter, value, group, outlet),
	})
	return err
}

// nextSequence returns a millisecond sequence never handed out before by
// this client. Callers hold c.mu.
func (c *WSClient) nextSequence() string {
	seq := c.now().UnixMilli()
	if seq <= c.lastSeq {
		seq = c.lastSeq + 1
	}
	c.lastSeq = seq
	return strconv.FormatInt(seq, 10)
}

// call sends payload with a fresh sequence and waits for the reply.
func (c *WSClient) call(ctx context.Context, action string, payload map[string]any) (*frame, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	seq := c.nextSequence()
	pc := &pendingCall{action: action, result: make(chan callResult, 1)}
	c.pending[seq] = pc
	c.mu.Unlock()

	payload["sequence"] = seq
	data, err := json.Marshal(payload)
	if err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("encoding %s frame: %w", action, err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(seq)
		return nil, &APICallError{Message: "sending " + action + " frame failed", Err: err}
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case r := <-pc.result:
		return r.frame, r.err
	case <-timer.C:
		c.forget(seq)
		return nil, fmt.Errorf("%w: %s %s", ErrCallTimeout, action, seq)
	case <-ctx.Done():
		c.forget(seq)
		return nil, ctx.Err()
	}
}

func (c *WSClient) forget(seq string) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.teardown(conn, fmt.Errorf("socket read failed: %w", err), true)
			return
		}
		c.handleMessage(data)
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logDebug("cloud socket frame could not be parsed", "error", err)
		c.emitError(fmt.Errorf("decoding socket frame: %w", err))
		return
	}

	if f.Action == actionSysMsg {
		var params struct {
			Online *bool `json:"online"`
		}
		if err := json.Unmarshal(f.Params, &params); err == nil && params.Online != nil {
			c.emit(&DeviceConnectionEvent{DeviceID: f.DeviceID, Online: *params.Online})
		}
		return
	}

	if f.Sequence != "" {
		c.mu.Lock()
		pc, ok := c.pending[f.Sequence]
		if ok {
			delete(c.pending, f.Sequence)
		}
		c.mu.Unlock()

		if ok {
			if f.Error != CodeOK {
				pc.result <- callResult{err: &WSError{Code: f.Error}}
			} else {
				pc.result <- callResult{frame: &f}
			}
			return
		}
	}

	if f.Action == actionUpdate && len(f.Params) > 0 {
		var params map[string]any
		if err := json.Unmarshal(f.Params, &params); err != nil {
			c.emitError(fmt.Errorf("decoding update params: %w", err))
			return
		}
		c.emit(&DeviceStateEvent{DeviceID: f.DeviceID, Params: params})
	}
}

// heartbeat pings the server and declares the socket lost when no pong
// arrives within two intervals.
func (c *WSClient) heartbeat(conn *websocket.Conn, done <-chan struct{}, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			silent := c.now().Sub(c.lastPong)
			c.mu.Unlock()

			if silent > 2*interval {
				c.teardown(conn, errors.New("socket heartbeat lost"), true)
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(controlWriteTimeout)); err != nil {
				c.teardown(conn, fmt.Errorf("socket ping failed: %w", err), true)
				return
			}
		}
	}
}

// teardown closes conn if it is still the active connection, fails all
// pending calls and, when notify is set, runs the error and disconnected
// callbacks.
func (c *WSClient) teardown(conn *websocket.Conn, cause error, notify bool) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = WSDisconnected
	close(c.done)
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	_ = conn.Close()

	for _, pc := range pending {
		pc.result <- callResult{err: ErrNotConnected}
	}

	if !notify {
		return
	}

	c.logWarn("cloud socket lost", "error", cause)
	if cause != nil {
		c.emitError(cause)
	}

	c.callbackMu.RLock()
	fn := c.onDisconnected
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *WSClient) emit(ev Event) {
	c.callbackMu.RLock()
	fn := c.onMessage
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *WSClient) emitError(err error) {
	c.callbackMu.RLock()
	fn := c.onError
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *WSClient) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *WSClient) logDebug(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Debug(msg, args...)
	}
}

func (c *WSClient) logInfo(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (c *WSClient) logWarn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}
