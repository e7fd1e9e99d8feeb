package cloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"
)

// REST endpoints.
const (
	pathLogin       = "/v2/user/login"
	pathRefresh     = "/v2/user/refresh"
	pathFamily      = "/v2/family"
	pathThings      = "/v2/device/thing"
	pathThingStatus = "/v2/device/thing/status"
	pathAddPartner  = "/v2/device/inherit/add-partner-device"
)

// Thing item types.
const (
	itemTypeDevice       = 1
	itemTypeSharedDevice = 2
	itemTypeGroup        = 3
)

const (
	// AccessTokenLifetime is how long an access token is trusted before a
	// proactive refresh.
	AccessTokenLifetime = 30 * 24 * time.Hour

	defaultHTTPTimeout = 10 * time.Second

	// countryCode is sent with every login; the account region is
	// resolved by the redirect answer.
	countryCode = "+86"

	partnerDeviceType = 23
)

// APIEndpoint returns the REST base URL of a region.
func APIEndpoint(r sonoff.Region) string {
	if r == sonoff.RegionChina {
		return "https://cn-apia.coolkit.cn"
	}
	return "https://" + string(r) + "-apia.coolkit.cc"
}

// DispatchEndpoint returns the socket dispatch base URL of a region.
func DispatchEndpoint(r sonoff.Region) string {
	if r == sonoff.RegionChina {
		return "https://cn-dispa.coolkit.cn"
	}
	return "https://" + string(r) + "-dispa.coolkit.cc"
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a REST client.
type Options struct {
	Username  string
	Password  string
	AppID     string
	AppSecret string
	Region    sonoff.Region

	HTTPClient *http.Client

	// Endpoint maps a region to its REST base URL. Defaults to APIEndpoint.
	Endpoint func(sonoff.Region) string

	// TransportErrorCodes lists cloud codes reported as *APICallError.
	// Defaults to DefaultTransportErrorCodes.
	TransportErrorCodes []int

	Logger Logger
}

// Client is the eWeLink REST client.
//
// All public methods are safe for concurrent use. Calls made without a
// session log in first.
type Client struct {
	username  string
	password  string
	appID     string
	appSecret string

	http           *http.Client
	endpoint       func(sonoff.Region) string
	transportCodes map[int]struct{}
	now            func() time.Time

	session *Session
	region  sonoff.Region
	mu      sync.RWMutex

	// authMu serialises login and refresh.
	authMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a REST client.
func New(opts Options) *Client {
	c := &Client{
		username:       opts.Username,
		password:       opts.Password,
		appID:          opts.AppID,
		appSecret:      opts.AppSecret,
		http:           opts.HTTPClient,
		endpoint:       opts.Endpoint,
		region:         opts.Region,
		transportCodes: make(map[int]struct{}),
		now:            time.Now,
		logger:         opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.endpoint == nil {
		c.endpoint = APIEndpoint
	}
	if !c.region.Valid() {
		c.region = sonoff.RegionEurope
	}
	codes := opts.TransportErrorCodes
	if len(codes) == 0 {
		codes = DefaultTransportErrorCodes
	}
	for _, code := range codes {
		c.transportCodes[code] = struct{}{}
	}
	return c
}

// SetLogger sets the logger.
func (c *Client) SetLogger(l Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = l
}

// Connect logs in and stores the session.
func (c *Client) Connect(ctx context.Context) error {
	return c.Login(ctx)
}

// Disconnect drops the session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// IsConnected reports whether a session is held.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

// Session returns a copy of the current session.
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Region returns the region the client talks to.
func (c *Client) Region() sonoff.Region {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.region
}

// Login authenticates with the account credentials. A region redirect
// answer switches the client to the account region and retries once.
func (c *Client) Login(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.login(ctx, false)
}

func (c *Client) login(ctx context.Context, redirected bool) error {
	payload := map[string]any{
		"password":    c.password,
		"countryCode": countryCode,
	}
	switch {
	case strings.Contains(c.username, "@"):
		payload["email"] = c.username
	case strings.HasPrefix(c.username, "+"):
		payload["phoneNumber"] = c.username
	default:
		payload["phoneNumber"] = "+" + c.username
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &APICallError{Message: "could not create login request", Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathLogin, nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Sign "+c.sign(body))
	req.Header.Set("X-CK-Appid", c.appID)

	env, res, err := c.send(req)
	if err != nil {
		return err
	}

	if env.Error == CodeRegionRedirect {
		if redirected {
			return &APICallError{Message: "could not login to user region", Code: env.Error, Request: req, Response: res}
		}
		var data struct {
			Region string `json:"region"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil || !sonoff.Region(data.Region).Valid() {
			return &APICallError{Message: "invalid region redirect", Code: env.Error, Request: req, Response: res, Err: err}
		}
		c.logInfo("cloud login redirected", "region", data.Region)
		c.mu.Lock()
		c.region = sonoff.Region(data.Region)
		c.mu.Unlock()
		return c.login(ctx, true)
	}

	if env.Error != CodeOK {
		return &APICallError{Message: "user authentication failed: " + env.Msg, Code: env.Error, Request: req, Response: res}
	}

	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.AccessToken == "" {
		return &APICallError{Message: "could not decode login response", Request: req, Response: res, Err: err}
	}

	c.mu.Lock()
	if r := sonoff.Region(data.Region); r.Valid() {
		c.region = r
	}
	c.session = &Session{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
		APIKey:       data.User.APIKey,
		Region:       c.region,
		AcquiredAt:   c.now(),
	}
	c.mu.Unlock()

	c.logInfo("cloud login succeeded", "region", data.Region)
	return nil
}

// Refresh exchanges the refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) error {
	sess, ok := c.Session()
	if !ok {
		return ErrNotConnected
	}

	body, err := json.Marshal(map[string]string{"rt": sess.RefreshToken})
	if err != nil {
		return &APICallError{Message: "could not create refresh request", Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathRefresh, nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	req.Header.Set("X-CK-Appid", c.appID)

	env, res, err := c.send(req)
	if err != nil {
		return err
	}
	if env.Error != CodeOK {
		return &APICallError{Message: "refreshing user access token failed: " + env.Msg, Code: env.Error, Request: req, Response: res}
	}

	var data refreshData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.AccessToken == "" {
		return &APICallError{Message: "could not decode refresh response", Request: req, Response: res, Err: err}
	}

	c.mu.Lock()
	if c.session != nil {
		c.session.AccessToken = data.AccessToken
		c.session.RefreshToken = data.RefreshToken
		c.session.AcquiredAt = c.now()
	}
	c.mu.Unlock()

	c.logDebug("cloud access token refreshed")
	return nil
}

// GetHomes returns the families of the account.
func (c *Client) GetHomes(ctx context.Context) (*Family, error) {
	env, err := c.call(ctx, http.MethodGet, pathFamily, nil, nil)
	if err != nil {
		return nil, err
	}
	var family Family
	if err := json.Unmarshal(env.Data, &family); err != nil {
		return nil, &APICallError{Message: "could not decode family", Err: err}
	}
	return &family, nil
}

type thingItem struct {
	ItemType int             `json:"itemType"`
	ItemData json.RawMessage `json:"itemData"`
}

type thingList struct {
	ThingList []thingItem `json:"thingList"`
}

func decodeThings(data json.RawMessage) (*Things, error) {
	var list thingList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, &APICallError{Message: "could not decode things", Err: err}
	}

	things := &Things{}
	for _, item := range list.ThingList {
		switch item.ItemType {
		case itemTypeDevice, itemTypeSharedDevice:
			var d Device
			if err := json.Unmarshal(item.ItemData, &d); err != nil {
				return nil, &APICallError{Message: "could not decode device", Err: err}
			}
			things.Devices = append(things.Devices, d)
		case itemTypeGroup:
			var g Group
			if err := json.Unmarshal(item.ItemData, &g); err != nil {
				return nil, &APICallError{Message: "could not decode group", Err: err}
			}
			things.Groups = append(things.Groups, g)
		}
	}
	return things, nil
}

// GetHomeThings returns the devices and groups of a family.
func (c *Client) GetHomeThings(ctx context.Context, familyID string) (*Things, error) {
	q := url.Values{"num": {"0"}, "familyId": {familyID}}
	env, err := c.call(ctx, http.MethodGet, pathThings, q, nil)
	if err != nil {
		return nil, err
	}
	return decodeThings(env.Data)
}

// GetThing returns a single device.
func (c *Client) GetThing(ctx context.Context, deviceID string) (*Device, error) {
	body := map[string]any{
		"thingList": []map[string]any{{"itemType": itemTypeDevice, "id": deviceID}},
	}
	env, err := c.call(ctx, http.MethodPost, pathThings, nil, body)
	if err != nil {
		return nil, err
	}
	things, err := decodeThings(env.Data)
	if err != nil {
		return nil, err
	}
	if len(things.Devices) != 1 || len(things.Groups) != 0 {
		return nil, fmt.Errorf("%w: %d devices, %d groups", ErrUnexpectedThing, len(things.Devices), len(things.Groups))
	}
	return &things.Devices[0], nil
}

// GetThingStatus returns the reported params of a device.
func (c *Client) GetThingStatus(ctx context.Context, deviceID string) (*DeviceState, error) {
	q := url.Values{"type": {"1"}, "id": {deviceID}}
	env, err := c.call(ctx, http.MethodGet, pathThingStatus, q, nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Params == nil {
		return nil, &APICallError{Message: "could not decode thing status", Err: err}
	}
	return &DeviceState{DeviceID: deviceID, Params: data.Params}, nil
}

// SetThingState writes one parameter. When group is set and outlet is
// not nil the parameter is sent inside the group array.
func (c *Client) SetThingState(
	ctx context.Context,
	deviceID, parameter string,
	value any,
	group string,
	outlet *int,
) error {
	body := map[string]any{
		"type":   itemTypeDevice,
		"id":     deviceID,
		"params": stateParams(parameter, value, group, outlet),
	}
	_, err := c.call(ctx, http.MethodPost, pathThingStatus, nil, body)
	return err
}

// AddThirdPartyDevice registers a partner device with the account.
func (c *Client) AddThirdPartyDevice(ctx context.Context, uniqueID string) (*ThirdPartyDevice, error) {
	body := map[string]any{
		"type":          partnerDeviceType,
		"partnerDevice": []map[string]any{{"uniqueID": uniqueID}},
	}
	env, err := c.call(ctx, http.MethodPost, pathAddPartner, nil, body, withAppID())
	if err != nil {
		return nil, err
	}

	var list thingList
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return nil, &APICallError{Message: "could not decode partner device", Err: err}
	}
	var devices []ThirdPartyDevice
	for _, item := range list.ThingList {
		if item.ItemType != itemTypeDevice && item.ItemType != itemTypeSharedDevice {
			continue
		}
		var d ThirdPartyDevice
		if err := json.Unmarshal(item.ItemData, &d); err != nil {
			return nil, &APICallError{Message: "could not decode partner device", Err: err}
		}
		devices = append(devices, d)
	}
	if len(devices) != 1 {
		return nil, fmt.Errorf("%w: %d partner devices", ErrUnexpectedThing, len(devices))
	}
	return &devices[0], nil
}

// stateParams builds the params object of a state write.
func stateParams(parameter string, value any, group string, outlet *int) map[string]any {
	if group != "" && outlet != nil {
		return map[string]any{
			group: []map[string]any{{parameter: value, "outlet": *outlet}},
		}
	}
	return map[string]any{parameter: value}
}

type envelope struct {
	Error int             `json:"error"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

type callOption func(*http.Request, *Client)

func withAppID() callOption {
	return func(r *http.Request, c *Client) { r.Header.Set("X-CK-Appid", c.appID) }
}

// call performs an authenticated request. It logs in when there is no
// session, refreshes an expired token first, and refreshes once more and
// retries when the cloud rejects the token. A second rejection is an
// *APICallError.
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body any, opts ...callOption) (*envelope, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return nil, &APICallError{Message: "message body could not be encoded", Err: err}
		}
	}

	for attempt := 0; ; attempt++ {
		sess, ok := c.Session()
		if !ok {
			return nil, ErrNotConnected
		}

		req, err := c.newRequest(ctx, method, path, q, raw)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		for _, o := range opts {
			o(req, c)
		}

		env, res, err := c.send(req)
		unauthorized := (err == nil && env.Error == CodeUnauthorized) || isHTTPUnauthorized(err)
		if unauthorized && attempt == 0 {
			if rerr := c.reauthenticate(ctx); rerr != nil {
				return nil, rerr
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if unauthorized {
			// A token rejected right after a refresh is a session
			// problem, not a fault of the device.
			return nil, &APICallError{Message: "access token rejected after refresh", Code: env.Error, Request: req, Response: res}
		}
		if env.Error != CodeOK {
			return nil, c.classify(env, req, res)
		}
		return env, nil
	}
}

func isHTTPUnauthorized(err error) bool {
	var callErr *APICallError
	return errors.As(err, &callErr) && callErr.Response != nil && callErr.Response.StatusCode == http.StatusUnauthorized
}

func (c *Client) ensureSession(ctx context.Context) error {
	sess, ok := c.Session()
	if !ok {
		return c.Login(ctx)
	}
	if c.now().Sub(sess.AcquiredAt) >= AccessTokenLifetime {
		return c.reauthenticate(ctx)
	}
	return nil
}

// reauthenticate refreshes the token, falling back to a full login.
func (c *Client) reauthenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if err := c.refresh(ctx); err != nil {
		c.logWarn("cloud token refresh failed, logging in again", "error", err)
		return c.login(ctx, false)
	}
	return nil
}

// classify turns a non-zero cloud code into the matching error type.
func (c *Client) classify(env *envelope, req *http.Request, res *http.Response) error {
	if _, ok := c.transportCodes[env.Error]; ok {
		return &APICallError{Message: "calling api endpoint failed: " + env.Msg, Code: env.Error, Request: req, Response: res}
	}
	return &APIError{Code: env.Error, Message: env.Msg}
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u := c.endpoint(c.Region()) + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &APICallError{Message: "could not create request instance", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// send executes req and decodes the response envelope.
func (c *Client) send(req *http.Request) (*envelope, *http.Response, error) {
	c.logDebug("cloud request", "method", req.Method, "url", req.URL.String())

	res, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &APICallError{Message: "calling api endpoint failed", Request: req, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res, &APICallError{Message: "could not get content from response body", Request: req, Response: res, Err: err}
	}

	c.logDebug("cloud response", "url", req.URL.String(), "status", res.StatusCode)

	if res.StatusCode != http.StatusOK {
		return nil, res, &APICallError{
			Message:  fmt.Sprintf("unexpected http status %d", res.StatusCode),
			Request:  req,
			Response: res,
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, res, &APICallError{Message: "could not validate received response payload", Request: req, Response: res, Err: err}
	}
	return &env, res, nil
}

// sign returns the login signature of body.
func (c *Client) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.appSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
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

func (c *Client) logInfo(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if l := c.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}
