package lan

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// mDNS service the devices announce.
const (
	ServiceName   = "_ewelink._tcp"
	ServiceDomain = "local."
)

// DefaultPort is used when an announcement carries no port.
const DefaultPort = 8081

const (
	defaultHTTPTimeout    = 10 * time.Second
	defaultBrowseInterval = 30 * time.Second
	browseRetryDelay      = 5 * time.Second
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Browser runs an mDNS browse. *zeroconf.Resolver satisfies it.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	// HTTPClient is used for /zeroconf calls. Defaults to a client with a
	// 10 second timeout.
	HTTPClient *http.Client

	// Browser overrides the mDNS resolver.
	Browser Browser

	// BrowseInterval is the length of one browse round. The resolver
	// reports each service instance once per round, so rounds are
	// restarted to pick up fresh announcements.
	BrowseInterval time.Duration

	Logger Logger
}

// Client is the LAN API client.
//
// All public methods are safe for concurrent use.
type Client struct {
	http           *http.Client
	browser        Browser
	browseInterval time.Duration
	now            func() time.Time

	keys   map[string]string
	keysMu sync.RWMutex

	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connMu    sync.Mutex

	onMessage  func(Event)
	callbackMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a LAN client.
func New(opts Options) *Client {
	c := &Client{
		http:           opts.HTTPClient,
		browser:        opts.Browser,
		browseInterval: opts.BrowseInterval,
		now:            time.Now,
		keys:           make(map[string]string),
		logger:         opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.browseInterval <= 0 {
		c.browseInterval = defaultBrowseInterval
	}
	return c
}

// SetLogger sets the logger.
func (c *Client) SetLogger(l Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = l
}

// SetOnMessage registers the handler for device announcements. The handler
// runs on the listener goroutine.
func (c *Client) SetOnMessage(fn func(Event)) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onMessage = fn
}

// RegisterDeviceKey stores the AES key of a device. Announcements and
// calls of that device are then encrypted.
func (c *Client) RegisterDeviceKey(deviceID, key string) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	c.keys[deviceID] = key
}

func (c *Client) deviceKey(deviceID string) (string, bool) {
	c.keysMu.RLock()
	defer c.keysMu.RUnlock()
	k, ok := c.keys[deviceID]
	return k, ok
}

// Connect starts listening for device announcements. It returns once the
// listener is running; announcements are delivered until Disconnect or
// until ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return nil
	}

	browser, err := c.resolver()
	if err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.connected = true

	c.wg.Add(1)
	go c.listen(listenCtx, browser)

	c.logInfo("lan listener started", "service", ServiceName)
	return nil
}

// Disconnect stops the announcement listener and waits for it to exit.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	if !c.connected {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	cancel := c.cancel
	c.cancel = nil
	c.connMu.Unlock()

	cancel()
	c.wg.Wait()
	c.logInfo("lan listener stopped")
}

// IsConnected reports whether the announcement listener is running.
func (c *Client) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// Address is where a device was seen on the network.
type Address struct {
	IPAddress string
	Domain    string
	Port      int
}

// Discover listens for announcements for the given duration and returns
// the address of every device seen, keyed by device id. It does not need
// the client to be connected.
func (c *Client) Discover(ctx context.Context, timeout time.Duration) (map[string]Address, error) {
	browser, err := c.resolver()
	if err != nil {
		return nil, err
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(map[string]Address)
	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := browser.Browse(browseCtx, ServiceName, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", ServiceName, err)
	}

	c.drain(browseCtx, entries, func(ev Event) {
		found[ev.ID] = Address{IPAddress: ev.IPAddress, Domain: ev.Domain, Port: ev.Port}
	})

	if err := ctx.Err(); err != nil {
		return found, err
	}
	return found, nil
}

func (c *Client) resolver() (Browser, error) {
	if c.browser != nil {
		return c.browser, nil
	}
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("creating mdns resolver: %w", err)
	}
	return r, nil
}

// listen runs browse rounds until ctx is cancelled.
func (c *Client) listen(ctx context.Context, browser Browser) {
	defer c.wg.Done()

	for ctx.Err() == nil {
		roundCtx, cancel := context.WithTimeout(ctx, c.browseInterval)
		entries := make(chan *zeroconf.ServiceEntry, 16)

		if err := browser.Browse(roundCtx, ServiceName, ServiceDomain, entries); err != nil {
			cancel()
			c.logError("mdns browse failed", err)
			select {
			case <-ctx.Done():
			case <-time.After(browseRetryDelay):
			}
			continue
		}

		c.drain(roundCtx, entries, c.dispatch)
		cancel()
	}
}

// drain delivers parsed announcements until the channel closes or ctx ends.
func (c *Client) drain(ctx context.Context, entries <-chan *zeroconf.ServiceEntry, fn func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if ev, ok := c.parseEntry(entry); ok {
				fn(ev)
			}
		}
	}
}

func (c *Client) dispatch(ev Event) {
	c.callbackMu.RLock()
	fn := c.onMessage
	c.callbackMu.RUnlock()

	if fn != nil {
		fn(ev)
	}
}

func (c *Client) logDebug(msg string, args ...any) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l != nil {
		l.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l != nil {
		l.Info(msg, args...)
	}
}

func (c *Client) logError(msg string, err error, args ...any) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l != nil {
		l.Error(msg, append([]any{"error", err}, args...)...)
	}
}
