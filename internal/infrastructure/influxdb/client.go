package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
	closeTimeout   = time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Stats counts history points. Failed counts rejected batches, not
// points.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Client records device history in one InfluxDB bucket.
//
// Every point carries a "connector" tag so several connectors can share
// a bucket. Writes never block the caller: points are batched by the
// client library and failed batches are reported through SetOnError.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	open atomic.Bool

	queued  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	onError   func(err error)
	onErrorMu sync.RWMutex

	errorsDone chan struct{}
}

// Connect pings the server and opens a batching write API. connector is
// the tag value stamped on every point.
//
// ErrDisabled is returned when history is switched off in the
// configuration; callers run without a recorder in that case.
func Connect(cfg config.InfluxDBConfig, connector string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize(cfg.BatchSize)).
		SetFlushInterval(flushInterval(cfg.FlushInterval))
	if connector != "" {
		opts = opts.AddDefaultTag("connector", connector)
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:     client,
		writeAPI:   client.WriteAPI(cfg.Org, cfg.Bucket),
		errorsDone: make(chan struct{}),
	}
	c.open.Store(true)

	go c.watchErrors(c.writeAPI.Errors())

	return c, nil
}

// batchSize and flushInterval map configuration values onto the library
// options, falling back to defaults for unset or negative values.
func batchSize(n int) uint {
	if n <= 0 {
		return defaultBatchSize
	}
	return uint(n)
}

func flushInterval(seconds int) uint {
	d := defaultFlushInterval
	if seconds > 0 {
		d = time.Duration(seconds) * time.Second
	}
	return uint(d.Milliseconds())
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

func (c *Client) watchErrors(errs <-chan error) {
	defer close(c.errorsDone)

	for err := range errs {
		c.failed.Add(1)

		c.onErrorMu.RLock()
		fn := c.onError
		c.onErrorMu.RUnlock()

		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError registers the callback receiving failed batch writes.
func (c *Client) SetOnError(fn func(err error)) {
	c.onErrorMu.Lock()
	defer c.onErrorMu.Unlock()
	c.onError = fn
}

// IsConnected reports whether the client accepts points. It does not
// contact the server; HealthCheck does.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Stats returns the point counters.
func (c *Client) Stats() Stats {
	return Stats{
		Queued:  c.queued.Load(),
		Dropped: c.dropped.Load(),
		Failed:  c.failed.Load(),
	}
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close flushes buffered points and releases the client. Points written
// afterwards are counted as dropped.
func (c *Client) Close() error {
	if !c.open.CompareAndSwap(true, false) {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()

	select {
	case <-c.errorsDone:
	case <-time.After(closeTimeout):
	}
	return nil
}
