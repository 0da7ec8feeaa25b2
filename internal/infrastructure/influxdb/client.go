package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout bounds the startup ping when ctx has no deadline.
	defaultConnectTimeout = 10 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client mirrors bridge activity (entity states and raw camera events)
// into InfluxDB through the non-blocking batched write API.
//
// A nil *Client is valid and drops every write, so the bridge can hold one
// unconditionally.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Writes never block on the network; failures arrive via SetOnError.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	closed  atomic.Bool
	written atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Connect creates a client and checks that the server answers a ping.
//
// Parameters:
//   - ctx: Bounds the ping; defaults to a 10s timeout without a deadline
//   - cfg: InfluxDB configuration
//
// Returns:
//   - *Client: Client ready for writes
//   - error: ErrDisabled, or ErrConnectionFailed if the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

// writeOptions applies batching defaults to non-positive config values.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize)
	}
	flushInterval := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flushInterval = time.Duration(cfg.FlushInterval) * time.Second
	}

	// #nosec G115 -- positive durations in seconds fit in uint milliseconds
	return influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(uint(flushInterval.Milliseconds()))
}

func ping(ctx context.Context, client influxdb2.Client) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// forwardErrors hands async write errors to the callback until the write
// API is closed.
func (c *Client) forwardErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes pending points and releases the client. Calling it more
// than once, or on a nil client, is safe.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// IsConnected reports whether the client still accepts writes.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// Written returns the number of points queued since Connect.
func (c *Client) Written() uint64 {
	if c == nil {
		return 0
	}
	return c.written.Load()
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush sends buffered points now. It is a no-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
