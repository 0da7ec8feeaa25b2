package metrics

import (
	"fmt"
	"sync"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/nerrad567/amcrest2mqtt/internal/infrastructure/config"
)

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
}

// Client emits DogStatsD counters and gauges.
//
// A nil *Client is valid and discards everything, so callers never need to
// check whether metrics are enabled.
type Client struct {
	statsd *statsd.Client

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a DogStatsD client.
//
// Parameters:
//   - cfg: Datadog configuration (agent address and namespace)
//   - tags: Constant tags added to every metric (e.g. "camera:10.0.0.20")
//
// Returns:
//   - *Client: Ready-to-use client
//   - error: If the agent address cannot be resolved
func New(cfg config.DatadogConfig, tags ...string) (*Client, error) {
	sd, err := statsd.New(cfg.Address,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(tags),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dogstatsd client: %w", err)
	}

	return &Client{statsd: sd}, nil
}

// SetLogger sets a logger for emit failures.
func (c *Client) SetLogger(logger Logger) {
	if c == nil {
		return
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Incr increments a counter by one.
func (c *Client) Incr(name string, tags ...string) {
	if c == nil || c.statsd == nil {
		return
	}
	c.report(name, c.statsd.Incr(name, tags, 1))
}

// Gauge records the current value of a measurement.
func (c *Client) Gauge(name string, value float64, tags ...string) {
	if c == nil || c.statsd == nil {
		return
	}
	c.report(name, c.statsd.Gauge(name, value, tags, 1))
}

// Close flushes and releases the underlying socket.
func (c *Client) Close() error {
	if c == nil || c.statsd == nil {
		return nil
	}
	return c.statsd.Close()
}

func (c *Client) report(name string, err error) {
	if err == nil {
		return
	}
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn("failed to emit metric", "metric", name, "error", err)
	}
}
