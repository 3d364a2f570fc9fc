package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes homenet telemetry to an InfluxDB v2 bucket.
//
// Points are queued on the library's non-blocking write API and sent in
// batches, so callers on the event loop never wait on the network.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client influxdb2.Client
	writer api.WriteAPI
	org    string
	bucket string

	// mu guards closed; writers hold it shared so Close cannot tear the
	// write API down under them.
	mu      sync.RWMutex
	closed  bool
	written atomic.Uint64
	failed  atomic.Uint64

	errMu   sync.RWMutex
	onError func(error)

	errorsDone chan struct{}
}

// options maps the config section onto client options. Zero or negative
// batch settings fall back to 100 points and 10 seconds.
func options(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush / time.Millisecond))
}

// Connect creates the client and checks the server answers.
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Client ready to record points
//   - error: ErrDisabled, or ErrConnectionFailed wrapping the ping error
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	ok, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("%w: %s: server not ready", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:     client,
		writer:     client.WriteAPI(cfg.Org, cfg.Bucket),
		org:        cfg.Org,
		bucket:     cfg.Bucket,
		errorsDone: make(chan struct{}),
	}
	go c.forwardErrors(c.writer.Errors())
	return c, nil
}

// forwardErrors hands batch failures to the SetOnError callback until the
// write API closes its error channel.
func (c *Client) forwardErrors(errs <-chan error) {
	defer close(c.errorsDone)
	for err := range errs {
		c.failed.Add(1)
		c.errMu.RLock()
		fn := c.onError
		c.errMu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// SetOnError sets the callback for failed batch writes. Writes are
// asynchronous, so this is the only place they surface.
func (c *Client) SetOnError(fn func(error)) {
	c.errMu.Lock()
	c.onError = fn
	c.errMu.Unlock()
}

// writePoint queues p unless the client is closed.
func (c *Client) writePoint(p *write.Point) {
	if c == nil || c.writer == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.writer.WritePoint(p)
	c.written.Add(1)
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Stats reports how many points were queued and how many batch writes
// failed since Connect.
func (c *Client) Stats() (queued, failedBatches uint64) {
	return c.written.Load(), c.failed.Load()
}

// Flush sends queued points now. No-op after Close.
func (c *Client) Flush() {
	if c.writer == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.writer.Flush()
	}
}

// HealthCheck pings the server.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, ErrClosed after Close, or the ping failure
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ok, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb health check failed: server not ready")
	}
	return nil
}

// Close flushes queued points and releases the client. Safe to call on
// a nil client and more than once.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.writer.Flush()
	c.client.Close()
	c.mu.Unlock()

	select {
	case <-c.errorsDone:
	case <-time.After(pingTimeout):
	}
	return nil
}
