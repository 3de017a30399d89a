// Package pulse wraps goa.design/pulse streams behind the narrow interfaces
// used by the workflow change stream publisher and subscriber. Callers build
// the Redis client, pass it to New and keep ownership of it.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

const pulseClientName = "workflow-pulse"

type (
	// Options configures the Pulse client.
	Options struct {
		// Redis backs the Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds the number of entries kept per stream. Zero
		// uses Pulse defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add calls. Zero means no
		// timeout.
		OperationTimeout time.Duration
	}

	// Client opens Pulse streams. It also reports the health of the Redis
	// connection.
	Client interface {
		// Name identifies the client in health checks.
		Name() string
		// Ping checks the Redis connection.
		Ping(ctx context.Context) error
		// Stream returns a handle to the named stream, creating it if
		// needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
	}

	// Stream publishes to a Pulse stream and opens sinks on it.
	Stream interface {
		// Add appends an event and returns its Redis ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink creates a consumer group reading the stream.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
		// Destroy deletes the stream and its entries.
		Destroy(ctx context.Context) error
	}

	// Sink is a consumer group reading a stream.
	Sink interface {
		// Subscribe returns the channel of incoming events.
		Subscribe() <-chan *streaming.Event
		// Ack acknowledges an event.
		Ack(context.Context, *streaming.Event) error
		// Close stops the sink.
		Close(context.Context)
	}

	client struct {
		redis   *redis.Client
		maxLen  int
		timeout time.Duration

		mu      sync.Mutex
		handles map[string]*handle // stream name -> handle, default options only
	}

	handle struct {
		name    string
		owner   *client
		stream  *streaming.Stream
		timeout time.Duration
	}

	sinkAdapter struct {
		*streaming.Sink
	}
)

// New returns a Client backed by opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return &client{
		redis:   opts.Redis,
		maxLen:  opts.StreamMaxLen,
		timeout: opts.OperationTimeout,
		handles: make(map[string]*handle),
	}, nil
}

func (c *client) Name() string {
	return pulseClientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Stream returns the handle for name. Handles opened without extra options
// are cached per namespace stream so that publishing does not rebuild the
// Pulse stream for every event.
func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	if len(opts) > 0 {
		return c.open(name, opts)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[name]; ok {
		return h, nil
	}
	h, err := c.open(name, nil)
	if err != nil {
		return nil, err
	}
	c.handles[name] = h
	return h, nil
}

func (c *client) open(name string, extra []streamopts.Stream) (*handle, error) {
	opts := make([]streamopts.Stream, 0, len(extra)+1)
	if c.maxLen > 0 {
		opts = append(opts, streamopts.WithStreamMaxLen(c.maxLen))
	}
	opts = append(opts, extra...)
	str, err := streaming.NewStream(name, c.redis, opts...)
	if err != nil {
		return nil, fmt.Errorf("open workflow stream %q: %w", name, err)
	}
	return &handle{name: name, owner: c, stream: str, timeout: c.timeout}, nil
}

// forget drops a destroyed handle from the cache.
func (c *client) forget(h *handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handles[h.name] == h {
		delete(c.handles, h.name)
	}
}

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	id, err := h.stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", h.name, err)
	}
	return id, nil
}

func (h *handle) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := h.stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sink %q on %s: %w", name, h.name, err)
	}
	return sinkAdapter{Sink: sink}, nil
}

func (h *handle) Destroy(ctx context.Context) error {
	h.owner.forget(h)
	return h.stream.Destroy(ctx)
}

// Close drops the error-free return of the Pulse sink so it satisfies Sink.
func (s sinkAdapter) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
