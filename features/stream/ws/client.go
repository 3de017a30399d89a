package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/telemetry"
	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

const (
	defaultBuffer      = 64
	defaultDialTimeout = 10 * time.Second
)

type (
	// ClientOptions configures a Client.
	ClientOptions struct {
		// URL is the base URL of a Handler, e.g. "http://localhost:8080".
		// Required.
		URL string
		// HTTPClient fetches snapshots. Defaults to http.DefaultClient.
		HTTPClient *http.Client
		// Dialer opens change streams. Defaults to a dialer with a 10s
		// handshake timeout.
		Dialer *websocket.Dialer
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Client implements livelist.SnapshotSource and livelist.ChangeStream
	// against a remote Handler.
	Client struct {
		base   *url.URL
		http   *http.Client
		dialer *websocket.Dialer
		buffer int
		logger telemetry.Logger
	}
)

// NewClient returns a Client for the Handler served at opts.URL.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("url is required")
	}
	base, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch base.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", base.Scheme)
	}
	c := &Client{
		base:   base,
		http:   opts.HTTPClient,
		dialer: opts.Dialer,
		buffer: opts.Buffer,
		logger: opts.Logger,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	}
	if c.buffer <= 0 {
		c.buffer = defaultBuffer
	}
	if c.logger == nil {
		c.logger = telemetry.NewNoopLogger()
	}
	return c, nil
}

// List fetches the snapshot selected by set.
func (c *Client) List(ctx context.Context, set filter.Set) ([]*workflow.Workflow, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(SnapshotPath, set, false), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch snapshot: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var body snapshotBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	items := make([]*workflow.Workflow, 0, len(body.Items))
	for _, raw := range body.Items {
		evt, err := watch.Unmarshal(raw)
		if err != nil {
			c.logger.Warn(ctx, "skipping invalid snapshot item", "err", err)
			continue
		}
		if evt.Object != nil {
			items = append(items, evt.Object)
		}
	}
	return items, nil
}

// Watch dials the change stream selected by set. Frames that fail to decode
// are reported as *watch.IntegrityError warnings. A close frame with a
// status other than normal closure ends the stream with an error carrying
// the close reason.
func (c *Client) Watch(ctx context.Context, set filter.Set) (<-chan watch.Event, <-chan error, context.CancelFunc, error) {
	if err := set.Validate(); err != nil {
		return nil, nil, nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint(WatchPath, set, true), nil)
	if err != nil {
		if resp != nil {
			return nil, nil, nil, fmt.Errorf("dial change stream: %s: %w", resp.Status, err)
		}
		return nil, nil, nil, fmt.Errorf("dial change stream: %w", err)
	}
	events := make(chan watch.Event, c.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		<-runCtx.Done()
		conn.Close()
	}()
	go func() {
		defer close(done)
		c.read(runCtx, conn, set, events, errs)
	}()
	stop := func() {
		cancel()
		<-done
	}
	return events, errs, stop, nil
}

// read forwards frames until the connection fails or ctx is done. It closes
// both channels on exit.
func (c *Client) read(ctx context.Context, conn *websocket.Conn, set filter.Set, out chan<- watch.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				err = fmt.Errorf("change stream closed by server: %s", ce.Text)
			}
			send(ctx, errs, err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		evt, err := watch.Unmarshal(payload)
		if err != nil {
			if !send(ctx, errs, err) {
				return
			}
			continue
		}
		scoped, ok := set.Scope(evt)
		if !ok {
			continue
		}
		select {
		case out <- scoped:
		case <-ctx.Done():
			return
		}
	}
}

// endpoint returns the URL of path with the query encoding set.
func (c *Client) endpoint(path string, set filter.Set, stream bool) string {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = set.Query().Encode()
	switch {
	case stream && u.Scheme == "http":
		u.Scheme = "ws"
	case stream && u.Scheme == "https":
		u.Scheme = "wss"
	case !stream && u.Scheme == "ws":
		u.Scheme = "http"
	case !stream && u.Scheme == "wss":
		u.Scheme = "https"
	}
	return u.String()
}

func send(ctx context.Context, errs chan<- error, err error) bool {
	select {
	case errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}
