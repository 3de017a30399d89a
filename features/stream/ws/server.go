// Package ws serves live list sources over HTTP and implements them on the
// client side. GET /workflows returns the snapshot selected by the query
// filter; GET /watch upgrades to a WebSocket carrying one JSON change event
// envelope per text frame. Both endpoints take the filter as
// "namespace=...&phase=..." query parameters.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/livelist"
	"goa.design/wflive/runtime/telemetry"
	"goa.design/wflive/runtime/watch"
)

const (
	// SnapshotPath serves the snapshot endpoint.
	SnapshotPath = "/workflows"
	// WatchPath serves the change stream endpoint.
	WatchPath = "/watch"

	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second

	// maxCloseReason is the largest close frame reason allowed by RFC 6455.
	maxCloseReason = 123
)

type (
	// HandlerOptions configures a Handler.
	HandlerOptions struct {
		// Snapshot serves GET /workflows. Required.
		Snapshot livelist.SnapshotSource
		// Stream serves GET /watch. Required.
		Stream livelist.ChangeStream
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
		// WriteTimeout bounds each frame write. Defaults to 10s.
		WriteTimeout time.Duration
		// PingInterval is the keepalive period. Defaults to 30s.
		PingInterval time.Duration
		// CheckOrigin overrides the upgrader origin check.
		CheckOrigin func(*http.Request) bool
	}

	// Handler exposes a snapshot source and a change stream over HTTP.
	Handler struct {
		snapshot     livelist.SnapshotSource
		stream       livelist.ChangeStream
		logger       telemetry.Logger
		writeTimeout time.Duration
		pingInterval time.Duration
		upgrader     websocket.Upgrader
		mux          *http.ServeMux
		base         context.Context
	}

	// snapshotBody is the JSON body of the snapshot endpoint. Items are
	// CREATED event envelopes so both endpoints share one codec.
	snapshotBody struct {
		Items []json.RawMessage `json:"items"`
	}
)

// NewHandler returns a Handler. base carries the logging setup merged into
// every request context.
func NewHandler(base context.Context, opts HandlerOptions) (*Handler, error) {
	if opts.Snapshot == nil {
		return nil, errors.New("snapshot source is required")
	}
	if opts.Stream == nil {
		return nil, errors.New("change stream is required")
	}
	h := &Handler{
		snapshot:     opts.Snapshot,
		stream:       opts.Stream,
		logger:       opts.Logger,
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		upgrader:     websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		mux:          http.NewServeMux(),
		base:         base,
	}
	if h.logger == nil {
		h.logger = telemetry.NewNoopLogger()
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = defaultWriteTimeout
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	h.mux.HandleFunc("GET "+SnapshotPath, h.serveSnapshot)
	h.mux.HandleFunc("GET "+WatchPath, h.serveWatch)
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := telemetry.MergeContext(r.Context(), h.base)
	set, err := filter.FromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := h.snapshot.List(ctx, set)
	if err != nil {
		h.logger.Error(ctx, "snapshot failed", "filter", set.String(), "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	body := snapshotBody{Items: make([]json.RawMessage, 0, len(items))}
	for _, wf := range items {
		b, err := watch.Marshal(watch.Created(wf))
		if err != nil {
			h.logger.Warn(ctx, "skipping invalid snapshot item", "err", err)
			continue
		}
		body.Items = append(body.Items, b)
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug(ctx, "write snapshot response", "err", err)
	}
}

func (h *Handler) serveWatch(w http.ResponseWriter, r *http.Request) {
	ctx := telemetry.MergeContext(r.Context(), h.base)
	set, err := filter.FromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, errs, stop, err := h.stream.Watch(ctx, set)
	if err != nil {
		h.logger.Error(ctx, "open change stream failed", "filter", set.String(), "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer stop()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug(ctx, "websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	h.logger.Info(ctx, "watch opened", "filter", set.String(), "remote", r.RemoteAddr)

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	cause := h.pump(ctx, conn, events, errs)
	code, reason := websocket.CloseNormalClosure, ""
	if cause != nil {
		code, reason = websocket.CloseInternalServerErr, cause.Error()
		h.logger.Warn(ctx, "watch stopped", "filter", set.String(), "err", cause)
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout))
}

// pump writes events to conn until the stream ends, the client goes away or
// a write fails. It returns the terminal stream error, if any.
func (h *Handler) pump(ctx context.Context, conn *websocket.Conn, events <-chan watch.Event, errs <-chan error) error {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return pendingCause(errs)
			}
			payload, err := watch.Marshal(evt)
			if err != nil {
				h.logger.Warn(ctx, "dropping invalid change event", "err", err)
				continue
			}
			if err := h.write(conn, websocket.TextMessage, payload); err != nil {
				h.logger.Debug(ctx, "write change event", "err", err)
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if watch.IsIntegrityError(err) {
				h.logger.Warn(ctx, "change stream warning", "err", err)
				continue
			}
			return err
		case <-ping.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, kind int, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, payload)
}

// pendingCause returns the terminal error queued on errs when the event
// channel closed, if any.
func pendingCause(errs <-chan error) error {
	select {
	case err, ok := <-errs:
		if ok && err != nil && !watch.IsIntegrityError(err) {
			return err
		}
	default:
	}
	return nil
}
