package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/health"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"goa.design/wflive/features/stream/ws"
	"goa.design/wflive/runtime/telemetry"
)

// newServer returns the HTTP handler exposing b: the snapshot and watch
// endpoints, a liveness probe and a readiness probe pinging the external
// backends.
func newServer(ctx context.Context, b *backends, logger telemetry.Logger) (http.Handler, error) {
	h, err := ws.NewHandler(ctx, ws.HandlerOptions{Snapshot: b.snapshot, Stream: b.stream, Logger: logger})
	if err != nil {
		return nil, err
	}
	mux := goahttp.NewMuxer()
	mux.Handle(http.MethodGet, ws.SnapshotPath, h.ServeHTTP)
	mux.Handle(http.MethodGet, ws.WatchPath, h.ServeHTTP)
	mux.Handle(http.MethodGet, "/livez", health.Handler(health.NewChecker()))
	mux.Handle(http.MethodGet, "/healthz", health.Handler(health.NewChecker(b.pingers...)))
	return log.HTTP(ctx)(mux), nil
}

// serve starts the HTTP server on addr and shuts it down when ctx is done.
func serve(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan<- error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}
	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}
