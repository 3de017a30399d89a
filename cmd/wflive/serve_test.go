package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/clue/health"

	"goa.design/wflive/runtime/livelist/inmem"
)

type fakePinger struct {
	name string
	err  error
}

func (p fakePinger) Name() string               { return p.name }
func (p fakePinger) Ping(context.Context) error { return p.err }

func TestServerEndpoints(t *testing.T) {
	store := inmem.New()
	b := &backends{snapshot: store, stream: store, store: store}
	h, err := newServer(context.Background(), b, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	for path, status := range map[string]int{
		"/livez":                        http.StatusOK,
		"/healthz":                      http.StatusOK,
		"/workflows?namespace=argo":     http.StatusOK,
		"/workflows":                    http.StatusBadRequest,
		"/watch?namespace=argo&phase=x": http.StatusBadRequest,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, status, resp.StatusCode, path)
	}
}

func TestHealthReportsFailingBackend(t *testing.T) {
	store := inmem.New()
	b := &backends{
		snapshot: store,
		stream:   store,
		store:    store,
		pingers:  []health.Pinger{fakePinger{name: "mongo"}, fakePinger{name: "redis", err: errors.New("down")}},
	}
	h, err := newServer(context.Background(), b, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/livez")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBackendsCloseInReverseOrder(t *testing.T) {
	var order []string
	b := &backends{closers: []func(context.Context) error{
		func(context.Context) error { order = append(order, "first"); return errors.New("a") },
		func(context.Context) error { order = append(order, "second"); return nil },
	}}
	err := b.close(context.Background())
	require.EqualError(t, err, "a")
	require.Equal(t, []string{"second", "first"}, order)
}

func TestConnectMemory(t *testing.T) {
	b, err := connect(defaultConfig(), nil)
	require.NoError(t, err)
	require.Same(t, b.store, b.snapshot)
	require.Same(t, b.store, b.stream)
	require.Empty(t, b.pingers)
	require.NoError(t, b.close(context.Background()))
}
