package livelist_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/livelist"
	"goa.design/wflive/runtime/livelist/inmem"
	"goa.design/wflive/runtime/workflow"
)

func seedStore(t *testing.T) *inmem.Store {
	t.Helper()
	store := inmem.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, spec := range []struct {
		name  string
		phase workflow.Phase
	}{
		{"hello-world", workflow.PhaseSucceeded},
		{"etl-nightly", workflow.PhaseRunning},
		{"hello-again", workflow.PhaseRunning},
	} {
		_, err := store.Upsert(context.Background(), &workflow.Workflow{
			Key:       workflow.Key{Namespace: "argo", Name: spec.name},
			Phase:     spec.phase,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	return store
}

func names(items []*workflow.Workflow) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func mountedView(t *testing.T, store *inmem.Store, set filter.Set, opts ...livelist.ViewOption) *livelist.View {
	t.Helper()
	m, err := livelist.New(livelist.Options{Snapshot: store, Stream: store})
	require.NoError(t, err)
	v := livelist.NewView(m, opts...)
	require.NoError(t, v.Mount(context.Background(), set))
	t.Cleanup(v.Unmount)
	require.Eventually(t, func() bool { return v.State() == livelist.StateLive && len(v.Items()) > 0 }, waitFor, tick)
	return v
}

func TestViewDisplaysReconciledList(t *testing.T) {
	store := seedStore(t)
	v := mountedView(t, store, argo(t))
	require.Equal(t, []string{"hello-again", "etl-nightly", "hello-world"}, names(v.Items()))

	_, err := store.Upsert(context.Background(), &workflow.Workflow{
		Key:   workflow.Key{Namespace: "argo", Name: "fresh"},
		Phase: workflow.PhasePending,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(v.Items()) == 4 }, waitFor, tick)
	require.Equal(t, "fresh", v.Items()[0].Name)

	_, err = store.Delete(context.Background(), workflow.Key{Namespace: "argo", Name: "etl-nightly"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(v.Items()) == 3 }, waitFor, tick)
	require.Equal(t, []string{"fresh", "hello-again", "hello-world"}, names(v.Items()))
}

func TestViewQueryDoesNotTouchReconciledList(t *testing.T) {
	var changes atomic.Int32
	store := seedStore(t)
	v := mountedView(t, store, argo(t), livelist.WithOnChange(func() { changes.Add(1) }))
	before := v.Items()
	seen := changes.Load()

	v.SetQuery("hello")
	require.Equal(t, "hello", v.Query())
	require.Equal(t, []string{"hello-again", "hello-world"}, names(v.Displayed()))
	require.Equal(t, before, v.Items())
	require.Greater(t, changes.Load(), seen)

	v.SetQuery("phase:running")
	require.Equal(t, []string{"hello-again", "etl-nightly"}, names(v.Displayed()))

	v.SetQuery("")
	require.Equal(t, names(before), names(v.Displayed()))
	require.Equal(t, before, v.Items())
}

func TestViewInitialQuery(t *testing.T) {
	v := mountedView(t, seedStore(t), argo(t), livelist.WithQuery("etl"))
	require.Equal(t, []string{"etl-nightly"}, names(v.Displayed()))
}

func TestViewSetFilter(t *testing.T) {
	store := seedStore(t)
	v := mountedView(t, store, argo(t))
	require.Equal(t, 1, store.Watchers())

	same := argo(t)
	require.NoError(t, v.SetFilter(context.Background(), same))
	require.Equal(t, 1, store.Watchers())
	require.Len(t, v.Items(), 3)

	running := argo(t, workflow.PhaseRunning)
	require.NoError(t, v.SetFilter(context.Background(), running))
	require.True(t, v.Filter().Equal(running))
	require.Eventually(t, func() bool {
		return v.State() == livelist.StateLive && len(v.Items()) == 2
	}, waitFor, tick)
	require.Equal(t, []string{"hello-again", "etl-nightly"}, names(v.Items()))
	require.Equal(t, 1, store.Watchers())

	_, err := store.Upsert(context.Background(), &workflow.Workflow{
		Key:   workflow.Key{Namespace: "argo", Name: "etl-nightly"},
		Phase: workflow.PhaseSucceeded,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(v.Items()) == 1 }, waitFor, tick)
	require.Equal(t, []string{"hello-again"}, names(v.Items()))

	var ce *filter.ConfigurationError
	require.ErrorAs(t, v.SetFilter(context.Background(), filter.Set{Namespace: "argo", Phases: []workflow.Phase{"Bogus"}}), &ce)
	require.True(t, v.Filter().Equal(running))
}

func TestViewKeepsLastListOnTransportError(t *testing.T) {
	store := seedStore(t)
	v := mountedView(t, store, argo(t))

	boom := errors.New("stream reset")
	store.Break(boom)
	require.Eventually(t, func() bool { return v.State() == livelist.StateError }, waitFor, tick)
	require.ErrorIs(t, v.Err(), boom)
	require.True(t, livelist.IsTransportError(v.Err()))
	require.Len(t, v.Items(), 3)

	require.NoError(t, v.Mount(context.Background(), argo(t)))
	require.Eventually(t, func() bool { return v.State() == livelist.StateLive && len(v.Items()) == 3 }, waitFor, tick)
	require.NoError(t, v.Err())
}

func TestViewSnapshotErrorIsReported(t *testing.T) {
	store := seedStore(t)
	store.FailList(errors.New("list timeout"))
	m, err := livelist.New(livelist.Options{Snapshot: store, Stream: store})
	require.NoError(t, err)
	v := livelist.NewView(m)
	defer v.Unmount()

	require.NoError(t, v.Mount(context.Background(), argo(t)))
	require.Eventually(t, func() bool { return v.State() == livelist.StateError }, waitFor, tick)
	var te *livelist.TransportError
	require.ErrorAs(t, v.Err(), &te)
	require.Equal(t, livelist.OpSnapshot, te.Op)
	require.Empty(t, v.Items())
	require.Eventually(t, func() bool { return store.Watchers() == 0 }, waitFor, tick)
}

func TestViewUnmount(t *testing.T) {
	store := seedStore(t)
	m, err := livelist.New(livelist.Options{Snapshot: store, Stream: store})
	require.NoError(t, err)
	v := livelist.NewView(m)
	require.Equal(t, livelist.StateIdle, v.State())

	require.NoError(t, v.Mount(context.Background(), argo(t)))
	require.Eventually(t, func() bool { return v.State() == livelist.StateLive }, waitFor, tick)

	v.Unmount()
	require.Equal(t, 0, store.Watchers())
	require.Equal(t, livelist.StateIdle, v.State())
	require.ErrorIs(t, v.Mount(context.Background(), argo(t)), livelist.ErrClosed)
	require.ErrorIs(t, v.SetFilter(context.Background(), argo(t, workflow.PhaseFailed)), livelist.ErrClosed)
	v.Unmount()
}
