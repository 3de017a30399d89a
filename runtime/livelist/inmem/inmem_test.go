package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

func argo(t *testing.T, phases ...workflow.Phase) filter.Set {
	t.Helper()
	set, err := filter.New("argo", phases...)
	require.NoError(t, err)
	return set
}

func next(t *testing.T, events <-chan watch.Event) watch.Event {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return watch.Event{}
	}
}

func TestUpsertAssignsMonotonicVersions(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.Upsert(ctx, &workflow.Workflow{Key: workflow.Key{Namespace: "argo", Name: "a"}, Phase: workflow.PhaseRunning})
	require.NoError(t, err)
	require.Equal(t, "1", a.ResourceVersion)

	a.Phase = workflow.PhaseFailed
	a2, err := s.Upsert(ctx, a)
	require.NoError(t, err)
	require.Equal(t, "2", a2.ResourceVersion)

	got, ok := s.Get(a.Key)
	require.True(t, ok)
	require.Equal(t, workflow.PhaseFailed, got.Phase)

	got.Phase = workflow.PhaseError
	again, _ := s.Get(a.Key)
	require.Equal(t, workflow.PhaseFailed, again.Phase)

	_, err = s.Upsert(ctx, &workflow.Workflow{})
	require.True(t, watch.IsIntegrityError(err))
}

func TestListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, w := range []*workflow.Workflow{
		{Key: workflow.Key{Namespace: "argo", Name: "b"}, Phase: workflow.PhaseRunning, CreatedAt: base},
		{Key: workflow.Key{Namespace: "argo", Name: "a"}, Phase: workflow.PhaseRunning, CreatedAt: base},
		{Key: workflow.Key{Namespace: "argo", Name: "c"}, Phase: workflow.PhaseFailed, CreatedAt: base.Add(time.Hour)},
		{Key: workflow.Key{Namespace: "prod", Name: "d"}, Phase: workflow.PhaseRunning, CreatedAt: base},
	} {
		_, err := s.Upsert(ctx, w)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, argo(t))
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].Name)
	require.Equal(t, "a", all[1].Name)
	require.Equal(t, "b", all[2].Name)

	running, err := s.List(ctx, argo(t, workflow.PhaseRunning))
	require.NoError(t, err)
	require.Len(t, running, 2)

	boom := errors.New("unavailable")
	s.FailList(boom)
	_, err = s.List(ctx, argo(t))
	require.ErrorIs(t, err, boom)
}

func TestWatchDeliversScopedEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	events, _, stop, err := s.Watch(ctx, argo(t, workflow.PhaseRunning))
	require.NoError(t, err)
	defer stop()

	key := workflow.Key{Namespace: "argo", Name: "a"}
	_, err = s.Upsert(ctx, &workflow.Workflow{Key: key, Phase: workflow.PhaseRunning})
	require.NoError(t, err)
	evt := next(t, events)
	require.Equal(t, watch.EventCreated, evt.Type)
	require.Equal(t, "1", evt.ResourceVersion)

	_, err = s.Upsert(ctx, &workflow.Workflow{Key: workflow.Key{Namespace: "prod", Name: "x"}, Phase: workflow.PhaseRunning})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, &workflow.Workflow{Key: key, Phase: workflow.PhaseSucceeded})
	require.NoError(t, err)
	evt = next(t, events)
	require.Equal(t, watch.Deleted(key, "3"), evt)

	ok, err := s.Delete(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, watch.Deleted(key, "4"), next(t, events))

	ok, err = s.Delete(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWatchStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New()
	events, errs, stop, err := s.Watch(ctx, argo(t))
	require.NoError(t, err)
	require.Equal(t, 1, s.Watchers())

	stop()
	stop()
	require.Equal(t, 0, s.Watchers())
	_, open := <-events
	require.False(t, open)
	_, open = <-errs
	require.False(t, open)

	events, _, _, err = s.Watch(ctx, argo(t))
	require.NoError(t, err)
	cancel()
	require.Eventually(t, func() bool { return s.Watchers() == 0 }, time.Second, 5*time.Millisecond)
	_, open = <-events
	require.False(t, open)

	_, _, _, err = s.Watch(context.Background(), filter.Set{})
	require.Error(t, err)
}

func TestBreakAndInject(t *testing.T) {
	s := New()
	events, errs, stop, err := s.Watch(context.Background(), argo(t))
	require.NoError(t, err)
	defer stop()

	raw := watch.Event{Type: "BOOKMARK", Key: workflow.Key{Namespace: "argo", Name: "a"}}
	s.Inject(raw)
	require.Equal(t, raw, next(t, events))

	boom := errors.New("reset")
	s.Break(boom)
	require.Equal(t, boom, <-errs)
	_, open := <-events
	require.False(t, open)
	require.Equal(t, 0, s.Watchers())
}
