// Package inmem provides an in-memory workflow store implementing both
// livelist.SnapshotSource and livelist.ChangeStream. It is meant for tests
// and local development: data lives in process memory and is lost on exit.
package inmem

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"sync"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

// DefaultBuffer is the capacity of the event channel returned by Watch.
const DefaultBuffer = 64

type (
	// Store keeps workflows in memory and fans out change events to
	// watchers. Every write assigns a new resource version from a single
	// monotonic counter. All operations copy workflows so callers cannot
	// mutate stored state.
	Store struct {
		buffer int

		mu       sync.Mutex
		version  uint64
		items    map[workflow.Key]*workflow.Workflow
		watchers map[*watcher]struct{}
		listErr  error
	}

	// Option configures a Store.
	Option func(*Store)

	watcher struct {
		set    filter.Set
		events chan watch.Event
		errs   chan error
		done   chan struct{}
		once   sync.Once
	}
)

// WithBuffer sets the event channel capacity of watchers.
func WithBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		buffer:   DefaultBuffer,
		items:    make(map[workflow.Key]*workflow.Workflow),
		watchers: make(map[*watcher]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upsert stores wf under a new resource version and notifies watchers with a
// CREATED or MODIFIED event. It returns the stored revision.
func (s *Store) Upsert(_ context.Context, wf *workflow.Workflow) (*workflow.Workflow, error) {
	if wf == nil || wf.Key.IsZero() {
		return nil, &watch.IntegrityError{Reason: "missing workflow identity"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	stored := wf.Clone()
	stored.ResourceVersion = strconv.FormatUint(s.version, 10)
	_, exists := s.items[stored.Key]
	s.items[stored.Key] = stored
	evt := watch.Created(stored.Clone())
	if exists {
		evt = watch.Modified(stored.Clone())
	}
	s.broadcast(evt)
	return stored.Clone(), nil
}

// Delete removes the workflow with key and notifies watchers. It reports
// whether the workflow existed.
func (s *Store) Delete(_ context.Context, key workflow.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false, nil
	}
	delete(s.items, key)
	s.version++
	s.broadcast(watch.Deleted(key, strconv.FormatUint(s.version, 10)))
	return true, nil
}

// Get returns a copy of the workflow with key.
func (s *Store) Get(key workflow.Key) (*workflow.Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.items[key]
	return wf.Clone(), ok
}

// List returns the workflows selected by set, newest first, then by name.
func (s *Store) List(_ context.Context, set filter.Set) ([]*workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*workflow.Workflow
	for _, wf := range s.items {
		if set.Matches(wf) {
			out = append(out, wf.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *workflow.Workflow) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Watch subscribes to the changes of the workflows selected by set. Events
// for workflows leaving the phase filter are delivered as DELETED. Writers
// block while a watcher's buffer is full, so watchers must keep draining
// their channel and must not write to the store from the goroutine reading
// it.
func (s *Store) Watch(ctx context.Context, set filter.Set) (<-chan watch.Event, <-chan error, context.CancelFunc, error) {
	if err := set.Validate(); err != nil {
		return nil, nil, nil, err
	}
	w := &watcher{
		set:    set,
		events: make(chan watch.Event, s.buffer),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	stop := func() { s.stop(w) }
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-w.done:
		}
	}()
	return w.events, w.errs, stop, nil
}

// Inject delivers evt to watchers as is, without touching stored state. Tests
// use it to simulate duplicate, stale or malformed deliveries.
func (s *Store) Inject(evt watch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcast(evt)
}

// Break terminates all current watchers with err. A nil err closes their
// event channels without an error.
func (s *Store) Break(err error) {
	s.mu.Lock()
	ws := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		ws = append(ws, w)
	}
	s.mu.Unlock()
	for _, w := range ws {
		s.terminate(w, err)
	}
}

// FailList makes subsequent List calls return err. A nil err restores normal
// behavior.
func (s *Store) FailList(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// Watchers returns the number of active watchers.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// broadcast sends evt to the watchers it is in scope for. s.mu must be held.
func (s *Store) broadcast(evt watch.Event) {
	for w := range s.watchers {
		scoped, ok := w.set.Scope(evt)
		if !ok {
			continue
		}
		select {
		case w.events <- scoped:
		case <-w.done:
		}
	}
}

// stop unregisters w and closes its channels.
func (s *Store) stop(w *watcher) {
	s.terminate(w, nil)
}

// terminate unregisters w, queues cause on its error channel when not nil
// and closes its channels.
func (s *Store) terminate(w *watcher, cause error) {
	w.once.Do(func() {
		close(w.done)
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
		if cause != nil {
			w.errs <- cause
		}
		close(w.events)
		close(w.errs)
	})
}
