package livelist

import (
	"context"
	"sync"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/search"
	"goa.design/wflive/runtime/workflow"
)

type (
	// View is the live list of one consumer. It runs at most one pipeline at
	// a time, keeps the last list it received and filters it with the
	// current text query on demand. A View is safe for concurrent use.
	View struct {
		m        *Manager
		onChange func()

		// switching serializes pipeline teardown and startup. It is held
		// while canceling a subscription so it must never be taken by
		// pipeline callbacks.
		switching sync.Mutex

		mu      sync.Mutex
		set     filter.Set
		sub     *Subscription
		gen     uint64
		items   []*workflow.Workflow
		query   string
		pred    search.Predicate
		err     error
		mounted bool
		closed  bool
	}

	// ViewOption configures a View.
	ViewOption func(*View)
)

// WithOnChange registers fn to be called after the list, the query, the
// state or the last error changes. fn may be called from pipeline
// goroutines and must not block.
func WithOnChange(fn func()) ViewOption {
	return func(v *View) { v.onChange = fn }
}

// WithQuery sets the initial text query.
func WithQuery(query string) ViewOption {
	return func(v *View) {
		v.query = query
		v.pred = search.Compile(query)
	}
}

// NewView returns an unmounted View backed by m.
func NewView(m *Manager, opts ...ViewOption) *View {
	v := &View{m: m, pred: search.All, onChange: func() {}}
	for _, o := range opts {
		o(v)
	}
	if v.onChange == nil {
		v.onChange = func() {}
	}
	return v
}

// Mount starts a pipeline for set, replacing any running one even when the
// set is unchanged. Use Mount to retry after a transport error.
func (v *View) Mount(ctx context.Context, set filter.Set) error {
	return v.restart(ctx, set, true)
}

// SetFilter switches the view to set. It does nothing when set equals the
// current set of a mounted view.
func (v *View) SetFilter(ctx context.Context, set filter.Set) error {
	return v.restart(ctx, set, false)
}

// SetQuery changes the text query. The reconciled list is left untouched.
func (v *View) SetQuery(query string) {
	v.mu.Lock()
	v.query = query
	v.pred = search.Compile(query)
	v.mu.Unlock()
	v.onChange()
}

// Query returns the current text query.
func (v *View) Query() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

// Filter returns the current filter set.
func (v *View) Filter() filter.Set {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set
}

// Items returns a copy of the reconciled list.
func (v *View) Items() []*workflow.Workflow {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*workflow.Workflow(nil), v.items...)
}

// Displayed returns the reconciled list filtered by the text query.
func (v *View) Displayed() []*workflow.Workflow {
	v.mu.Lock()
	items, pred := v.items, v.pred
	v.mu.Unlock()
	return search.Filter(items, pred)
}

// State returns the state of the current pipeline.
func (v *View) State() State {
	v.mu.Lock()
	sub := v.sub
	v.mu.Unlock()
	if sub == nil {
		return StateIdle
	}
	return sub.State()
}

// Err returns the last error reported by the current pipeline. It is reset
// when a new pipeline starts.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Unmount stops the pipeline. The view cannot be mounted again. Unmount is
// idempotent.
func (v *View) Unmount() {
	v.switching.Lock()
	defer v.switching.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mounted = false
	v.gen++
	sub := v.sub
	v.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	v.onChange()
}

func (v *View) restart(ctx context.Context, set filter.Set, force bool) error {
	if err := set.Validate(); err != nil {
		return err
	}
	v.switching.Lock()
	defer v.switching.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if !force && v.mounted && v.set.Equal(set) {
		v.mu.Unlock()
		return nil
	}
	v.gen++
	old := v.sub
	v.mu.Unlock()

	if old != nil {
		old.Cancel()
	}

	v.mu.Lock()
	gen := v.gen
	v.set = set
	v.sub = nil
	v.items = nil
	v.err = nil
	v.mounted = false
	v.mu.Unlock()

	sub, err := v.m.Start(ctx, set,
		func(items []*workflow.Workflow) { v.update(gen, items, nil) },
		func(err error) { v.update(gen, nil, err) },
	)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.sub = sub
	v.mounted = true
	v.mu.Unlock()
	v.onChange()
	return nil
}

// update records a list or an error from the pipeline of generation gen.
// Calls from canceled pipelines are ignored.
func (v *View) update(gen uint64, items []*workflow.Workflow, err error) {
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.err = err
	} else {
		v.items = items
	}
	v.mu.Unlock()
	v.onChange()
}
