// Package reconcile merges a snapshot of workflows and a stream of change
// events into one authoritative, ordered list.
//
// The list is unique by workflow key. Its order is the snapshot order,
// amended by events: a workflow seen for the first time is inserted at the
// front, an updated workflow keeps its position and a deleted workflow is
// removed. An event carrying the resource version already held for its key
// is a duplicate delivery and changes nothing, whatever its type. A DELETED
// event without a version always removes.
//
// A Reconciler is not safe for concurrent use. The live list pipeline owns
// one per subscription and drives it from a single goroutine.
package reconcile

import (
	"errors"

	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

var (
	// ErrNotSeeded is returned by Apply before Seed was called.
	ErrNotSeeded = errors.New("reconciler not seeded")
	// ErrAlreadySeeded is returned by Seed when called more than once.
	ErrAlreadySeeded = errors.New("reconciler already seeded")
)

// Reconciler owns the authoritative list of a single pipeline.
type Reconciler struct {
	items  []*workflow.Workflow
	seeded bool
}

// New returns an empty, unseeded Reconciler.
func New() *Reconciler {
	return &Reconciler{}
}

// Seed replaces the list with items. It may be called once. Nil entries are
// skipped. Duplicate keys collapse to a single entry at the position of the
// first occurrence holding the last occurrence's revision.
func (r *Reconciler) Seed(items []*workflow.Workflow) error {
	if r.seeded {
		return ErrAlreadySeeded
	}
	r.seeded = true
	r.items = make([]*workflow.Workflow, 0, len(items))
	pos := make(map[workflow.Key]int, len(items))
	for _, wf := range items {
		if wf == nil {
			continue
		}
		if i, ok := pos[wf.Key]; ok {
			r.items[i] = wf
			continue
		}
		pos[wf.Key] = len(r.items)
		r.items = append(r.items, wf)
	}
	return nil
}

// Seeded reports whether Seed was called.
func (r *Reconciler) Seeded() bool {
	return r.seeded
}

// Apply merges evt into the list and reports whether the list changed.
// Invalid events return a *watch.IntegrityError and leave the list as is.
func (r *Reconciler) Apply(evt watch.Event) (bool, error) {
	if !r.seeded {
		return false, ErrNotSeeded
	}
	if err := evt.Validate(); err != nil {
		return false, err
	}
	i := r.Index(evt.Key)
	if i >= 0 && evt.ResourceVersion != "" && r.items[i].ResourceVersion == evt.ResourceVersion {
		return false, nil
	}
	switch {
	case evt.Type == watch.EventDeleted:
		if i < 0 {
			return false, nil
		}
		r.items = append(r.items[:i], r.items[i+1:]...)
	case i >= 0:
		r.items[i] = evt.Object
	default:
		r.items = append(r.items, nil)
		copy(r.items[1:], r.items)
		r.items[0] = evt.Object
	}
	return true, nil
}

// Items returns a copy of the list. Entries are shared and must not be
// modified.
func (r *Reconciler) Items() []*workflow.Workflow {
	return append([]*workflow.Workflow(nil), r.items...)
}

// Len returns the number of workflows in the list.
func (r *Reconciler) Len() int {
	return len(r.items)
}

// Index returns the position of key in the list or -1.
func (r *Reconciler) Index(key workflow.Key) int {
	for i, wf := range r.items {
		if wf.Key == key {
			return i
		}
	}
	return -1
}
