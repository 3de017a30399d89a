// Package livelist keeps a list of workflows continuously up to date by
// merging a snapshot with a stream of change events.
//
// A Manager starts pipelines. Each pipeline requests a snapshot and opens a
// change stream for one filter set, concurrently. Events that arrive before
// the snapshot are buffered and replayed in arrival order once the snapshot
// seeds the list; later events are applied as they arrive. Consumers receive
// a copy of the list after every change.
//
// A View wraps a Manager for a single consumer: it owns at most one pipeline,
// restarts it when the filter set changes and applies the text search query
// on top of the reconciled list.
package livelist

import (
	"context"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

type (
	// SnapshotSource returns the current list of workflows selected by a
	// filter set.
	SnapshotSource interface {
		// List returns the workflows matching set, or a transport error.
		List(ctx context.Context, set filter.Set) ([]*workflow.Workflow, error)
	}

	// ChangeStream delivers change events for the workflows selected by a
	// filter set.
	ChangeStream interface {
		// Watch opens a change stream. Events are delivered on the first
		// channel. Errors wrapping a *watch.IntegrityError sent on the second
		// channel are warnings about dropped events and do not stop the
		// stream; any other error is terminal. Closing the event channel ends
		// the stream. The returned function stops the stream and releases
		// its resources before returning.
		Watch(ctx context.Context, set filter.Set) (<-chan watch.Event, <-chan error, context.CancelFunc, error)
	}

	// State is the lifecycle state of a pipeline.
	State int
)

const (
	// StateIdle means no pipeline is running.
	StateIdle State = iota
	// StateSnapshotPending means the pipeline waits for the snapshot and
	// buffers change events.
	StateSnapshotPending
	// StateLive means the list is seeded and events are applied as they
	// arrive.
	StateLive
	// StateError means the pipeline stopped on a transport error.
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSnapshotPending:
		return "snapshot-pending"
	case StateLive:
		return "live"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
