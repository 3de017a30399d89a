// Package watch defines the change events delivered by workflow change
// streams and the wire envelope shared by every stream transport.
//
// An Event describes one mutation of a workflow: it was created, modified,
// or deleted. CREATED and MODIFIED events carry the full revision of the
// workflow; DELETED events carry only its identity and, when known, the
// version that was deleted. Events are immutable values.
package watch

import (
	"fmt"

	"goa.design/wflive/runtime/workflow"
)

type (
	// EventType tags the kind of change described by an Event.
	EventType string

	// Event is a single change notification for a workflow.
	Event struct {
		// Type is the kind of change.
		Type EventType
		// Key identifies the workflow the event applies to.
		Key workflow.Key
		// ResourceVersion is the version token of the revision described by
		// the event. Required for CREATED and MODIFIED.
		ResourceVersion string
		// Object is the new revision. Required for CREATED and MODIFIED,
		// nil for DELETED.
		Object *workflow.Workflow
	}
)

const (
	// EventCreated reports a workflow that did not exist before.
	EventCreated EventType = "CREATED"
	// EventModified reports a new revision of an existing workflow.
	EventModified EventType = "MODIFIED"
	// EventDeleted reports the removal of a workflow.
	EventDeleted EventType = "DELETED"

	// eventAdded is the Kubernetes watch spelling of EventCreated, accepted
	// on decode.
	eventAdded EventType = "ADDED"
)

// Created returns a CREATED event for wf.
func Created(wf *workflow.Workflow) Event {
	return newUpsert(EventCreated, wf)
}

// Modified returns a MODIFIED event for wf.
func Modified(wf *workflow.Workflow) Event {
	return newUpsert(EventModified, wf)
}

// Deleted returns a DELETED event for key. version may be empty when the
// deleted revision is unknown.
func Deleted(key workflow.Key, version string) Event {
	return Event{Type: EventDeleted, Key: key, ResourceVersion: version}
}

func newUpsert(t EventType, wf *workflow.Workflow) Event {
	evt := Event{Type: t, Object: wf}
	if wf != nil {
		evt.Key = wf.Key
		evt.ResourceVersion = wf.ResourceVersion
	}
	return evt
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventModified, EventDeleted:
		return true
	}
	return false
}

// IsUpsert reports whether e carries a workflow revision (CREATED or
// MODIFIED).
func (e Event) IsUpsert() bool {
	return e.Type == EventCreated || e.Type == EventModified
}

// Validate checks that e is well formed. It returns an *IntegrityError
// describing the first problem found.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return &IntegrityError{Key: e.Key, Reason: fmt.Sprintf("unknown event type %q", e.Type)}
	}
	if e.Key.IsZero() {
		return &IntegrityError{Key: e.Key, Reason: "missing workflow identity"}
	}
	if !e.IsUpsert() {
		return nil
	}
	if e.ResourceVersion == "" {
		return &IntegrityError{Key: e.Key, Reason: "missing resource version"}
	}
	if e.Object == nil {
		return &IntegrityError{Key: e.Key, Reason: "missing workflow object"}
	}
	if e.Object.Key != e.Key {
		return &IntegrityError{Key: e.Key, Reason: fmt.Sprintf("object key %s does not match event key", e.Object.Key)}
	}
	if e.Object.ResourceVersion != e.ResourceVersion {
		return &IntegrityError{Key: e.Key, Reason: "object resource version does not match event resource version"}
	}
	return nil
}

// String returns a compact description used in logs.
func (e Event) String() string {
	return fmt.Sprintf("%s %s@%s", e.Type, e.Key, e.ResourceVersion)
}
