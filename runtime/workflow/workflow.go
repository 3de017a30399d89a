// Package workflow defines the workflow record tracked by live lists.
//
// A Workflow is identified by its Key (namespace and name), which never
// changes for the lifetime of the record. The ResourceVersion is an opaque
// token assigned by the server on every write: two records with the same key
// and the same resource version are the same revision. Tokens are compared
// for equality only, never for magnitude.
package workflow

import (
	"fmt"
	"strings"
	"time"
)

type (
	// Key is the composite identity of a workflow.
	Key struct {
		// Namespace is the namespace that owns the workflow.
		Namespace string
		// Name is the workflow name, unique within the namespace.
		Name string
	}

	// Workflow is a point-in-time revision of a workflow record.
	//
	// Values handed out by the runtime are treated as immutable: a new
	// revision is a new *Workflow, never an in-place edit. Use Clone before
	// modifying a record obtained from a list.
	Workflow struct {
		Key
		// UID is the server-assigned unique identifier of this workflow
		// instance. A workflow deleted and recreated under the same name gets
		// a new UID.
		UID string
		// ResourceVersion is the opaque version token of this revision.
		ResourceVersion string
		// Phase is the current execution phase.
		Phase Phase
		// CreatedAt records when the workflow was created. Display only.
		CreatedAt time.Time
		// Labels are the user-provided labels of the workflow.
		Labels map[string]string
	}

	// Phase is the execution phase of a workflow.
	Phase string
)

const (
	// PhasePending indicates the workflow was accepted but has not started.
	PhasePending Phase = "Pending"
	// PhaseRunning indicates the workflow is executing.
	PhaseRunning Phase = "Running"
	// PhaseSucceeded indicates the workflow completed successfully.
	PhaseSucceeded Phase = "Succeeded"
	// PhaseSkipped indicates the workflow was skipped.
	PhaseSkipped Phase = "Skipped"
	// PhaseFailed indicates the workflow failed.
	PhaseFailed Phase = "Failed"
	// PhaseError indicates the workflow could not run because of an error
	// outside of its steps (controller or infrastructure error).
	PhaseError Phase = "Error"
	// PhaseOmitted indicates the workflow was omitted by a condition.
	PhaseOmitted Phase = "Omitted"
)

// phases lists the known phases in display order.
var phases = []Phase{
	PhasePending,
	PhaseRunning,
	PhaseSucceeded,
	PhaseSkipped,
	PhaseFailed,
	PhaseError,
	PhaseOmitted,
}

// Phases returns the known phases in display order.
func Phases() []Phase {
	return append([]Phase(nil), phases...)
}

// ParsePhase returns the phase matching s, ignoring case.
func ParsePhase(s string) (Phase, error) {
	for _, p := range phases {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range phases {
		if p == known {
			return true
		}
	}
	return false
}

// String returns "namespace/name".
func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// IsZero reports whether either part of the key is missing.
func (k Key) IsZero() bool {
	return k.Namespace == "" || k.Name == ""
}

// ParseKey parses a "namespace/name" string.
func ParseKey(s string) (Key, error) {
	ns, name, ok := strings.Cut(s, "/")
	if !ok || ns == "" || name == "" {
		return Key{}, fmt.Errorf("invalid workflow key %q: expected namespace/name", s)
	}
	return Key{Namespace: ns, Name: name}, nil
}

// Clone returns a deep copy of w. Clone of nil is nil.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	if w.Labels != nil {
		c.Labels = make(map[string]string, len(w.Labels))
		for k, v := range w.Labels {
			c.Labels[k] = v
		}
	}
	return &c
}
