// Package filter defines the active filter set: the server-side predicates
// that scope both the snapshot and the change stream of a live list.
//
// A Set names one namespace and, optionally, the phases to include. Two sets
// are equal when they name the same namespace and the same phases in any
// order. Live lists never diff sets: any change tears down the current
// pipeline and starts a new one.
package filter

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

type (
	// Set is an active filter set. The zero value is invalid; build sets with
	// New or FromQuery.
	Set struct {
		// Namespace scopes the list to a single namespace. Required.
		Namespace string
		// Phases restricts the list to workflows in one of the given phases.
		// Empty means all phases. New keeps it sorted and free of duplicates.
		Phases []workflow.Phase
	}

	// ConfigurationError reports an invalid filter set. It is returned
	// before any snapshot or stream call is made.
	ConfigurationError struct {
		// Reason describes the problem.
		Reason string
	}
)

// Error implements error.
func (e *ConfigurationError) Error() string {
	return "invalid filter set: " + e.Reason
}

// New builds a normalized Set and validates it.
func New(namespace string, phases ...workflow.Phase) (Set, error) {
	s := Set{Namespace: namespace, Phases: normalize(phases)}
	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}

// FromQuery builds a Set from URL query parameters: "namespace" and repeated
// "phase" values, e.g. "namespace=argo&phase=Running&phase=Failed". Phase
// names are matched case-insensitively.
func FromQuery(values url.Values) (Set, error) {
	var phases []workflow.Phase
	for _, raw := range values["phase"] {
		if raw == "" {
			continue
		}
		p, err := workflow.ParsePhase(raw)
		if err != nil {
			return Set{}, &ConfigurationError{Reason: err.Error()}
		}
		phases = append(phases, p)
	}
	return New(values.Get("namespace"), phases...)
}

// Query returns the URL query parameters encoding s. It is the inverse of
// FromQuery.
func (s Set) Query() url.Values {
	v := url.Values{}
	v.Set("namespace", s.Namespace)
	for _, p := range s.Phases {
		v.Add("phase", string(p))
	}
	return v
}

// Validate returns a *ConfigurationError if s is unusable.
func (s Set) Validate() error {
	if strings.TrimSpace(s.Namespace) == "" {
		return &ConfigurationError{Reason: "namespace is required"}
	}
	for _, p := range s.Phases {
		if !p.Valid() {
			return &ConfigurationError{Reason: fmt.Sprintf("unknown phase %q", p)}
		}
	}
	return nil
}

// Equal reports whether s and other select the same workflows. Phase order
// and duplicates are ignored.
func (s Set) Equal(other Set) bool {
	return s.Namespace == other.Namespace && slices.Equal(normalize(s.Phases), normalize(other.Phases))
}

// Matches reports whether wf is selected by s.
func (s Set) Matches(wf *workflow.Workflow) bool {
	if wf == nil || wf.Namespace != s.Namespace {
		return false
	}
	return s.matchesPhase(wf.Phase)
}

// Scope adapts a change event from an unfiltered stream to s. Events for
// other namespaces are dropped (ok is false). A CREATED or MODIFIED event
// whose object does not match the phase filter becomes a DELETED event for
// the same key and version, so a workflow that leaves the selected phases is
// removed from the list. DELETED events and invalid events pass through
// unchanged; the latter are rejected downstream.
func (s Set) Scope(evt watch.Event) (watch.Event, bool) {
	if evt.Key.Namespace != s.Namespace {
		return watch.Event{}, false
	}
	if !evt.IsUpsert() || evt.Object == nil {
		return evt, true
	}
	if s.matchesPhase(evt.Object.Phase) {
		return evt, true
	}
	return watch.Deleted(evt.Key, evt.ResourceVersion), true
}

// String returns a stable description of s, e.g. "argo[Failed,Running]".
func (s Set) String() string {
	phases := normalize(s.Phases)
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return s.Namespace + "[" + strings.Join(names, ",") + "]"
}

func (s Set) matchesPhase(p workflow.Phase) bool {
	return len(s.Phases) == 0 || slices.Contains(s.Phases, p)
}

// normalize returns a sorted copy of phases without duplicates.
func normalize(phases []workflow.Phase) []workflow.Phase {
	if len(phases) == 0 {
		return nil
	}
	out := slices.Clone(phases)
	slices.Sort(out)
	return slices.Compact(out)
}
