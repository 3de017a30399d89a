// Package search compiles the free-text query typed in the list search box
// into a predicate over workflows.
//
// A query is a whitespace separated list of tokens, all of which must match:
//
//	name:<s>        name contains s
//	namespace:<s>   namespace contains s
//	phase:<p>       phase equals p, ignoring case
//	label:<k>=<v>   label k equals v
//	label:<k>       label k is set
//	<s>             name contains s
//
// Tokens with an unknown key are matched against the name as a whole, so
// "foo:bar" finds a workflow named "foo:bar-1". Matching is case-sensitive
// except for phases.
package search

import (
	"strings"

	"goa.design/wflive/runtime/workflow"
)

// Predicate reports whether a workflow is displayed.
type Predicate func(*workflow.Workflow) bool

// All matches every workflow.
func All(*workflow.Workflow) bool { return true }

// Compile returns the predicate for query. An empty or blank query compiles
// to All.
func Compile(query string) Predicate {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return All
	}
	preds := make([]Predicate, 0, len(fields))
	for _, f := range fields {
		preds = append(preds, compileToken(f))
	}
	return func(wf *workflow.Workflow) bool {
		if wf == nil {
			return false
		}
		for _, p := range preds {
			if !p(wf) {
				return false
			}
		}
		return true
	}
}

// Filter returns the items matching pred, in order. The result is a new
// slice; items is not modified.
func Filter(items []*workflow.Workflow, pred Predicate) []*workflow.Workflow {
	if pred == nil {
		pred = All
	}
	out := make([]*workflow.Workflow, 0, len(items))
	for _, wf := range items {
		if pred(wf) {
			out = append(out, wf)
		}
	}
	return out
}

func compileToken(tok string) Predicate {
	key, val, ok := strings.Cut(tok, ":")
	if !ok {
		return nameContains(tok)
	}
	switch key {
	case "name":
		return nameContains(val)
	case "namespace":
		return func(wf *workflow.Workflow) bool { return strings.Contains(wf.Namespace, val) }
	case "phase":
		return func(wf *workflow.Workflow) bool { return strings.EqualFold(string(wf.Phase), val) }
	case "label":
		k, v, hasValue := strings.Cut(val, "=")
		return func(wf *workflow.Workflow) bool {
			got, set := wf.Labels[k]
			if !hasValue {
				return set
			}
			return set && got == v
		}
	default:
		return nameContains(tok)
	}
}

func nameContains(s string) Predicate {
	return func(wf *workflow.Workflow) bool { return strings.Contains(wf.Name, s) }
}
