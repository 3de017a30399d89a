// Package mongo implements a live list snapshot source backed by a MongoDB
// collection of workflow documents.
package mongo

import (
	"context"
	"errors"
	"fmt"

	mongoc "goa.design/wflive/features/snapshot/mongo/clients/mongo"
	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

// Source implements livelist.SnapshotSource by delegating to the Mongo
// client.
type Source struct {
	client mongoc.Client
	limit  int64
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLimit bounds the number of workflows returned by List.
func WithLimit(n int64) SourceOption {
	return func(s *Source) { s.limit = n }
}

// NewSource builds a Source using the provided client.
func NewSource(client mongoc.Client, opts ...SourceOption) (*Source, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	s := &Source{client: client}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// List returns the workflows selected by set, newest first.
func (s *Source) List(ctx context.Context, set filter.Set) ([]*workflow.Workflow, error) {
	items, err := s.client.ListWorkflows(ctx, mongoc.Query{
		Namespace: set.Namespace,
		Phases:    set.Phases,
		Limit:     s.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list workflows in %q: %w", set.Namespace, err)
	}
	return items, nil
}

// Record writes the effect of evt to the collection so that later snapshots
// reflect it.
func (s *Source) Record(ctx context.Context, evt watch.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	if evt.Type == watch.EventDeleted {
		_, err := s.client.DeleteWorkflow(ctx, evt.Key)
		return err
	}
	return s.client.UpsertWorkflow(ctx, evt.Object)
}
