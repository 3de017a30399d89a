package pulse

import (
	"context"
	"errors"
	"fmt"

	clientspulse "goa.design/wflive/features/stream/pulse/clients/pulse"
	"goa.design/wflive/runtime/watch"
)

type (
	// PublisherOptions configures a Publisher.
	PublisherOptions struct {
		// Client opens streams. Required.
		Client clientspulse.Client
		// StreamPrefix defaults to DefaultStreamPrefix.
		StreamPrefix string
	}

	// Publisher appends workflow change events to Pulse streams.
	Publisher struct {
		client clientspulse.Client
		prefix string
	}
)

// NewPublisher returns a Publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	prefix := opts.StreamPrefix
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	return &Publisher{client: opts.Client, prefix: prefix}, nil
}

// Publish encodes evt and appends it to the stream of its namespace. It
// returns the Redis ID of the entry.
func (p *Publisher) Publish(ctx context.Context, evt watch.Event) (string, error) {
	payload, err := watch.Marshal(evt)
	if err != nil {
		return "", err
	}
	str, err := p.client.Stream(StreamName(p.prefix, evt.Key.Namespace))
	if err != nil {
		return "", err
	}
	id, err := str.Add(ctx, string(evt.Type), payload)
	if err != nil {
		return "", fmt.Errorf("publish %s %s: %w", evt.Type, evt.Key, err)
	}
	return id, nil
}
