package pulse

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"goa.design/pulse/streaming"

	clientspulse "goa.design/wflive/features/stream/pulse/clients/pulse"
	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/telemetry"
	"goa.design/wflive/runtime/watch"
)

const (
	defaultSinkPrefix = "wflive"
	defaultBuffer     = 64
)

type (
	// EnvelopeDecoder converts a raw Pulse payload into a change event.
	EnvelopeDecoder func([]byte) (watch.Event, error)

	// SubscriberOptions configures a Subscriber.
	SubscriberOptions struct {
		// Client opens streams. Required.
		Client clientspulse.Client
		// StreamPrefix defaults to DefaultStreamPrefix.
		StreamPrefix string
		// SinkPrefix prefixes the per-subscription sink names. Defaults to
		// "wflive".
		SinkPrefix string
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder defaults to watch.Unmarshal.
		Decoder EnvelopeDecoder
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Subscriber implements livelist.ChangeStream over Pulse. Every Watch
	// call opens its own sink so concurrent pipelines each see every event.
	Subscriber struct {
		client     clientspulse.Client
		prefix     string
		sinkPrefix string
		buffer     int
		decode     EnvelopeDecoder
		logger     telemetry.Logger
	}
)

// NewSubscriber returns a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{
		client:     opts.Client,
		prefix:     opts.StreamPrefix,
		sinkPrefix: opts.SinkPrefix,
		buffer:     opts.Buffer,
		decode:     opts.Decoder,
		logger:     opts.Logger,
	}
	if s.prefix == "" {
		s.prefix = DefaultStreamPrefix
	}
	if s.sinkPrefix == "" {
		s.sinkPrefix = defaultSinkPrefix
	}
	if s.buffer <= 0 {
		s.buffer = defaultBuffer
	}
	if s.decode == nil {
		s.decode = watch.Unmarshal
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	return s, nil
}

// Watch opens a sink on the stream of set.Namespace. Decoded events are
// scoped to set before delivery and acked once handed over. Payloads that
// fail to decode are acked, dropped and reported as *watch.IntegrityError on
// the error channel. Sink failures are terminal. The returned function
// closes the sink and waits for the consumer goroutine to exit.
func (s *Subscriber) Watch(ctx context.Context, set filter.Set) (<-chan watch.Event, <-chan error, context.CancelFunc, error) {
	if err := set.Validate(); err != nil {
		return nil, nil, nil, err
	}
	str, err := s.client.Stream(StreamName(s.prefix, set.Namespace))
	if err != nil {
		return nil, nil, nil, err
	}
	name := s.sinkPrefix + "-" + uuid.NewString()
	sink, err := str.NewSink(ctx, name)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan watch.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.consume(runCtx, set, sink, events, errs)
	}()
	s.logger.Debug(ctx, "pulse sink opened", "sink", name, "filter", set.String())
	stop := func() {
		cancel()
		sink.Close(context.Background())
		<-done
	}
	return events, errs, stop, nil
}

// consume forwards sink events until ctx is canceled or the sink closes. It
// closes both channels on exit.
func (s *Subscriber) consume(ctx context.Context, set filter.Set, sink clientspulse.Sink, out chan<- watch.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !s.forward(ctx, set, msg, out, errs) {
				return
			}
			if err := sink.Ack(ctx, msg); err != nil {
				if ctx.Err() == nil {
					s.send(ctx, errs, fmt.Errorf("pulse ack %s: %w", msg.ID, err))
				}
				return
			}
		}
	}
}

// forward decodes msg and delivers it. It returns false when ctx is done.
func (s *Subscriber) forward(ctx context.Context, set filter.Set, msg *streaming.Event, out chan<- watch.Event, errs chan<- error) bool {
	evt, err := s.decode(msg.Payload)
	if err != nil {
		s.logger.Warn(ctx, "dropping undecodable pulse event", "id", msg.ID, "err", err)
		return s.send(ctx, errs, fmt.Errorf("pulse event %s: %w", msg.ID, asIntegrity(err)))
	}
	scoped, ok := set.Scope(evt)
	if !ok {
		return true
	}
	select {
	case out <- scoped:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Subscriber) send(ctx context.Context, errs chan<- error, err error) bool {
	select {
	case errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}

// asIntegrity makes sure decoder failures are reported as integrity errors
// so pipelines treat them as warnings.
func asIntegrity(err error) error {
	if watch.IsIntegrityError(err) {
		return err
	}
	return &watch.IntegrityError{Reason: "undecodable payload", Err: err}
}
