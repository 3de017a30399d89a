package livelist

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/reconcile"
	"goa.design/wflive/runtime/telemetry"
	"goa.design/wflive/runtime/watch"
	"goa.design/wflive/runtime/workflow"
)

type (
	// Options configures a Manager.
	Options struct {
		// Snapshot fetches the initial list. Required.
		Snapshot SnapshotSource
		// Stream delivers change events. Required.
		Stream ChangeStream
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics defaults to a no-op recorder.
		Metrics telemetry.Metrics
		// Tracer defaults to a no-op tracer.
		Tracer telemetry.Tracer
	}

	// Manager starts live list pipelines. It is safe for concurrent use;
	// pipelines are independent of each other.
	Manager struct {
		snapshot SnapshotSource
		stream   ChangeStream
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
	}

	// Subscription is a running pipeline.
	Subscription struct {
		set    filter.Set
		cancel context.CancelFunc
		done   chan struct{}

		mu    sync.Mutex
		state State
	}

	// pipeline holds the per-run collaborators of a Subscription.
	pipeline struct {
		*Manager
		sub      *Subscription
		rec      *reconcile.Reconciler
		onUpdate func([]*workflow.Workflow)
		onError  func(error)
	}

	snapshotResult struct {
		items []*workflow.Workflow
		err   error
	}
)

// New returns a Manager using the sources in opts.
func New(opts Options) (*Manager, error) {
	if opts.Snapshot == nil {
		return nil, errors.New("snapshot source is required")
	}
	if opts.Stream == nil {
		return nil, errors.New("change stream is required")
	}
	m := &Manager{
		snapshot: opts.Snapshot,
		stream:   opts.Stream,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
	if m.logger == nil {
		m.logger = telemetry.NewNoopLogger()
	}
	if m.metrics == nil {
		m.metrics = telemetry.NewNoopMetrics()
	}
	if m.tracer == nil {
		m.tracer = telemetry.NewNoopTracer()
	}
	return m, nil
}

// Start validates set and starts a pipeline for it. An invalid set returns a
// *filter.ConfigurationError before any source is called.
//
// onUpdate receives a copy of the list once the snapshot is seeded and after
// every event that changes it. onError receives *watch.IntegrityError
// warnings and the *TransportError that stops the pipeline. Both are called
// from the pipeline goroutine, one at a time, and must not call Cancel on
// the subscription that invokes them. Either may be nil.
//
// The pipeline stops when ctx is canceled or Cancel is called.
func (m *Manager) Start(
	ctx context.Context,
	set filter.Set,
	onUpdate func([]*workflow.Workflow),
	onError func(error),
) (*Subscription, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if onUpdate == nil {
		onUpdate = func([]*workflow.Workflow) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		set:    set,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateSnapshotPending,
	}
	p := &pipeline{
		Manager:  m,
		sub:      sub,
		rec:      reconcile.New(),
		onUpdate: onUpdate,
		onError:  onError,
	}
	go p.run(runCtx)
	return sub, nil
}

// Cancel stops the pipeline and waits for it to exit. No callback starts
// after Cancel returns. Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.cancel()
	<-s.done
}

// Done is closed once the pipeline has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// State returns the current pipeline state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set returns the filter set of the pipeline.
func (s *Subscription) Set() filter.Set {
	return s.set
}

// setState moves to state. StateError is final.
func (s *Subscription) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateError {
		return
	}
	s.state = state
}

func (p *pipeline) run(ctx context.Context) {
	defer close(p.sub.done)
	defer p.sub.setState(StateIdle)

	ctx, cancel := context.WithCancel(ctx)
	var fetching sync.WaitGroup
	defer func() {
		cancel()
		fetching.Wait()
	}()

	set := p.sub.set
	snapshot := make(chan snapshotResult, 1)
	fetching.Add(1)
	go func() {
		defer fetching.Done()
		items, err := p.fetch(ctx, set)
		snapshot <- snapshotResult{items: items, err: err}
	}()

	events, errs, stop, err := p.stream.Watch(ctx, set)
	if err != nil {
		p.fail(ctx, OpWatch, err)
		return
	}
	defer stop()

	var pending []watch.Event
	for !p.rec.Seeded() {
		select {
		case <-ctx.Done():
			return
		case res := <-snapshot:
			if res.err != nil {
				p.fail(ctx, OpSnapshot, res.err)
				return
			}
			if err := p.rec.Seed(res.items); err != nil {
				p.fail(ctx, OpSnapshot, err)
				return
			}
		case evt, ok := <-events:
			if !ok {
				p.fail(ctx, OpWatch, closedCause(errs))
				return
			}
			pending = append(pending, evt)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if !p.warn(ctx, err) {
				p.fail(ctx, OpWatch, err)
				return
			}
		}
	}
	for _, evt := range pending {
		p.apply(ctx, evt)
	}
	p.sub.setState(StateLive)
	p.logger.Info(ctx, "live list seeded", "filter", set.String(), "count", p.rec.Len(), "replayed", len(pending))
	p.emit(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				p.fail(ctx, OpWatch, closedCause(errs))
				return
			}
			if p.apply(ctx, evt) {
				p.emit(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if !p.warn(ctx, err) {
				p.fail(ctx, OpWatch, err)
				return
			}
		}
	}
}

// fetch lists the snapshot for set and drops entries the set does not
// select.
func (p *pipeline) fetch(ctx context.Context, set filter.Set) ([]*workflow.Workflow, error) {
	ctx, span := p.tracer.Start(ctx, telemetry.SpanSnapshot,
		trace.WithAttributes(attribute.String("wflive.namespace", set.Namespace)))
	defer span.End()

	start := time.Now()
	items, err := p.snapshot.List(ctx, set)
	p.metrics.RecordTimer(telemetry.MetricSnapshotDuration, time.Since(start), "namespace", set.Namespace)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	selected := make([]*workflow.Workflow, 0, len(items))
	for _, wf := range items {
		if set.Matches(wf) {
			selected = append(selected, wf)
		}
	}
	span.AddEvent("listed", "count", len(selected), "dropped", len(items)-len(selected))
	return selected, nil
}

// apply validates evt, scopes it to the filter set and merges it into the
// list. It reports whether the list changed.
func (p *pipeline) apply(ctx context.Context, evt watch.Event) bool {
	if err := evt.Validate(); err != nil {
		p.warn(ctx, err)
		return false
	}
	ns := p.sub.set.Namespace
	evt, ok := p.sub.set.Scope(evt)
	if !ok {
		p.metrics.IncCounter(telemetry.MetricEventsIgnored, 1, "namespace", ns)
		return false
	}
	changed, err := p.rec.Apply(evt)
	if err != nil {
		p.warn(ctx, err)
		return false
	}
	if changed {
		p.metrics.IncCounter(telemetry.MetricEventsApplied, 1, "namespace", ns, "type", string(evt.Type))
	} else {
		p.metrics.IncCounter(telemetry.MetricEventsIgnored, 1, "namespace", ns)
	}
	return changed
}

// warn reports err if it is an integrity error and returns true, or
// returns false for any other error.
func (p *pipeline) warn(ctx context.Context, err error) bool {
	if !watch.IsIntegrityError(err) {
		return false
	}
	p.metrics.IncCounter(telemetry.MetricEventsRejected, 1, "namespace", p.sub.set.Namespace)
	p.logger.Warn(ctx, "dropped invalid change event", "filter", p.sub.set.String(), "err", err)
	if ctx.Err() == nil {
		p.onError(err)
	}
	return true
}

// fail stops the pipeline on a transport error. Failures caused by
// cancellation are not reported.
func (p *pipeline) fail(ctx context.Context, op string, err error) {
	if ctx.Err() != nil {
		return
	}
	terr := &TransportError{Op: op, Err: err}
	p.sub.setState(StateError)
	p.metrics.IncCounter(telemetry.MetricPipelineErrors, 1, "namespace", p.sub.set.Namespace, "op", op)
	p.logger.Error(ctx, "live list stopped", "filter", p.sub.set.String(), "op", op, "err", err)
	p.onError(terr)
}

func (p *pipeline) emit(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	p.onUpdate(p.rec.Items())
}

// closedCause returns the terminal error pending on errs, if any, or
// ErrStreamClosed.
func closedCause(errs <-chan error) error {
	select {
	case err, ok := <-errs:
		if ok && err != nil && !watch.IsIntegrityError(err) {
			return err
		}
	default:
	}
	return ErrStreamClosed
}
