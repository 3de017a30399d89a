package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/livelist/inmem"
	"goa.design/wflive/runtime/telemetry"
	"goa.design/wflive/runtime/workflow"
)

var demoTeams = []string{"data", "infra", "ml"}

// traffic drives synthetic workflow changes into a store: workflows are
// created Pending, move to Running, finish as Succeeded or Failed and are
// eventually deleted.
type traffic struct {
	store     *inmem.Store
	namespace string
	rng       *rand.Rand
	now       func() time.Time
	seq       int
	keys      []workflow.Key
}

func newTraffic(store *inmem.Store, namespace string, seed uint64) *traffic {
	return &traffic{
		store:     store,
		namespace: namespace,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:       time.Now,
	}
}

// run applies one change per limiter token until ctx is done.
func (t *traffic) run(ctx context.Context, limiter *rate.Limiter) error {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if err := t.step(ctx); err != nil {
			return err
		}
	}
}

// step applies one random change.
func (t *traffic) step(ctx context.Context) error {
	if len(t.keys) == 0 {
		return t.create(ctx)
	}
	switch r := t.rng.IntN(10); {
	case r < 3:
		return t.create(ctx)
	case r < 8:
		return t.advance(ctx, t.keys[t.rng.IntN(len(t.keys))])
	default:
		return t.remove(ctx)
	}
}

func (t *traffic) create(ctx context.Context) error {
	t.seq++
	wf := &workflow.Workflow{
		Key:       workflow.Key{Namespace: t.namespace, Name: fmt.Sprintf("wf-%04d", t.seq)},
		UID:       fmt.Sprintf("demo-%d", t.seq),
		Phase:     workflow.PhasePending,
		CreatedAt: t.now(),
		Labels:    map[string]string{"team": demoTeams[t.rng.IntN(len(demoTeams))]},
	}
	if _, err := t.store.Upsert(ctx, wf); err != nil {
		return err
	}
	t.keys = append(t.keys, wf.Key)
	return nil
}

func (t *traffic) advance(ctx context.Context, key workflow.Key) error {
	wf, ok := t.store.Get(key)
	if !ok {
		return nil
	}
	next := nextPhase(wf.Phase, t.rng)
	if next == wf.Phase {
		return nil
	}
	wf.Phase = next
	_, err := t.store.Upsert(ctx, wf)
	return err
}

// remove deletes a finished workflow, if any.
func (t *traffic) remove(ctx context.Context) error {
	for i, key := range t.keys {
		wf, ok := t.store.Get(key)
		if !ok || !finished(wf.Phase) {
			continue
		}
		t.keys = append(t.keys[:i], t.keys[i+1:]...)
		_, err := t.store.Delete(ctx, key)
		return err
	}
	return nil
}

func nextPhase(p workflow.Phase, rng *rand.Rand) workflow.Phase {
	switch p {
	case workflow.PhasePending:
		return workflow.PhaseRunning
	case workflow.PhaseRunning:
		if rng.IntN(3) == 0 {
			return workflow.PhaseFailed
		}
		return workflow.PhaseSucceeded
	default:
		return p
	}
}

func finished(p workflow.Phase) bool {
	return p == workflow.PhaseSucceeded || p == workflow.PhaseFailed
}

// mirror forwards every change of namespace in store to the recorders until
// ctx is done. Recorder failures are logged and skipped.
func mirror(ctx context.Context, store *inmem.Store, namespace string, recorders []recorder, logger telemetry.Logger) (func(), error) {
	set, err := filter.New(namespace)
	if err != nil {
		return nil, err
	}
	events, _, stop, err := store.Watch(ctx, set)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range events {
			for _, rec := range recorders {
				if err := rec(ctx, evt); err != nil {
					logger.Warn(ctx, "mirror change failed", "key", evt.Key.String(), "err", err)
				}
			}
		}
	}()
	return func() {
		stop()
		<-done
	}, nil
}
