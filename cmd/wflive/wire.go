package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"
	"goa.design/clue/health"
	"google.golang.org/grpc"

	snapmongo "goa.design/wflive/features/snapshot/mongo"
	mongoc "goa.design/wflive/features/snapshot/mongo/clients/mongo"
	snaptemporal "goa.design/wflive/features/snapshot/temporal"
	"goa.design/wflive/features/stream/pulse"
	clientspulse "goa.design/wflive/features/stream/pulse/clients/pulse"
	"goa.design/wflive/features/stream/ws"
	"goa.design/wflive/runtime/livelist"
	"goa.design/wflive/runtime/livelist/inmem"
	"goa.design/wflive/runtime/telemetry"
	"goa.design/wflive/runtime/watch"
)

type (
	// backends holds the sources selected by the configuration and the
	// clients they depend on.
	backends struct {
		snapshot livelist.SnapshotSource
		stream   livelist.ChangeStream
		store    *inmem.Store
		// recorders receive every demo change so external backends see the
		// same traffic as the in-memory store.
		recorders []recorder
		pingers   []health.Pinger
		closers   []func(context.Context) error
	}

	// recorder writes a change event to an external backend.
	recorder func(context.Context, watch.Event) error

	// temporalPinger adapts a Temporal client to health.Pinger.
	temporalPinger struct {
		client client.Client
	}
)

func (p temporalPinger) Name() string { return "temporal" }

func (p temporalPinger) Ping(ctx context.Context) error {
	_, err := p.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}

// connect builds the snapshot source and change stream named by cfg. On
// error the clients opened so far are closed.
func connect(cfg config, logger telemetry.Logger) (b *backends, err error) {
	b = &backends{store: inmem.New()}
	defer func() {
		if err != nil {
			_ = b.close(context.Background())
			b = nil
		}
	}()

	var remote *ws.Client
	if cfg.Snapshot == backendWS || cfg.Stream == backendWS {
		remote, err = ws.NewClient(ws.ClientOptions{URL: cfg.WSURL, Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	switch cfg.Snapshot {
	case backendMemory:
		b.snapshot = b.store
	case backendWS:
		b.snapshot = remote
	case backendMongo:
		src, err := connectMongo(cfg.Mongo, b)
		if err != nil {
			return nil, err
		}
		b.snapshot = src
		b.recorders = append(b.recorders, src.Record)
	case backendTemporal:
		tc, err := snaptemporal.Dial(snaptemporal.ClientOptions{
			HostPort:    cfg.Temporal.HostPort,
			Namespace:   cfg.Namespace,
			DialOptions: []grpc.DialOption{grpc.WithUserAgent("wflive")},
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { tc.Close(); return nil })
		b.pingers = append(b.pingers, temporalPinger{client: tc})
		src, err := snaptemporal.NewSource(snaptemporal.Options{Client: tc})
		if err != nil {
			return nil, err
		}
		b.snapshot = src
	}

	switch cfg.Stream {
	case backendMemory:
		b.stream = b.store
	case backendWS:
		b.stream = remote
	case backendPulse:
		sub, err := connectPulse(cfg.Redis, logger, b)
		if err != nil {
			return nil, err
		}
		b.stream = sub
	}
	return b, nil
}

func connectMongo(cfg mongoConfig, b *backends) (*snapmongo.Source, error) {
	mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	b.closers = append(b.closers, mc.Disconnect)
	client, err := mongoc.New(mongoc.Options{Client: mc, Database: cfg.Database, Collection: cfg.Collection})
	if err != nil {
		return nil, err
	}
	b.pingers = append(b.pingers, client)
	return snapmongo.NewSource(client)
}

func connectPulse(cfg redisConfig, logger telemetry.Logger, b *backends) (*pulse.Subscriber, error) {
	ropts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	b.closers = append(b.closers, func(context.Context) error { return rdb.Close() })
	pc, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		return nil, err
	}
	b.pingers = append(b.pingers, pc)
	pub, err := pulse.NewPublisher(pulse.PublisherOptions{Client: pc, StreamPrefix: cfg.StreamPrefix})
	if err != nil {
		return nil, err
	}
	b.recorders = append(b.recorders, func(ctx context.Context, evt watch.Event) error {
		_, err := pub.Publish(ctx, evt)
		return err
	})
	return pulse.NewSubscriber(pulse.SubscriberOptions{Client: pc, StreamPrefix: cfg.StreamPrefix, Logger: logger})
}

// close releases the clients in reverse order of creation.
func (b *backends) close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	return errors.Join(errs...)
}
