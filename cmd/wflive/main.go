// Command wflive keeps a list of workflows up to date from a snapshot source
// and a change stream. It either renders the list on the terminal or serves
// the sources over HTTP and WebSocket for remote viewers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"goa.design/clue/log"
	"golang.org/x/time/rate"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/livelist"
	"goa.design/wflive/runtime/telemetry"
	"goa.design/wflive/runtime/workflow"
)

// demoSeed is the number of workflows created before the list is mounted.
const demoSeed = 5

var errInterrupted = errors.New("interrupted")

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wflive: %v\n", err)
		os.Exit(2)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format), log.WithOutput(os.Stderr))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	log.Print(ctx, log.KV{K: "snapshot", V: cfg.Snapshot}, log.KV{K: "stream", V: cfg.Stream}, log.KV{K: "namespace", V: cfg.Namespace})

	if err := run(ctx, cfg); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, cfg config) error {
	set, err := initialFilter(cfg)
	if err != nil {
		return err
	}
	logger := telemetry.NewClueLogger()
	b, err := connect(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(context.Background()); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "close backends"})
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	errc := make(chan error, 4)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-c:
			errc <- fmt.Errorf("%w: %s", errInterrupted, s)
		case <-ctx.Done():
		}
	}()

	if cfg.Demo {
		stop, err := startDemo(ctx, cfg, b, logger, &wg, errc)
		if err != nil {
			return err
		}
		defer stop()
	}

	if cfg.Serve != "" {
		handler, err := newServer(ctx, b, logger)
		if err != nil {
			return err
		}
		serve(ctx, cfg.Serve, handler, &wg, errc)
	} else {
		m, err := livelist.New(livelist.Options{
			Snapshot: b.snapshot,
			Stream:   b.stream,
			Logger:   logger,
			Metrics:  telemetry.NewClueMetrics(),
			Tracer:   telemetry.NewClueTracer(),
		})
		if err != nil {
			return err
		}
		scr := newScreen(os.Stdout, cfg.Redraw, log.IsTerminal())
		view := livelist.NewView(m, livelist.WithOnChange(scr.invalidate), livelist.WithQuery(cfg.Search))
		scr.view = view
		defer view.Unmount()
		if err := view.Mount(ctx, set); err != nil {
			return err
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			scr.run(ctx)
		}()
		go func() {
			defer wg.Done()
			if err := readCommands(ctx, os.Stdin, os.Stderr, view); errors.Is(err, errQuit) {
				errc <- err
			}
		}()
	}

	err = <-errc
	log.Printf(ctx, "exiting (%v)", err)
	cancel()
	wg.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, errInterrupted) {
		return nil
	}
	return err
}

// startDemo seeds the in-memory store, mirrors its changes to the external
// backends and starts the traffic generator.
func startDemo(ctx context.Context, cfg config, b *backends, logger telemetry.Logger, wg *sync.WaitGroup, errc chan<- error) (func(), error) {
	stop, err := mirror(ctx, b.store, cfg.Namespace, b.recorders, logger)
	if err != nil {
		return nil, err
	}
	tr := newTraffic(b.store, cfg.Namespace, uint64(time.Now().UnixNano()))
	for range demoSeed {
		if err := tr.create(ctx); err != nil {
			stop()
			return nil, err
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tr.run(ctx, rate.NewLimiter(rate.Limit(cfg.DemoRate), 1)); err != nil && ctx.Err() == nil {
			errc <- err
		}
	}()
	return stop, nil
}

func initialFilter(cfg config) (filter.Set, error) {
	phases := make([]workflow.Phase, 0, len(cfg.Phases))
	for _, raw := range cfg.Phases {
		p, err := workflow.ParsePhase(raw)
		if err != nil {
			return filter.Set{}, err
		}
		phases = append(phases, p)
	}
	return filter.New(cfg.Namespace, phases...)
}
