package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/time/rate"

	"goa.design/wflive/runtime/filter"
	"goa.design/wflive/runtime/livelist"
	"goa.design/wflive/runtime/workflow"
)

const clearScreen = "\033[H\033[2J"

type (
	// frame is what a single redraw shows.
	frame struct {
		filter filter.Set
		state  livelist.State
		query  string
		total  int
		items  []*workflow.Workflow
		err    error
		now    time.Time
	}

	// commandKind identifies a stdin command.
	commandKind int

	command struct {
		kind  commandKind
		query string
		set   func(filter.Set) (filter.Set, error)
	}

	// screen redraws a View on a terminal.
	screen struct {
		view    *livelist.View
		out     io.Writer
		limiter *rate.Limiter
		clear   bool
		dirty   chan struct{}
	}
)

const (
	cmdQuery commandKind = iota + 1
	cmdFilter
	cmdRemount
	cmdQuit
)

var errQuit = errors.New("quit")

func newScreen(out io.Writer, perSecond float64, clear bool) *screen {
	return &screen{
		out:     out,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		clear:   clear,
		dirty:   make(chan struct{}, 1),
	}
}

// invalidate schedules a redraw. It never blocks so it can be used as the
// View change callback.
func (s *screen) invalidate() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// run redraws the view whenever it changes, at most at the limiter rate,
// until ctx is done.
func (s *screen) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.draw()
	}
}

func (s *screen) draw() {
	f := frame{
		filter: s.view.Filter(),
		state:  s.view.State(),
		query:  s.view.Query(),
		total:  len(s.view.Items()),
		items:  s.view.Displayed(),
		err:    s.view.Err(),
		now:    time.Now(),
	}
	if s.clear {
		fmt.Fprint(s.out, clearScreen)
	}
	render(s.out, f)
}

// render writes f as a table headed by a status line.
func render(w io.Writer, f frame) {
	fmt.Fprintf(w, "%s  state=%s  %d/%d", f.filter, f.state, len(f.items), f.total)
	if f.query != "" {
		fmt.Fprintf(w, "  search=%q", f.query)
	}
	fmt.Fprintln(w)
	if f.err != nil {
		fmt.Fprintf(w, "error: %v\n", f.err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPHASE\tAGE\tVERSION\tLABELS")
	for _, wf := range f.items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", wf.Name, wf.Phase, age(f.now, wf.CreatedAt), wf.ResourceVersion, labels(wf.Labels))
	}
	_ = tw.Flush()
}

func age(now, created time.Time) string {
	if created.IsZero() {
		return "-"
	}
	d := now.Sub(created)
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func labels(m map[string]string) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ",")
}

// parseCommand parses one stdin line:
//
//	/text         set the search query ("/" alone clears it)
//	:ns NAME      switch namespace
//	:phase A,B    restrict phases (no argument selects all)
//	:remount      restart the pipeline
//	:q            quit
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return command{}, errors.New("empty command")
	case strings.HasPrefix(line, "/"):
		return command{kind: cmdQuery, query: strings.TrimSpace(line[1:])}, nil
	case !strings.HasPrefix(line, ":"):
		return command{}, fmt.Errorf("unknown command %q", line)
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "q", "quit":
		return command{kind: cmdQuit}, nil
	case "remount":
		return command{kind: cmdRemount}, nil
	case "ns":
		if arg == "" {
			return command{}, errors.New(":ns requires a namespace")
		}
		return command{kind: cmdFilter, set: func(cur filter.Set) (filter.Set, error) {
			return filter.New(arg, cur.Phases...)
		}}, nil
	case "phase":
		var phases []workflow.Phase
		for _, raw := range strings.Split(arg, ",") {
			if raw = strings.TrimSpace(raw); raw == "" {
				continue
			}
			p, err := workflow.ParsePhase(raw)
			if err != nil {
				return command{}, err
			}
			phases = append(phases, p)
		}
		return command{kind: cmdFilter, set: func(cur filter.Set) (filter.Set, error) {
			return filter.New(cur.Namespace, phases...)
		}}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", line)
	}
}

// execute applies c to view.
func execute(ctx context.Context, view *livelist.View, c command) error {
	switch c.kind {
	case cmdQuery:
		view.SetQuery(c.query)
		return nil
	case cmdFilter:
		set, err := c.set(view.Filter())
		if err != nil {
			return err
		}
		return view.SetFilter(ctx, set)
	case cmdRemount:
		return view.Mount(ctx, view.Filter())
	case cmdQuit:
		return errQuit
	}
	return nil
}

// readCommands executes the commands read from in until it is exhausted, a
// quit command is read or ctx is done. Command errors are reported on out.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, view *livelist.View) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c, err := parseCommand(line)
			if err == nil {
				err = execute(ctx, view, c)
			}
			if errors.Is(err, errQuit) {
				return err
			}
			if err != nil {
				fmt.Fprintf(out, "wflive: %v\n", err)
			}
		}
	}
}
