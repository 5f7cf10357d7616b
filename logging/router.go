package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans published events out to its sinks. Publish never blocks the
// caller: events that find the queue or a sink backlog full are counted as
// dropped, and the tally is reported on the fallback logger once per
// Config.DropWarnInterval and again on Close.
type Router struct {
	queue    chan Event
	done     chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
	clock    Clock
	fallback *log.Logger
	severity Severity
	fields   map[string]any
	warnWait time.Duration
	outputs  []*output

	routed   atomic.Uint64
	dropped  atomic.Uint64
	reported uint64
}

type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
}

// NewRouter starts the dispatcher and one writer per sink. A nil clock reads
// the wall clock and a nil fallback writes to stderr.
func NewRouter(clock Clock, cfg Config, fallback *log.Logger, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 512
	}
	warnWait := cfg.DropWarnInterval
	if warnWait <= 0 {
		warnWait = 5 * time.Second
	}
	r := &Router{
		queue:    make(chan Event, size),
		done:     make(chan struct{}),
		clock:    clock,
		fallback: fallback,
		severity: cfg.MinimumSeverity,
		fields:   cfg.CloneFields(),
		warnWait: warnWait,
	}
	backlog := min(max(size, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink != nil {
			r.outputs = append(r.outputs, newOutput(named, backlog, r))
		}
	}

	r.wg.Add(1 + len(r.outputs))
	for _, out := range r.outputs {
		go func() {
			defer r.wg.Done()
			out.run()
		}()
	}
	go r.dispatch()
	return r, nil
}

// Publish queues event for the sinks. Events without a type are ignored, as
// is everything published after Close.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
	}
}

func (r *Router) dispatch() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.warnWait)
	defer ticker.Stop()
	for {
		select {
		case event := <-r.queue:
			r.route(event)
		case <-ticker.C:
			r.warnDropped()
		case <-r.done:
			for len(r.queue) > 0 {
				r.route(<-r.queue)
			}
			for _, out := range r.outputs {
				close(out.events)
			}
			return
		}
	}
}

// warnDropped reports drops since the previous call. Only the dispatcher
// calls it, and Close once the dispatcher has exited.
func (r *Router) warnDropped() {
	total := r.dropped.Load()
	if total > r.reported {
		r.fallback.Printf("dropped %d events", total-r.reported)
	}
	r.reported = total
}

func (r *Router) route(event Event) {
	if event.Severity < r.severity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.fields) > 0 {
		event = cloneForFields(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.fields))
		}
		for k, v := range r.fields {
			if _, set := event.Extra[k]; !set {
				event.Extra[k] = v
			}
		}
	}
	r.routed.Add(1)
	for _, out := range r.outputs {
		out.offer(event)
	}
}

// Close flushes queued events, waits for the writers to finish and closes
// every sink. It returns ctx's error if that takes too long.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.warnDropped()
	var firstErr error
	for _, out := range r.outputs {
		if err := out.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsTotal:  r.routed.Load(),
		DroppedTotal: r.dropped.Load(),
	}
}

// output owns one sink. After a failed write it discards events until a
// backoff, doubling per consecutive failure up to 32s, has elapsed.
type output struct {
	name    string
	sink    Sink
	events  chan Event
	router  *Router
	strikes int
	resume  time.Time
}

func newOutput(named NamedSink, backlog int, r *Router) *output {
	return &output{
		name:   named.Name,
		sink:   named.Sink,
		events: make(chan Event, backlog),
		router: r,
	}
}

func (o *output) offer(event Event) {
	select {
	case o.events <- cloneForFields(event):
	default:
		o.router.dropped.Add(1)
	}
}

func (o *output) run() {
	for event := range o.events {
		if o.strikes > 0 && o.router.clock.Now().Before(o.resume) {
			o.router.dropped.Add(1)
			continue
		}
		if err := o.sink.Write(event); err != nil {
			o.strikes++
			backoff := time.Second << min(o.strikes, 5)
			o.resume = o.router.clock.Now().Add(backoff)
			o.router.fallback.Printf("sink %s failed: %v (paused for %s)", o.name, err, backoff)
			continue
		}
		o.strikes = 0
	}
}
