// Package driver runs a session at a fixed tick rate and executes the save,
// load and advance requests it produces against a rollback registry.
package driver

import (
	"context"
	"errors"
	"time"

	"rewind/internal/frame"
	"rewind/internal/rollback"
	"rewind/internal/session"
	"rewind/internal/telemetry"
	"rewind/logging"
	loggingnetwork "rewind/logging/network"
	loggingrollback "rewind/logging/rollback"
	loggingsimulation "rewind/logging/simulation"
)

const (
	// DefaultTickRate is the simulation rate used when Config.TickRate is unset.
	DefaultTickRate = 60

	// slowdown stretches the tick period while the session runs ahead of its
	// peers.
	slowdown = 1.1
)

// Phase reports which kind of request the driver is executing.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSaving
	PhaseLoading
	PhaseAdvancing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSaving:
		return "saving"
	case PhaseLoading:
		return "loading"
	case PhaseAdvancing:
		return "advancing"
	default:
		return "unknown"
	}
}

// InputSource returns the current local input for a player.
type InputSource[I comparable] func(handle session.PlayerHandle) I

// AdvanceContext is what the host step sees for one simulated frame.
type AdvanceContext[I comparable] struct {
	Frame  frame.Frame
	Inputs []session.PlayerInput[I]
}

// StepFunc runs the host simulation for one frame.
type StepFunc[I comparable] func(AdvanceContext[I])

// Config tunes the driver.
type Config struct {
	TickRate int
	Clock    logging.Clock
}

// Option customises a Driver.
type Option func(*options)

type options struct {
	publisher logging.Publisher
	metrics   telemetry.Metrics
}

// WithPublisher routes the driver's structured events to pub.
func WithPublisher(pub logging.Publisher) Option {
	return func(o *options) { o.publisher = pub }
}

// WithMetrics reports tick, request and session counters to metrics.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// StepResult summarises one call to Step.
type StepResult struct {
	// Ticks is how many tick periods elapsed; Skipped of them did not advance.
	Ticks    int
	Skipped  int
	Requests int
	Loads    int
	// Err is the last non-backpressure session error, if any.
	Err error
}

// Driver owns the frame counters, the registry's histories and the session.
// It is not safe for concurrent use; Step must be called from one goroutine.
type Driver[I comparable] struct {
	tickRate  int
	period    time.Duration
	clock     logging.Clock
	registry  *rollback.Registry
	inputs    InputSource[I]
	step      StepFunc[I]
	publisher logging.Publisher
	metrics   telemetry.Metrics

	session     session.Session[I]
	counters    frame.Counters
	accumulator time.Duration
	last        time.Time
	runSlow     bool
	phase       Phase
	overruns    uint64
}

// New returns a driver without a session. Call SetSession before stepping.
func New[I comparable](cfg Config, registry *rollback.Registry, inputs InputSource[I], step StepFunc[I], opts ...Option) *Driver[I] {
	if registry == nil {
		panic("driver: registry is required")
	}
	if inputs == nil || step == nil {
		panic("driver: input source and step function are required")
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.publisher == nil {
		o.publisher = logging.NopPublisher()
	}
	tickRate := cfg.TickRate
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Driver[I]{
		tickRate:  tickRate,
		period:    time.Second / time.Duration(tickRate),
		clock:     clock,
		registry:  registry,
		inputs:    inputs,
		step:      step,
		publisher: o.publisher,
		metrics:   o.metrics,
		counters:  frame.NewCounters(),
		last:      clock.Now(),
	}
}

// SetSession installs s and resets the driver's state, sizing every history
// to the session's prediction window.
func (d *Driver[I]) SetSession(ctx context.Context, s session.Session[I]) {
	d.session = s
	window := 1
	if s != nil {
		window = max(s.MaxPredictionWindow(), 1)
	}
	d.reset(ctx, window)
}

// ClearSession removes the session and drops all saved state.
func (d *Driver[I]) ClearSession(ctx context.Context) {
	d.session = nil
	d.reset(ctx, d.registry.Window())
}

func (d *Driver[I]) reset(ctx context.Context, window int) {
	d.accumulator = 0
	d.counters = frame.NewCounters()
	d.runSlow = false
	d.phase = PhaseIdle
	d.overruns = 0
	d.last = d.clock.Now()
	d.registry.Reset(window)
	loggingrollback.SessionReset(ctx, d.publisher, 0, map[string]any{"window": window})
}

// Session returns the installed session, or nil.
func (d *Driver[I]) Session() session.Session[I] { return d.session }

// Frame is the frame the next Advance request will simulate.
func (d *Driver[I]) Frame() frame.Frame { return d.counters.Rollback }

// ConfirmedFrame is the newest frame that can no longer be rolled back.
func (d *Driver[I]) ConfirmedFrame() frame.Frame { return d.counters.Confirmed }

// Phase reports the request kind being executed.
func (d *Driver[I]) Phase() Phase { return d.phase }

// RunningSlow reports whether the tick period is currently stretched.
func (d *Driver[I]) RunningSlow() bool { return d.runSlow }

// Period is the nominal tick period.
func (d *Driver[I]) Period() time.Duration { return d.period }

// Step drives one real-time step: it accumulates the time elapsed since the
// previous call, always polls the session, and advances once for every full
// tick period accumulated.
func (d *Driver[I]) Step(ctx context.Context) StepResult {
	now := d.clock.Now()
	elapsed := now.Sub(d.last)
	d.last = now
	if d.session == nil {
		return StepResult{}
	}
	if elapsed < 0 {
		elapsed = 0
	}

	period := d.period
	if d.runSlow {
		period = time.Duration(float64(period) * slowdown)
	}
	d.accumulator += elapsed

	d.session.Poll()
	d.publishSessionEvents(ctx)

	var result StepResult
	for d.accumulator >= period {
		d.accumulator -= period
		result.Ticks++
		d.tick(ctx, &result)
	}
	return result
}

func (d *Driver[I]) tick(ctx context.Context, result *StepResult) {
	start := d.clock.Now()
	d.add("driver.ticks", 1)
	if d.session.CurrentState() != session.Running {
		result.Skipped++
		d.add("driver.ticks_waiting", 1)
		return
	}
	d.runSlow = d.session.FramesAhead() > 0

	for _, handle := range d.session.LocalPlayerHandles() {
		if err := d.session.SetInput(handle, d.inputs(handle)); err != nil {
			d.reportError(ctx, err, result)
			return
		}
	}

	requests, err := d.session.AdvanceFrame()
	if err != nil {
		d.reportError(ctx, err, result)
		return
	}
	d.execute(ctx, requests, result)
	d.confirm()

	elapsed := d.clock.Now().Sub(start)
	d.observe("driver.tick", elapsed)
	if elapsed > d.period {
		d.overruns++
		loggingsimulation.TickBudgetOverrun(ctx, d.publisher, int64(d.counters.Rollback), loggingsimulation.TickBudgetOverrunPayload{
			DurationMillis: float64(elapsed) / float64(time.Millisecond),
			BudgetMillis:   float64(d.period) / float64(time.Millisecond),
			Ratio:          float64(elapsed) / float64(d.period),
			Requests:       len(requests),
			Streak:         d.overruns,
		}, nil)
	} else {
		d.overruns = 0
	}
}

func (d *Driver[I]) reportError(ctx context.Context, err error, result *StepResult) {
	result.Skipped++
	current := int64(d.counters.Rollback)
	if errors.Is(err, session.ErrPredictionThreshold) {
		d.add("driver.ticks_skipped", 1)
		loggingrollback.FrameSkipped(ctx, d.publisher, current, loggingrollback.FrameSkippedPayload{Reason: "prediction_threshold"}, nil)
		return
	}

	result.Err = err
	d.add("driver.session_errors", 1)
	var mismatch *session.MismatchedChecksumError
	if errors.As(err, &mismatch) {
		frames := make([]int32, len(mismatch.Frames))
		for i, f := range mismatch.Frames {
			frames[i] = int32(f)
		}
		loggingrollback.ChecksumMismatch(ctx, d.publisher, current, loggingrollback.ChecksumMismatchPayload{
			CurrentFrame: int32(mismatch.CurrentFrame),
			Frames:       frames,
		}, nil)
		return
	}
	loggingrollback.SessionError(ctx, d.publisher, current, loggingrollback.SessionErrorPayload{Error: err.Error()}, nil)
}

// execute runs requests strictly in order.
func (d *Driver[I]) execute(ctx context.Context, requests []session.Request[I], result *StepResult) {
	defer func() { d.phase = PhaseIdle }()
	result.Requests += len(requests)
	for _, req := range requests {
		switch req.Kind {
		case session.RequestSave:
			d.phase = PhaseSaving
			saved := d.registry.Save(req.Frame)
			if req.Cell != nil {
				req.Cell.Save(req.Frame, saved.Checksum)
			}
			d.add("driver.saves", 1)
			loggingrollback.StateSaved(ctx, d.publisher, int64(req.Frame), loggingrollback.StateSavedPayload{
				Checksum: uint64(saved.Checksum),
				Kinds:    saved.Parts,
			}, nil)
		case session.RequestLoad:
			d.phase = PhaseLoading
			d.counters.Rollback = req.Frame
			loaded := d.registry.Load(req.Frame)
			result.Loads++
			d.add("driver.loads", 1)
			loggingrollback.StateLoaded(ctx, d.publisher, int64(req.Frame), loggingrollback.StateLoadedPayload{
				Reused:    loaded.Stats.Reused,
				Respawned: loaded.Stats.Respawned,
				Despawned: loaded.Stats.Despawned,
			}, nil)
		case session.RequestAdvance:
			d.phase = PhaseAdvancing
			d.step(AdvanceContext[I]{Frame: d.counters.Rollback, Inputs: req.Inputs})
			d.counters.Rollback = d.counters.Rollback.Next()
			d.add("driver.advances", 1)
		}
	}
}

func (d *Driver[I]) confirm() {
	confirmed := d.counters.Confirm(d.session.ConfirmedFrame())
	d.registry.Confirm(confirmed)
	if !confirmed.IsNull() {
		d.store("driver.confirmed_frame", uint64(uint32(confirmed)))
	}
	d.store("driver.frames_ahead", uint64(max(d.session.FramesAhead(), 0)))
}

func (d *Driver[I]) publishSessionEvents(ctx context.Context) {
	current := int64(d.counters.Rollback)
	for _, event := range d.session.Events() {
		peer := string(event.Peer)
		switch event.Kind {
		case session.EventSynchronizing:
			loggingnetwork.PeerSynchronizing(ctx, d.publisher, current, peer, loggingnetwork.SynchronizingPayload{
				Count: event.Count,
				Total: event.Total,
			}, nil)
		case session.EventSynchronized:
			loggingnetwork.PeerSynchronized(ctx, d.publisher, current, peer, nil)
		case session.EventNetworkInterrupted:
			loggingnetwork.PeerInterrupted(ctx, d.publisher, current, peer, loggingnetwork.InterruptedPayload{
				DisconnectTimeoutMillis: event.DisconnectTimeout.Milliseconds(),
			}, nil)
		case session.EventNetworkResumed:
			loggingnetwork.PeerResumed(ctx, d.publisher, current, peer, nil)
		case session.EventDisconnected:
			loggingnetwork.PeerDisconnected(ctx, d.publisher, current, peer, nil)
		case session.EventWaitRecommendation:
			loggingnetwork.WaitRecommendation(ctx, d.publisher, current, loggingnetwork.WaitRecommendationPayload{
				SkipFrames: event.SkipFrames,
			}, nil)
		case session.EventDesyncDetected:
			d.add("driver.desyncs", 1)
			loggingnetwork.DesyncDetected(ctx, d.publisher, current, peer, loggingnetwork.DesyncPayload{
				Frame:          int32(event.Frame),
				LocalChecksum:  uint64(event.LocalChecksum),
				RemoteChecksum: uint64(event.RemoteChecksum),
			}, nil)
		}
	}
}

// Run steps the driver every interval until ctx ends or stop, when non-nil,
// returns true after a step.
func (d *Driver[I]) Run(ctx context.Context, interval time.Duration, stop func(StepResult) bool) error {
	if interval <= 0 {
		interval = d.period
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result := d.Step(ctx)
			if stop != nil && stop(result) {
				return nil
			}
		}
	}
}

func (d *Driver[I]) add(key string, delta uint64) {
	if d.metrics != nil {
		d.metrics.Add(key, delta)
	}
}

func (d *Driver[I]) store(key string, value uint64) {
	if d.metrics != nil {
		d.metrics.Store(key, value)
	}
}

func (d *Driver[I]) observe(key string, elapsed time.Duration) {
	if observer, ok := d.metrics.(telemetry.Observer); ok {
		observer.Observe(key, elapsed)
	}
}
