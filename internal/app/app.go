// Package app wires the rollback engine into a runnable process: the
// session chosen by configuration, the driver stepping an example game, the
// logging router and the HTTP endpoints for peers, metrics and diagnostics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"rewind/internal/driver"
	"rewind/internal/frame"
	"rewind/internal/input"
	"rewind/internal/rollback"
	"rewind/internal/session"
	"rewind/internal/telemetry"
	"rewind/internal/world"
	"rewind/logging"
	loggingSinks "rewind/logging/sinks"
)

// RollbackPath is where peers and spectators open their WebSocket.
const RollbackPath = "/rollback"

const (
	dialRetry     = time.Second
	shutdownGrace = 5 * time.Second
)

// Option customises Run.
type Option func(*runOptions)

type runOptions struct {
	logger   telemetry.Logger
	sinks    []logging.NamedSink
	registry *prometheus.Registry
	inputs   driver.InputSource[input.KeyboardAndMouseInput]
	onFrame  func(*Game)
}

// WithLogger replaces the default standard logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(o *runOptions) { o.logger = logger }
}

// WithSinks adds sinks to the ones named by the configuration.
func WithSinks(sinks ...logging.NamedSink) Option {
	return func(o *runOptions) { o.sinks = append(o.sinks, sinks...) }
}

// WithPrometheusRegistry registers metrics on reg instead of a fresh registry.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(o *runOptions) { o.registry = reg }
}

// WithInputSource replaces the scripted local input.
func WithInputSource(inputs driver.InputSource[input.KeyboardAndMouseInput]) Option {
	return func(o *runOptions) { o.inputs = inputs }
}

// WithFrameObserver calls fn after every driver step with the game state.
func WithFrameObserver(fn func(*Game)) Option {
	return func(o *runOptions) { o.onFrame = fn }
}

// Run starts the configured session and steps it until ctx ends or the frame
// limit is reached.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	telemetryLogger := o.logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := telemetryLogger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}

	logConfig := cfg.LoggingConfig()
	sinks, closeSinks, err := buildSinks(logConfig)
	if err != nil {
		return err
	}
	defer closeSinks()
	sinks = append(sinks, o.sinks...)

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, fallbackLogger, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	promRegistry := o.registry
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	routerMetrics := &logging.Metrics{}
	metrics := telemetry.Multi(
		telemetry.WrapMetrics(routerMetrics),
		telemetry.NewPrometheusMetrics(promRegistry, "rewind"),
	)

	w := world.New()
	registry := rollback.NewRegistry(w, cfg.MaxPrediction)
	game := NewGame(w, registry, cfg.Seed)
	game.SpawnPlayers(len(cfg.Players))

	inputs := o.inputs
	if inputs == nil {
		inputs = ScriptedInput(cfg.Seed + "/" + cfg.PeerID)
	}
	d := driver.New[input.KeyboardAndMouseInput](driver.Config{TickRate: cfg.TickRate}, registry, inputs, game.Step,
		driver.WithPublisher(router),
		driver.WithMetrics(metrics),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := router.Stats()
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "ok events=%d dropped=%d\n", stats.EventsTotal, stats.DroppedTotal)
	})
	cfg.Observability().Register(mux)

	var transport *session.WebSocketTransport
	if cfg.Mode != ModeSyncTest {
		transport = session.NewWebSocketTransport(session.PeerID(cfg.PeerID), telemetryLogger)
		mux.Handle(RollbackPath, transport)
		defer transport.Close()
	}

	s, err := newSession(cfg, transport)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	telemetryLogger.Printf("rewind %s listening on %s", cfg.Mode, listener.Addr())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if transport != nil {
		group.Go(func() error {
			return connectPeers(groupCtx, cfg, transport, telemetryLogger)
		})
	}
	group.Go(func() error {
		defer func() {
			cancel()
			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownGrace)
			defer stop()
			srv.Shutdown(shutdownCtx)
		}()
		d.SetSession(groupCtx, s)
		limit := frame.Frame(cfg.FrameLimit)
		err := d.Run(groupCtx, 0, func(driver.StepResult) bool {
			if o.onFrame != nil {
				o.onFrame(game)
			}
			return cfg.FrameLimit > 0 && !d.Frame().Before(limit)
		})
		snap := game.Snapshot()
		telemetryLogger.Printf("stopped at frame %d (confirmed %s), %d trails, telemetry %v",
			snap.Frame, d.ConfirmedFrame(), snap.Trails, routerMetrics.Snapshot())
		return err
	})
	return group.Wait()
}

func newSession(cfg Config, transport *session.WebSocketTransport) (session.Session[input.KeyboardAndMouseInput], error) {
	codec := input.KeyboardAndMouseCodec{}
	switch cfg.Mode {
	case ModeSyncTest:
		return session.NewSyncTest[input.KeyboardAndMouseInput](session.SyncTestConfig{
			NumPlayers:    len(cfg.Players),
			MaxPrediction: cfg.MaxPrediction,
			CheckDistance: cfg.CheckDistance,
			InputDelay:    cfg.InputDelay,
		})
	case ModeP2P:
		p2pCfg := session.DefaultP2PConfig()
		p2pCfg.MaxPrediction = cfg.MaxPrediction
		p2pCfg.InputDelay = cfg.InputDelay
		p2pCfg.DesyncInterval = cfg.DesyncInterval
		p2pCfg.Protocol.FPS = cfg.TickRate
		return session.NewP2P[input.KeyboardAndMouseInput](p2pCfg, transport, codec, cfg.SessionPlayers(), cfg.SpectatorPeers())
	case ModeSpectator:
		host, _, err := cfg.HostAddress()
		if err != nil {
			return nil, err
		}
		specCfg := session.DefaultSpectatorConfig()
		specCfg.NumPlayers = len(cfg.Players)
		specCfg.Protocol.FPS = cfg.TickRate
		return session.NewSpectator[input.KeyboardAndMouseInput](specCfg, transport, codec, host)
	}
	return nil, fmt.Errorf("config: unknown mode %q", cfg.Mode)
}

// connectPeers dials every configured peer, retrying until the connection
// succeeds or ctx ends. Peers that dial us are accepted on RollbackPath.
func connectPeers(ctx context.Context, cfg Config, transport *session.WebSocketTransport, logger telemetry.Logger) error {
	targets, err := cfg.PeerAddresses()
	if err != nil {
		return err
	}
	if cfg.Mode == ModeSpectator {
		host, addr, err := cfg.HostAddress()
		if err != nil {
			return err
		}
		targets = map[session.PeerID]string{host: addr}
	}

	group, ctx := errgroup.WithContext(ctx)
	for peer, addr := range targets {
		group.Go(func() error {
			for {
				err := transport.Dial(ctx, peer, addr)
				if err == nil {
					logger.Printf("connected to %s at %s", peer, addr)
					return nil
				}
				if errors.Is(err, session.ErrTransportClosed) {
					return nil
				}
				logger.Printf("dial %s failed, retrying: %v", peer, err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(dialRetry):
				}
			}
		})
	}
	return group.Wait()
}

func buildSinks(cfg logging.Config) ([]logging.NamedSink, func(), error) {
	var (
		sinks   []logging.NamedSink
		closers []io.Closer
	)
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}
	for _, name := range cfg.EnabledSinks {
		switch name {
		case "console":
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewConsoleSink(os.Stdout, cfg.Console)})
		case "json":
			var out io.Writer = os.Stdout
			if cfg.JSON.FilePath != "" {
				file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					closeAll()
					return nil, nil, fmt.Errorf("open json log: %w", err)
				}
				closers = append(closers, file)
				out = file
			}
			sinks = append(sinks, logging.NamedSink{Name: name, Sink: loggingSinks.NewJSON(out, cfg.JSON.FlushInterval)})
		case "":
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown log sink %q", name)
		}
	}
	return sinks, closeAll, nil
}
