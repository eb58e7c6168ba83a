// Package app wires all promptflux subsystems into a running service.
//
// The App struct owns the full lifecycle: New opens the audio stream, builds
// the engine chain and the session coordinator and binds the HTTP listener,
// Run serves clients until the context is cancelled or a client sends QUIT,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithBackend,
// WithEngine, WithListener). When an option is not provided, New creates the
// real implementation from the config and the registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/promptflux-stt/internal/capture"
	"github.com/MrWong99/promptflux-stt/internal/config"
	"github.com/MrWong99/promptflux-stt/internal/health"
	"github.com/MrWong99/promptflux-stt/internal/mcp"
	"github.com/MrWong99/promptflux-stt/internal/observe"
	"github.com/MrWong99/promptflux-stt/internal/resilience"
	"github.com/MrWong99/promptflux-stt/internal/session"
	"github.com/MrWong99/promptflux-stt/internal/transport"
	"github.com/MrWong99/promptflux-stt/pkg/audio"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// stopTimeout bounds the HTTP and WebSocket drain when Run returns.
const stopTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	level    *slog.LevelVar
	registry *config.Registry
	version  string

	metrics  *observe.Metrics
	provider *observe.Provider
	reporter *observe.Reporter

	backend  audio.Backend
	capture  *capture.Capture
	engine   stt.Transcriber
	chain    *resilience.Chain
	coord    *session.Coordinator
	ws       *transport.Server
	listener net.Listener
	http     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets hot reloads change the log level of the running logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithRegistry replaces the registry of built-in engines and backends.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithBackend injects an audio backend instead of creating one from config.
func WithBackend(b audio.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithEngine injects the transcription engine instead of building the
// configured primary and fallbacks. It still runs behind a circuit breaker
// named after engine.name.
func WithEngine(t stt.Transcriber) Option {
	return func(a *App) { a.engine = t }
}

// WithListener injects the HTTP listener instead of binding host:port.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithProvider exposes the provider's Prometheus registry at /metrics when
// server.metrics is enabled.
func WithProvider(p *observe.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithReporter forwards unexpected session errors to Sentry.
func WithReporter(r *observe.Reporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithVersion sets the version advertised over MCP.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. It starts the audio stream and binds the HTTP
// listener, so a failure here means the service cannot run at all. On error
// every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg, log: slog.Default(), version: "dev"}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltins(a.registry)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	// ── 1. Audio ──────────────────────────────────────────────────────────
	if err := a.initCapture(ctx); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 2. Engines ────────────────────────────────────────────────────────
	if err := a.initEngines(); err != nil {
		return nil, fmt.Errorf("app: init engines: %w", err)
	}

	// ── 3. Session ────────────────────────────────────────────────────────
	a.coord = session.NewCoordinator(a.capture, a.chain, session.Config{
		Language: cfg.Engine.Language,
		WakeLoop: WakeLoopEnabled(cfg),
		Tunables: Tunables(cfg.Trigger),
	},
		session.WithLogger(a.log),
		session.WithMetrics(a.metrics),
		session.WithErrorReporter(a.reporter.Report),
	)
	a.ws = transport.NewServer(a.coord,
		transport.WithLogger(a.log),
		transport.WithMetrics(a.metrics),
	)

	// ── 4. HTTP ───────────────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCapture creates the backend if none was injected and starts the
// capture stream on it.
func (a *App) initCapture(ctx context.Context) error {
	if a.backend == nil {
		b, err := a.registry.CreateBackend(a.cfg.Audio.Backend)
		if err != nil {
			return err
		}
		a.backend = b
		a.closers = append(a.closers, b.Close)
	}

	a.capture = capture.New(a.backend, captureConfig(a.cfg),
		capture.WithLogger(a.log),
		capture.WithBlockObserver(a.metrics.RecordCapturedSamples),
	)
	if err := a.capture.Start(ctx); err != nil {
		return err
	}
	// Streams close before the backend that opened them.
	a.closers = append([]func() error{a.capture.Close}, a.closers...)
	return nil
}

// initEngines builds the primary engine and its fallbacks, each behind a
// circuit breaker.
func (a *App) initEngines() error {
	var engines []resilience.Engine
	if a.engine != nil {
		engines = []resilience.Engine{{Name: a.cfg.Engine.Name, Transcriber: a.engine}}
	} else {
		for i, entry := range a.cfg.Engine.Entries() {
			t, err := a.registry.CreateEngine(entry)
			if err != nil {
				return fmt.Errorf("engine %q (index %d): %w", entry.Name, i, err)
			}
			if c, ok := t.(io.Closer); ok {
				a.closers = append(a.closers, c.Close)
			}
			engines = append(engines, resilience.Engine{Name: entry.Name, Transcriber: t})
		}
	}

	chain, err := resilience.NewChain(resilience.BreakerConfig{
		MaxFailures:  a.cfg.Engine.CircuitBreaker.MaxFailures,
		ResetTimeout: a.cfg.Engine.CircuitBreaker.ResetTimeout,
	}, engines, resilience.WithStateChange(func(name string, from, to resilience.State) {
		a.log.Warn("engine circuit changed", "engine", name, "from", from.String(), "to", to.String())
		a.metrics.RecordBreakerTransition(name, to.String())
	}))
	if err != nil {
		return err
	}
	a.chain = chain
	return nil
}

// initHTTP builds the mux and binds the listener. The WebSocket route stays
// outside the observe middleware; its connections outlive any request span.
func (a *App) initHTTP() error {
	mux := http.NewServeMux()
	mw := observe.Middleware(a.metrics)

	mux.Handle("GET /{$}", a.ws)

	hmux := http.NewServeMux()
	health.New(
		health.CaptureRunning(a.capture),
		health.EnginesAvailable(a.chain),
	).Register(hmux)
	mux.Handle("GET /healthz", mw(hmux))
	mux.Handle("GET /readyz", mw(hmux))

	if a.cfg.Server.Metrics && a.provider != nil {
		mux.Handle("GET /metrics", a.provider.Handler())
	}
	if a.cfg.MCP.Enabled {
		srv := mcp.NewServer(a.coord, a.backend,
			mcp.WithEngineStates(a.EngineStates),
			mcp.WithVersion(a.version),
		)
		mux.Handle(a.cfg.MCP.Path, mw(srv.Handler()))
	}

	if a.listener == nil {
		addr := net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		a.listener = l
	}
	a.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Addr returns the address the HTTP server listens on.
func (a *App) Addr() net.Addr { return a.listener.Addr() }

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *session.Coordinator { return a.coord }

// EngineStates returns the circuit state of every engine by name.
func (a *App) EngineStates() map[string]string {
	states := a.chain.States()
	out := make(map[string]string, len(states))
	for name, s := range states {
		out[name] = s.String()
	}
	return out
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves clients and blocks until ctx is cancelled or a client sends
// QUIT. Both cases return nil; the caller then calls Shutdown.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	coordDone := make(chan struct{})

	g.Go(func() error {
		defer close(coordDone)
		return a.coord.Run(gctx)
	})
	g.Go(func() error {
		a.log.Info("listening", "addr", a.listener.Addr().String())
		if err := a.http.Serve(a.listener); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-a.coord.Done():
			a.log.Info("quit requested by client")
		case <-coordDone:
		}
		return a.stopServing()
	})

	return g.Wait()
}

// stopServing closes every client connection with a going-away frame and
// stops the HTTP server. WebSocket connections are hijacked, so they are
// closed before http.Server.Shutdown, which does not track them.
func (a *App) stopServing() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	var errs []error
	if err := a.ws.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app: close clients: %w", err))
	}
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app: shutdown http: %w", err))
	}
	return errors.Join(errs...)
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new:
// the log level and the trigger heuristics. It is the onChange callback of a
// config.Watcher. Changes that need a restart are logged and ignored.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.TriggerChanged {
		a.coord.Reload(Tunables(new.Trigger))
		a.log.Info("trigger settings reloaded",
			"wake_word", new.Trigger.WakeWord,
			"wake_threshold", new.Trigger.WakeThreshold,
			"silence_ms", new.Trigger.SilenceMs,
		)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes require a restart to take effect", "fields", d.RestartRequired)
	}
}

// ─── Startup summary ─────────────────────────────────────────────────────────

// LogSummary logs the resolved runtime configuration once at startup.
func (a *App) LogSummary() {
	cfg := a.cfg
	engines := a.chain.Names()
	a.log.Info("promptflux ready",
		"addr", a.listener.Addr().String(),
		"backend", a.backend.Name(),
		"capture_source", string(a.capture.Source()),
		"device", a.capture.Device(),
		"sample_rate", cfg.Audio.SampleRate,
		"negotiated_rate", a.capture.NegotiatedRate(),
		"engines", engines,
		"language", cfg.Engine.Language,
		"trigger", string(cfg.Trigger.Mode),
		"wake_word", cfg.Trigger.WakeWord,
		"wake_loop", WakeLoopEnabled(cfg),
		"metrics", cfg.Server.Metrics && a.provider != nil,
		"mcp", cfg.MCP.Enabled,
	)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the capture stream, the backend and the engines in that
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs every closer registered so far. Used when New fails.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			a.log.Warn("closer error", "err", err)
		}
	}
	if a.listener != nil {
		_ = a.listener.Close()
	}
}
