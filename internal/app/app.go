// Package app wires all callwatch subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the HTTP server and the supervised monitor loop,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithProbeFactory, WithRecorder, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callwatch/internal/call"
	"github.com/MrWong99/callwatch/internal/config"
	"github.com/MrWong99/callwatch/internal/health"
	"github.com/MrWong99/callwatch/internal/monitor"
	"github.com/MrWong99/callwatch/internal/observe"
	"github.com/MrWong99/callwatch/internal/worker"
	"github.com/MrWong99/callwatch/pkg/probe"
	"github.com/MrWong99/callwatch/pkg/probe/process"
	"github.com/MrWong99/callwatch/pkg/recorder"
	"github.com/MrWong99/callwatch/pkg/recorder/obs"
)

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injectable collaborators — defaulted in New when not set by options.
	factory  probe.Factory
	fallback probe.Probe
	rec      recorder.Recorder
	metrics  *observe.Metrics

	sup *worker.Supervisor
	mon *monitor.Monitor
	srv *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProbeFactory injects the session probe factory. Without it the app
// falls back to the process-existence probe as the primary source, which
// carries materially weaker semantics.
func WithProbeFactory(f probe.Factory) Option {
	return func(a *App) { a.factory = f }
}

// WithFallbackProbe injects the degraded probe instead of the default
// process-existence probe.
func WithFallbackProbe(p probe.Probe) Option {
	return func(a *App) { a.fallback = p }
}

// WithRecorder injects a recorder instead of the OBS websocket client.
func WithRecorder(r recorder.Recorder) Option {
	return func(a *App) { a.rec = r }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any collaborator.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. Probes ────────────────────────────────────────────────────────
	if a.fallback == nil {
		a.fallback = process.New(cfg.Monitor.ProcessName)
	}
	if a.factory == nil {
		slog.Warn("no session probe registered, using process-existence probe as primary",
			"process_name", cfg.Monitor.ProcessName)
		a.factory = func() (probe.Probe, error) {
			return process.New(cfg.Monitor.ProcessName), nil
		}
	}

	// ── 3. Recorder ──────────────────────────────────────────────────────
	if a.rec == nil {
		a.rec = obs.New(obs.Config{
			URL:         cfg.OBS.URL,
			Password:    cfg.OBS.Password,
			Scene:       cfg.OBS.Scene,
			Input:       cfg.OBS.Input,
			DeviceID:    cfg.OBS.DeviceID,
			CallTimeout: cfg.OBS.CallTimeout,
		})
	}

	// ── 4. Worker supervisor ─────────────────────────────────────────────
	a.sup = worker.NewSupervisor(worker.SupervisorConfig{
		Factory: a.factory,
		Policy: worker.Policy{
			MaxWorkerAge:         cfg.Worker.MaxAge,
			MaxChecksPerWorker:   uint(cfg.Worker.MaxChecks),
			MaxConsecutiveErrors: uint(cfg.Worker.MaxConsecutiveErrors),
			ResponseTimeout:      cfg.Worker.ResponseTimeout,
			SettleDelay:          cfg.Worker.SettleDelay,
		},
		OnRestart: func(reason string) {
			a.metrics.RecordWorkerRestart(context.Background(), reason)
		},
	})

	// ── 5. Monitor ───────────────────────────────────────────────────────
	a.mon = monitor.New(monitor.Config{
		ProcessName:  cfg.Monitor.ProcessName,
		PollInterval: cfg.Monitor.PollInterval,
		Call: call.Config{
			CallDurationThreshold: cfg.Monitor.CallDurationThreshold,
			RecordingDelay:        cfg.Monitor.RecordingDelay,
		},
		MaxConsecutiveFailures: uint(cfg.Fallback.MaxConsecutiveFailures),
	}, a.sup, a.fallback, a.rec, a.metrics)

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.srv = a.buildServer()
	a.closers = append(a.closers, a.srv.Shutdown)

	// The supervisor outlives individual monitor runs so the supervised
	// restart loop gets a live worker back; it is only closed here, last.
	a.closers = append(a.closers, func(context.Context) error {
		a.sup.Shutdown()
		return nil
	})

	return a, nil
}

// buildServer assembles the health/metrics mux wrapped in the observability
// middleware.
func (a *App) buildServer() *http.Server {
	mux := http.NewServeMux()

	h := health.New(
		health.Checker{Name: "worker", Check: func(context.Context) error {
			return a.sup.Healthy()
		}},
		health.Checker{Name: "recorder", Check: a.mon.RecorderChecker},
	).WithStatus(a.mon.Status)
	h.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Monitor returns the orchestrator, exposed for the supervised run loop and
// tests.
func (a *App) Monitor() *monitor.Monitor { return a.mon }

// Run starts the HTTP server and the supervised monitor loop, blocking until
// ctx is cancelled or the restart budget is exhausted.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		defer a.Shutdown()
		return Supervise(ctx, a.mon.Run, SuperviseConfig{
			MaxRestarts: a.cfg.Restart.MaxRestarts,
			Backoff:     a.cfg.Restart.Backoff,
			MaxBackoff:  a.cfg.Restart.MaxBackoff,
			MarkerPath:  a.cfg.Restart.MarkerPath,
			OnRestart: func() {
				a.metrics.LoopRestarts.Add(context.Background(), 1)
			},
		})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears down all subsystems in order. Safe to call more than once.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		for i, closer := range a.closers {
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
}
