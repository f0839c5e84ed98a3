// Package monitor contains the recording orchestrator: the fixed-cadence
// poll loop that ties the probe path, the call state machine, and the
// external recorder together.
//
// The orchestrator owns every side effect. The supervisor answers checks, the
// state machine emits edges, and [Monitor] is the only place where those
// edges turn into recorder commands. It also carries the sticky failover to
// the degraded process-existence probe and the periodic resource self-report.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	gops "github.com/shirou/gopsutil/v4/process"

	"github.com/MrWong99/callwatch/internal/call"
	"github.com/MrWong99/callwatch/internal/health"
	"github.com/MrWong99/callwatch/internal/observe"
	"github.com/MrWong99/callwatch/internal/resilience"
	"github.com/MrWong99/callwatch/internal/worker"
	"github.com/MrWong99/callwatch/pkg/probe"
	"github.com/MrWong99/callwatch/pkg/recorder"
)

// shutdownStopTimeout bounds the final recorder Stop issued during teardown,
// after the run context is already cancelled.
const shutdownStopTimeout = 10 * time.Second

// resourceReportInterval is the cadence of the RSS/goroutine self-report.
const resourceReportInterval = time.Minute

// Config holds the orchestrator parameters.
type Config struct {
	// ProcessName is the target process, used for log context only; the
	// probes carry their own copy.
	ProcessName string

	// PollInterval is the check cadence. Default: 1s.
	PollInterval time.Duration

	// Call holds the debounce thresholds for the state machine.
	Call call.Config

	// MaxConsecutiveFailures is the orchestrator-level failed-tick streak
	// that triggers the permanent switch to the fallback probe. Default: 5.
	MaxConsecutiveFailures uint
}

// Monitor is the recording orchestrator. Run drives it from a single
// goroutine; the Status and Checker accessors are safe to call concurrently
// with Run.
type Monitor struct {
	cfg      Config
	sup      *worker.Supervisor
	failover *resilience.Failover
	rec      recorder.Recorder
	machine  *call.Machine
	metrics  *observe.Metrics

	self *gops.Process // own process, for the resource self-report

	// recorderRunning tracks whether a Start actually succeeded, so a failed
	// start never produces an unmatched Stop.
	recorderRunning bool

	statusMu   sync.Mutex
	callState  string
	recActive  bool
	lastRecErr error
}

// New creates a [Monitor] wiring the supervisor's CheckMic as the primary
// source and the fallback probe as the degraded one. The fallback is
// typically a process-existence probe with materially weaker semantics.
func New(cfg Config, sup *worker.Supervisor, fallback probe.Probe, rec recorder.Recorder, metrics *observe.Metrics) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	m := &Monitor{
		cfg:       cfg,
		sup:       sup,
		rec:       rec,
		machine:   call.NewMachine(cfg.Call),
		metrics:   metrics,
		callState: call.StateIdle.String(),
	}

	if self, err := gops.NewProcess(int32(os.Getpid())); err == nil {
		m.self = self
	}

	degraded := func() (bool, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), sup.Policy().ResponseTimeout)
		defer cancel()
		active, err := fallback.CheckActive(ctx)
		if err != nil {
			slog.Warn("degraded probe check failed", "err", err)
			return false, false
		}
		return active, true
	}

	m.failover = resilience.NewFailover(sup.CheckMic, degraded, resilience.FailoverConfig{
		Name:                   cfg.ProcessName,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		OnDegrade: func() {
			metrics.DegradedMode.Add(context.Background(), 1)
		},
	})

	return m
}

// Run drives the poll loop until ctx is cancelled. On the way out it stops an
// in-progress recording, so OBS is never left recording an ended call. Run
// may be called again after it returns; the worker supervisor survives across
// runs and is torn down by the application shutdown, not here.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("monitor started",
		"process_name", m.cfg.ProcessName,
		"poll_interval", m.cfg.PollInterval,
	)
	defer m.shutdown()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	lastReport := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ok := m.tick(ctx); !ok {
				// A failed check earns the probe path a breather: one
				// extra poll interval before the next attempt.
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(m.cfg.PollInterval):
				}
				// A tick accumulated during the pause; restart the cadence
				// and discard it so the pause actually spaces the checks.
				ticker.Reset(m.cfg.PollInterval)
				select {
				case <-ticker.C:
				default:
				}
			}
			if time.Since(lastReport) >= resourceReportInterval {
				lastReport = time.Now()
				m.reportResources(ctx)
			}
		}
	}
}

// tick performs one check-observe-act cycle and reports whether the check
// itself succeeded.
func (m *Monitor) tick(ctx context.Context) bool {
	ctx, span := observe.StartSpan(ctx, "monitor.tick")
	defer span.End()

	source := "primary"
	if m.failover.Degraded() {
		source = "degraded"
	}

	start := time.Now()
	active, ok := m.failover.Check()
	status := "ok"
	if !ok {
		status = "error"
	}
	m.metrics.RecordCheck(ctx, source, status, time.Since(start).Seconds())

	switch m.machine.Observe(time.Now(), active) {
	case call.EventCallConfirmed:
		m.metrics.CallsDetected.Add(ctx, 1)
		m.startRecording(ctx)
	case call.EventCallEnded:
		m.stopRecording(ctx)
	}

	m.statusMu.Lock()
	m.callState = m.machine.State().String()
	m.recActive = m.recorderRunning
	m.statusMu.Unlock()

	return ok
}

// startRecording issues the recorder Start command for a freshly confirmed
// call. A failure is logged and recorded, not retried; the session stays
// open and the eventual call-ended edge is still honoured.
func (m *Monitor) startRecording(ctx context.Context) {
	ctx, span := observe.StartSpan(ctx, "recorder.start")
	defer span.End()
	log := observe.Logger(ctx)

	if err := m.rec.Start(ctx); err != nil {
		m.metrics.RecordRecordingCommand(ctx, "start", "error")
		m.setRecorderErr(err)
		log.Error("failed to start recording", "err", err)
		return
	}
	m.recorderRunning = true
	m.metrics.RecordRecordingCommand(ctx, "start", "ok")
	m.metrics.RecordingActive.Add(ctx, 1)
	m.setRecorderErr(nil)
	log.Info("recording started", "process_name", m.cfg.ProcessName)
}

// stopRecording issues the recorder Stop command on the call-ended edge.
// When the earlier Start failed there is nothing to stop.
func (m *Monitor) stopRecording(ctx context.Context) {
	if !m.recorderRunning {
		slog.Debug("call ended with no active recording to stop")
		return
	}

	ctx, span := observe.StartSpan(ctx, "recorder.stop")
	defer span.End()
	log := observe.Logger(ctx)

	m.recorderRunning = false
	m.metrics.RecordingActive.Add(ctx, -1)

	if err := m.rec.Stop(ctx); err != nil {
		m.metrics.RecordRecordingCommand(ctx, "stop", "error")
		m.setRecorderErr(err)
		log.Error("failed to stop recording", "err", err)
		return
	}
	m.metrics.RecordRecordingCommand(ctx, "stop", "ok")
	m.setRecorderErr(nil)
	log.Info("recording stopped")
}

// shutdown stops an in-progress recording with a fresh bounded context (the
// run context is already cancelled). The supervisor is deliberately left
// running: the outer supervision loop may re-run this monitor, and the worker
// belongs to the app lifecycle, not to a single loop incarnation.
func (m *Monitor) shutdown() {
	if m.recorderRunning {
		slog.Info("shutting down with recording in progress, stopping it first")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownStopTimeout)
		m.stopRecording(ctx)
		cancel()
	}
	slog.Info("monitor stopped")
}

// reportResources logs the process RSS and goroutine count.
func (m *Monitor) reportResources(ctx context.Context) {
	attrs := []any{"goroutines", runtime.NumGoroutine()}
	if m.self != nil {
		if mem, err := m.self.MemoryInfoWithContext(ctx); err == nil {
			attrs = append(attrs, "rss_mb", float64(mem.RSS)/(1024*1024))
		}
	}
	slog.Info("resource usage", attrs...)
}

// setRecorderErr updates the sticky recorder error surfaced by the readiness
// checker. A successful command clears it.
func (m *Monitor) setRecorderErr(err error) {
	m.statusMu.Lock()
	m.lastRecErr = err
	m.statusMu.Unlock()
}

// Status returns the snapshot served on /statusz.
func (m *Monitor) Status() health.Status {
	h := m.sup.Handle()

	m.statusMu.Lock()
	defer m.statusMu.Unlock()

	source := "primary"
	if m.failover.Degraded() {
		source = "degraded"
	}
	return health.Status{
		WorkerGeneration: h.Generation,
		WorkerAlive:      h.Alive,
		ProbeSource:      source,
		CallState:        m.callState,
		RecordingActive:  m.recActive,
	}
}

// RecorderChecker is a readiness checker reporting the last recorder command
// failure. It clears as soon as a later command succeeds.
func (m *Monitor) RecorderChecker(context.Context) error {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	if m.lastRecErr != nil {
		return fmt.Errorf("last recorder command failed: %w", m.lastRecErr)
	}
	return nil
}
