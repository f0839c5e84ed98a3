package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/callwatch/pkg/probe"
)

// ErrWorkerSpawn is returned by [Supervisor.StartWorker] when a fresh worker
// cannot be created (e.g., the probe factory fails). It is surfaced to the
// caller, not silently retried.
var ErrWorkerSpawn = errors.New("worker spawn failed")

// ErrSupervisorClosed is returned when an operation is attempted after
// [Supervisor.Shutdown].
var ErrSupervisorClosed = errors.New("supervisor is shut down")

// Default policy values applied by [NewSupervisor] for zero fields.
const (
	defaultMaxWorkerAge       = 10 * time.Minute
	defaultMaxChecksPerWorker = 500
	defaultMaxConsecErrors    = 5
	defaultResponseTimeout    = 3 * time.Second
	defaultSettleDelay        = 50 * time.Millisecond
	defaultGracefulTimeout    = 2 * time.Second
	defaultTerminateTimeout   = 1 * time.Second
	defaultKillTimeout        = 1 * time.Second
)

// maxDrainAttempts bounds the stale-response drain performed before each
// CHECK is issued.
const maxDrainAttempts = 3

// HandleState is the lifecycle state of a worker handle.
type HandleState int

const (
	StateStopped HandleState = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the human-readable name of the state.
func (s HandleState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Policy holds the immutable restart and timeout thresholds for a
// [Supervisor]. The age and usage caps exist because wrapped native probes
// leak or degrade under long-lived, high-volume use; restarting never changes
// the answer to "is the mic active", only its reliability over time.
type Policy struct {
	// MaxWorkerAge is how long a worker may live before a proactive restart.
	// Default: 10m.
	MaxWorkerAge time.Duration

	// MaxChecksPerWorker is how many checks a worker may serve before a
	// proactive restart. Default: 500.
	MaxChecksPerWorker uint

	// MaxConsecutiveErrors is the failed-check count that forces an immediate
	// restart. Default: 5.
	MaxConsecutiveErrors uint

	// ResponseTimeout is the hard bound on waiting for a CHECK response.
	// Default: 3s.
	ResponseTimeout time.Duration

	// SettleDelay is the pause after a restart before the next request, giving
	// the fresh probe time to initialise. Default: 50ms.
	SettleDelay time.Duration

	// GracefulTimeout bounds the wait after an EXIT request during shutdown.
	// Default: 2s.
	GracefulTimeout time.Duration

	// TerminateTimeout bounds the wait after the kill signal. Default: 1s.
	TerminateTimeout time.Duration

	// KillTimeout bounds the final wait before the worker is abandoned.
	// Default: 1s.
	KillTimeout time.Duration
}

// withDefaults returns p with zero fields replaced by defaults.
func (p Policy) withDefaults() Policy {
	if p.MaxWorkerAge <= 0 {
		p.MaxWorkerAge = defaultMaxWorkerAge
	}
	if p.MaxChecksPerWorker == 0 {
		p.MaxChecksPerWorker = defaultMaxChecksPerWorker
	}
	if p.MaxConsecutiveErrors == 0 {
		p.MaxConsecutiveErrors = defaultMaxConsecErrors
	}
	if p.ResponseTimeout <= 0 {
		p.ResponseTimeout = defaultResponseTimeout
	}
	if p.SettleDelay <= 0 {
		p.SettleDelay = defaultSettleDelay
	}
	if p.GracefulTimeout <= 0 {
		p.GracefulTimeout = defaultGracefulTimeout
	}
	if p.TerminateTimeout <= 0 {
		p.TerminateTimeout = defaultTerminateTimeout
	}
	if p.KillTimeout <= 0 {
		p.KillTimeout = defaultKillTimeout
	}
	return p
}

// Handle is a read-only snapshot of the current worker incarnation, exposed
// for health checks and tests. Generation increments on every replacement, so
// observers can verify that a restart discarded the old handle.
type Handle struct {
	Generation        uint64
	StartedAt         time.Time
	ChecksServed      uint
	ConsecutiveErrors uint
	State             HandleState
	Alive             bool
}

// workerHandle is the mutable per-incarnation record owned by the supervisor.
type workerHandle struct {
	generation        uint64
	startedAt         time.Time
	checksServed      uint
	consecutiveErrors uint
	state             HandleState

	ch   *RequestChannel
	kill chan struct{}
	done chan struct{}
}

// alive reports whether the worker goroutine is still running.
func (h *workerHandle) alive() bool {
	if h == nil || h.state != StateRunning {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Supervisor owns the lifecycle of a single probe worker. At any instant
// exactly zero or one worker incarnation is active; a new one is never
// created while the old one has not been confirmed stopped.
//
// CheckMic, StartWorker, restart and Shutdown must be called from a single
// goroutine (the orchestrator); the snapshot accessors are safe to call
// concurrently with them.
type Supervisor struct {
	factory probe.Factory
	policy  Policy

	// onRestart, when non-nil, is invoked with the trigger reason each time
	// the worker is replaced.
	onRestart func(reason string)

	mu         sync.Mutex
	cur        *workerHandle
	generation uint64
	closed     bool
}

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	// Factory creates a fresh probe per worker incarnation. Required.
	Factory probe.Factory

	// Policy holds restart thresholds and timeouts. Zero fields take defaults.
	Policy Policy

	// OnRestart is called with the trigger reason whenever the worker is
	// replaced. May be nil.
	OnRestart func(reason string)
}

// NewSupervisor creates a [Supervisor]. The worker is not started; call
// [Supervisor.StartWorker] or let the first CheckMic start it lazily via the
// not-alive restart trigger.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		factory:   cfg.Factory,
		policy:    cfg.Policy.withDefaults(),
		onRestart: cfg.OnRestart,
	}
}

// Policy returns the effective (defaulted) policy.
func (s *Supervisor) Policy() Policy { return s.policy }

// Handle returns a snapshot of the current worker incarnation.
func (s *Supervisor) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.cur
	if h == nil {
		return Handle{State: StateStopped}
	}
	return Handle{
		Generation:        h.generation,
		StartedAt:         h.startedAt,
		ChecksServed:      h.checksServed,
		ConsecutiveErrors: h.consecutiveErrors,
		State:             h.state,
		Alive:             h.alive(),
	}
}

// Healthy returns nil when a live worker incarnation exists. Suitable as a
// readiness checker.
func (s *Supervisor) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSupervisorClosed
	}
	if !s.cur.alive() {
		return errors.New("probe worker is not running")
	}
	return nil
}

// StartWorker spawns a fresh worker incarnation, resetting all age, usage and
// error counters. The previous incarnation, if any, must already be stopped.
func (s *Supervisor) StartWorker() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSupervisorClosed
	}
	if s.cur.alive() {
		return errors.New("worker already running")
	}
	return s.startLocked()
}

// startLocked performs the Stopped→Starting→Running transition. Caller holds mu.
func (s *Supervisor) startLocked() error {
	s.generation++
	h := &workerHandle{
		generation: s.generation,
		state:      StateStarting,
		ch:         NewRequestChannel(),
		kill:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.cur = h

	p, err := s.factory()
	if err != nil {
		h.state = StateStopped
		return fmt.Errorf("%w: %v", ErrWorkerSpawn, err)
	}

	w := &probeWorker{
		ch:        h.ch,
		probe:     p,
		maxChecks: s.policy.MaxChecksPerWorker,
		kill:      h.kill,
		done:      h.done,
	}
	go w.run()

	h.startedAt = time.Now()
	h.state = StateRunning
	slog.Info("probe worker started", "generation", h.generation)
	return nil
}

// ShouldRestart reports whether the current worker must be replaced before
// the next check: not alive, too old, too many checks served, or too many
// consecutive errors.
func (s *Supervisor) ShouldRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartReasonLocked() != ""
}

// restartReasonLocked returns the trigger reason, or "" when no restart is
// due. Caller holds mu.
func (s *Supervisor) restartReasonLocked() string {
	h := s.cur
	switch {
	case !h.alive():
		return "not-alive"
	case time.Since(h.startedAt) > s.policy.MaxWorkerAge:
		return "max-age"
	case h.checksServed > s.policy.MaxChecksPerWorker:
		return "max-checks"
	case h.consecutiveErrors >= s.policy.MaxConsecutiveErrors:
		return "consecutive-errors"
	default:
		return ""
	}
}

// CheckMic issues one CHECK through the worker and returns its answer.
//
// The boolean ok reports whether the answer came from a successful check.
// A transport timeout, a full channel, or a worker-side failure marker all
// yield (false, false): a failed check is defined as "not active" because
// silence is safer than a false positive that triggers an unwanted
// recording. The raw transport error never reaches the caller.
func (s *Supervisor) CheckMic() (active bool, ok bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, false
	}
	if reason := s.restartReasonLocked(); reason != "" {
		if err := s.restartLocked(reason); err != nil {
			s.mu.Unlock()
			slog.Error("worker restart failed", "reason", reason, "err", err)
			return false, false
		}
		s.mu.Unlock()
		time.Sleep(s.policy.SettleDelay)
		s.mu.Lock()
	}
	h := s.cur
	// Drain any stale response left behind by an abandoned request so the
	// next Recv cannot pair with the wrong answer.
	for i := 0; i < maxDrainAttempts; i++ {
		if stale, drained := h.ch.TryDrain(); drained {
			slog.Debug("drained stale worker response",
				"active", stale.Active, "err", stale.Err)
			continue
		}
		break
	}
	s.mu.Unlock()

	if err := h.ch.Send(CmdCheck); err != nil {
		return false, s.recordFailure(h, err)
	}

	resp, err := h.ch.Recv(s.policy.ResponseTimeout)
	if err != nil {
		return false, s.recordFailure(h, err)
	}
	if resp.Err != nil {
		return false, s.recordFailure(h, resp.Err)
	}

	s.mu.Lock()
	if s.cur == h {
		h.checksServed++
		h.consecutiveErrors = 0
	}
	s.mu.Unlock()
	return resp.Active, true
}

// recordFailure increments the error counter for h and forces an immediate
// restart once the threshold is reached. Always returns false (the ok value
// for a failed check).
func (s *Supervisor) recordFailure(h *workerHandle, cause error) bool {
	slog.Warn("mic check failed", "err", cause)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != h || s.closed {
		return false
	}
	h.consecutiveErrors++
	if h.consecutiveErrors >= s.policy.MaxConsecutiveErrors {
		if err := s.restartLocked("consecutive-errors"); err != nil {
			slog.Error("worker restart failed", "err", err)
		}
	}
	return false
}

// restartLocked replaces the current incarnation: Running→Stopping→Stopped→
// Starting→Running. Replace, never repair in place. Caller holds mu.
func (s *Supervisor) restartLocked(reason string) error {
	if h := s.cur; h != nil {
		slog.Info("restarting probe worker",
			"reason", reason,
			"generation", h.generation,
			"checks_served", h.checksServed,
			"consecutive_errors", h.consecutiveErrors,
		)
	}
	s.stopLocked()
	if s.onRestart != nil {
		s.onRestart(reason)
	}
	return s.startLocked()
}

// stopLocked tears the current worker down with escalating force: graceful
// EXIT request, then the kill signal, then abandonment. Every step has its
// own bounded wait; the handle always reaches Stopped within their sum.
// Caller holds mu.
func (s *Supervisor) stopLocked() {
	h := s.cur
	if h == nil || h.state == StateStopped {
		return
	}
	h.state = StateStopping

	// Step 1: graceful EXIT. A full command slot means the worker is wedged
	// on an old command; skip straight to the kill signal.
	if err := h.ch.Send(CmdExit); err == nil {
		if waitClosed(h.done, s.policy.GracefulTimeout) {
			h.state = StateStopped
			return
		}
		slog.Warn("worker ignored EXIT, escalating", "generation", h.generation)
	}

	// Step 2: kill signal.
	close(h.kill)
	if waitClosed(h.done, s.policy.TerminateTimeout) {
		h.state = StateStopped
		return
	}

	// Step 3: abandon. The goroutine cannot be killed from outside; after the
	// final bounded wait the handle is marked stopped and the incarnation is
	// left to die on its own.
	if !waitClosed(h.done, s.policy.KillTimeout) {
		slog.Error("worker unresponsive, abandoning", "generation", h.generation)
	}
	h.state = StateStopped
}

// Shutdown stops the worker and marks the supervisor terminal. No further
// operations are accepted. Never blocks beyond the teardown timeouts.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked()
	s.closed = true
	slog.Info("worker supervisor shut down")
}

// waitClosed waits up to timeout for ch to close.
func waitClosed(ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
