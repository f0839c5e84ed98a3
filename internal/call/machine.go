// Package call turns a raw per-tick activity signal into debounced call
// events.
//
// The central type is [Machine], a four-state machine fed one boolean sample
// per poll tick. Two independent time thresholds debounce the signal: a
// minimum active duration for the activity to count as a real call, and a
// separate confirmation delay before recording is supposed to begin. Both are
// measured from the moment activity first appeared and compared with >=, so
// true edge latency is bounded by the threshold plus one poll interval.
//
// The machine emits at most one [Event] per tick and never touches the
// recorder itself; the orchestrator owns that side effect.
package call

import (
	"log/slog"
	"time"
)

// State is the current position of a [Machine].
type State int

const (
	// StateIdle means no activity is present and no session is open.
	StateIdle State = iota

	// StatePending means activity was seen but has not lasted long enough to
	// count as a real call.
	StatePending

	// StateConfirmed means the activity qualified as a call but the
	// confirmation delay before recording has not yet elapsed.
	StateConfirmed

	// StateRecording means the recording command has been issued for this
	// session.
	StateRecording
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Event is the zero-or-one output of a single tick.
type Event int

const (
	// EventNone means the tick produced no edge.
	EventNone Event = iota

	// EventCallConfirmed fires exactly once per session, on the tick where the
	// confirmation delay has elapsed. The orchestrator starts the recorder on
	// this edge.
	EventCallConfirmed

	// EventCallEnded fires when activity stops during an actively recorded
	// session. The orchestrator stops the recorder on this edge.
	EventCallEnded
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventCallConfirmed:
		return "call-confirmed"
	case EventCallEnded:
		return "call-ended"
	default:
		return "unknown"
	}
}

// Session is a read-only snapshot of the open candidate or confirmed call.
// Invariant: RecordingActive implies ConfirmedAsCall implies ActivitySince is
// set.
type Session struct {
	ActivitySince   time.Time
	ConfirmedAsCall bool
	RecordingActive bool
}

// Config holds the two debounce thresholds.
type Config struct {
	// CallDurationThreshold is the minimum contiguous active time for the
	// activity to count as a real call. Default: 3s.
	CallDurationThreshold time.Duration

	// RecordingDelay is the elapsed active time (from activity start, not from
	// confirmation) after which recording begins. Expected, though not
	// enforced, to be >= CallDurationThreshold. Default: 3s.
	RecordingDelay time.Duration
}

const (
	defaultCallDuration   = 3 * time.Second
	defaultRecordingDelay = 3 * time.Second
)

// Machine consumes one activity sample per tick and emits debounced call
// events. It is owned by a single goroutine and is not safe for concurrent
// use.
type Machine struct {
	callDuration   time.Duration
	recordingDelay time.Duration

	state         State
	activitySince time.Time
}

// NewMachine creates a [Machine] in [StateIdle]. Zero config fields take
// defaults.
func NewMachine(cfg Config) *Machine {
	if cfg.CallDurationThreshold <= 0 {
		cfg.CallDurationThreshold = defaultCallDuration
	}
	if cfg.RecordingDelay <= 0 {
		cfg.RecordingDelay = defaultRecordingDelay
	}
	return &Machine{
		callDuration:   cfg.CallDurationThreshold,
		recordingDelay: cfg.RecordingDelay,
	}
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// Session returns a snapshot of the open session. The zero value means no
// session is open.
func (m *Machine) Session() Session {
	return Session{
		ActivitySince:   m.activitySince,
		ConfirmedAsCall: m.state == StateConfirmed || m.state == StateRecording,
		RecordingActive: m.state == StateRecording,
	}
}

// Observe feeds one activity sample taken at now and returns the resulting
// event, [EventNone] for most ticks.
func (m *Machine) Observe(now time.Time, active bool) Event {
	if !active {
		return m.observeInactive(now)
	}

	if m.state == StateIdle {
		m.state = StatePending
		m.activitySince = now
		slog.Info("call detected, waiting for answer")
	}

	elapsed := now.Sub(m.activitySince)

	if m.state == StatePending && elapsed >= m.callDuration {
		m.state = StateConfirmed
		slog.Debug("activity confirmed as call", "elapsed", elapsed)
	}
	// A single tick may cross both thresholds at once when the confirmation
	// delay is not longer than the call duration threshold.
	if m.state == StateConfirmed && elapsed >= m.recordingDelay {
		m.state = StateRecording
		slog.Info("call answered", "elapsed", elapsed)
		return EventCallConfirmed
	}
	return EventNone
}

// observeInactive handles the active→false edge: a recorded session ends, a
// sub-threshold candidate is discarded silently, and the machine always
// resets to idle.
func (m *Machine) observeInactive(now time.Time) Event {
	prev := m.state
	m.state = StateIdle
	m.activitySince = time.Time{}

	switch prev {
	case StateRecording:
		slog.Info("call ended")
		return EventCallEnded
	case StatePending:
		// Transient noise that never reached confirmation.
		slog.Debug("activity too short, ignoring session")
	case StateConfirmed:
		slog.Info("call ended before recording began")
	}
	return EventNone
}
