// Package resilience provides the sticky failover primitive that chooses
// between the primary and the degraded probe path.
//
// The central type is [Failover]: it forwards every check to the primary
// source until the primary has failed a configured number of consecutive
// times, then switches permanently to the degraded source. The switch is
// one-way — a probe path that was unhealthy enough to trip the failover is
// not trusted again within the process lifetime, and flapping between
// sources would make the downstream debouncing meaningless.
//
// All types are safe for concurrent use.
package resilience

import (
	"log/slog"
	"sync"
)

// defaultMaxConsecutiveFailures is the failover threshold applied when the
// config leaves it zero.
const defaultMaxConsecutiveFailures = 5

// Source produces one activity sample. The boolean ok reports whether the
// sample came from a successful check; a failed check still answers
// active=false.
type Source func() (active bool, ok bool)

// FailoverConfig configures a [Failover].
type FailoverConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxConsecutiveFailures is the number of consecutive failed primary
	// checks that triggers the permanent switch. Default: 5.
	MaxConsecutiveFailures uint

	// OnDegrade is called exactly once, at the moment of the switch. May be nil.
	OnDegrade func()
}

// Failover wraps a primary and a degraded [Source]. The degraded source has
// materially weaker semantics (existence-of-process rather than
// active-session), so it is only consulted once the primary is considered
// persistently broken.
type Failover struct {
	name      string
	threshold uint
	primary   Source
	degraded  Source
	onDegrade func()

	mu           sync.Mutex
	consecutive  uint
	degradedMode bool
}

// NewFailover creates a [Failover] over the two sources.
func NewFailover(primary, degraded Source, cfg FailoverConfig) *Failover {
	threshold := cfg.MaxConsecutiveFailures
	if threshold == 0 {
		threshold = defaultMaxConsecutiveFailures
	}
	return &Failover{
		name:      cfg.Name,
		threshold: threshold,
		primary:   primary,
		degraded:  degraded,
		onDegrade: cfg.OnDegrade,
	}
}

// Check produces one activity sample from whichever source is currently
// selected. Primary failures are counted here, independently of any error
// accounting inside the primary itself: this counter governs the choice of
// probe source, not worker restarts.
func (f *Failover) Check() (active bool, ok bool) {
	f.mu.Lock()
	degraded := f.degradedMode
	f.mu.Unlock()

	if degraded {
		return f.degraded()
	}

	active, ok = f.primary()

	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.consecutive = 0
		return active, true
	}
	f.consecutive++
	if f.consecutive >= f.threshold && !f.degradedMode {
		f.degradedMode = true
		slog.Error("primary probe path persistently failing, "+
			"switching permanently to degraded process-existence probe",
			"name", f.name,
			"consecutive_failures", f.consecutive,
		)
		if f.onDegrade != nil {
			f.onDegrade()
		}
	}
	return active, false
}

// Degraded reports whether the permanent switch has happened.
func (f *Failover) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degradedMode
}
