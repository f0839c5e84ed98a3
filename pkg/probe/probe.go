// Package probe defines the capability interface for answering "does the
// target process currently hold an active microphone session".
//
// The primary abstraction is [Probe], a single-question oracle that is
// deliberately narrow: implementations wrap platform audio-session APIs that
// are neither thread-safe nor stable over long-lived use, so the monitor core
// never calls a Probe directly — it isolates each instance inside a worker
// and replaces it wholesale when it degrades.
//
// A [Factory] produces a fresh Probe per worker incarnation. Implementations
// must be fully usable from a freshly created instance; no state may be
// shared between incarnations.
//
// This package lives under pkg/ because external code (platform-specific
// session enumerators) is expected to implement [Probe] and [Factory].
package probe

import "context"

// Probe answers whether the target process has an active audio capture
// session. Implementations are not required to be safe for concurrent use;
// the monitor guarantees at most one in-flight call per instance.
type Probe interface {
	// CheckActive reports whether the target process currently holds an
	// active capture session. An error means the question could not be
	// answered, not that the session is inactive.
	CheckActive(ctx context.Context) (bool, error)

	// Close releases all resources held by the probe. Called exactly once,
	// after which the instance is never used again.
	Close() error
}

// Factory creates a fresh, independent [Probe] instance. It is invoked once
// per worker incarnation; a spawn-time failure here is surfaced to the
// supervisor rather than retried silently.
type Factory func() (Probe, error)

// Reclaimer is an optional interface a [Probe] may implement to support the
// worker's periodic resource-reclamation pass. Probes wrapping native handles
// that accumulate state between calls should release what they can here.
type Reclaimer interface {
	Reclaim()
}
