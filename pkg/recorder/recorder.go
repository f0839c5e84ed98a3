// Package recorder defines the external recording controller capability.
//
// The [Recorder] interface is intentionally minimal: the monitor invokes
// Start and Stop as best-effort external calls whose failures are logged,
// not retried in-line — the next poll tick's state transition is the only
// retry mechanism, and only for the corresponding edge.
//
// This package lives under pkg/ because external code (alternative recording
// backends) is expected to implement [Recorder]. The obs subpackage provides
// the obs-websocket implementation.
package recorder

import "context"

// Recorder starts and stops an external recording. Both operations may be
// slow or fail; implementations should bound their own network waits and
// respect context cancellation.
type Recorder interface {
	// Start begins a recording for the call that was just confirmed.
	Start(ctx context.Context) error

	// Stop ends the current recording.
	Stop(ctx context.Context) error
}
