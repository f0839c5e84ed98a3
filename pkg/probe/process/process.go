// Package process implements a degraded fallback [probe.Probe] that reports
// only whether the target process exists, not whether it holds an active
// capture session.
//
// Existence-of-process is a materially weaker signal than session activity:
// a running softphone idling in the tray reads as "active" here. The monitor
// only switches to this probe when the primary isolation path is persistently
// failing, and it logs the degradation when it does.
package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/MrWong99/callwatch/pkg/probe"
)

// Compile-time assertion that Probe satisfies the probe interface.
var _ probe.Probe = (*Probe)(nil)

// Probe reports process existence for a fixed process name. It holds no
// native handles and is safe to call repeatedly without replacement.
type Probe struct {
	name string // lower-cased target process name
}

// New creates a process-existence probe for the given process name
// (e.g., "Sipgate.exe"). Matching is case-insensitive.
func New(name string) *Probe {
	return &Probe{name: strings.ToLower(name)}
}

// CheckActive reports whether a process with the configured name exists.
func (p *Probe) CheckActive(ctx context.Context) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("process probe: list processes: %w", err)
	}
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			// Processes routinely vanish between the listing and the name
			// lookup; skip them like the session enumerator does.
			continue
		}
		if strings.ToLower(name) == p.name {
			return true, nil
		}
	}
	return false, nil
}

// Close is a no-op; the probe holds no resources.
func (p *Probe) Close() error { return nil }
