// Package mock provides an in-memory mock implementation of [probe.Probe]
// for use in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and exposes exported fields the test can
// set to control return values. CheckFunc, when set, takes precedence over
// the Result fields and allows per-call scripting.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callwatch/pkg/probe"
)

// Compile-time assertion that Probe satisfies the probe interface.
var _ probe.Probe = (*Probe)(nil)

// Probe is a mock implementation of [probe.Probe].
// Set the exported fields before use; inspect the CallCount fields after.
type Probe struct {
	mu sync.Mutex

	// ActiveResult is returned by CheckActive when CheckFunc is nil.
	ActiveResult bool

	// CheckError is returned by CheckActive when CheckFunc is nil.
	CheckError error

	// CheckFunc, when non-nil, is invoked for each CheckActive call with the
	// 1-based call number. It overrides ActiveResult/CheckError.
	CheckFunc func(call int) (bool, error)

	// CloseError is returned by Close.
	CloseError error

	// CallCountCheck records how many times CheckActive was called.
	CallCountCheck int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// CallCountReclaim records how many times Reclaim was called.
	CallCountReclaim int
}

// CheckActive returns the scripted result.
func (p *Probe) CheckActive(_ context.Context) (bool, error) {
	p.mu.Lock()
	p.CallCountCheck++
	n := p.CallCountCheck
	fn := p.CheckFunc
	active, err := p.ActiveResult, p.CheckError
	p.mu.Unlock()

	if fn != nil {
		return fn(n)
	}
	return active, err
}

// Close returns CloseError and counts the call.
func (p *Probe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	return p.CloseError
}

// Reclaim counts the call. It makes the mock satisfy [probe.Reclaimer].
func (p *Probe) Reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountReclaim++
}

// Checks returns the number of CheckActive calls made so far.
func (p *Probe) Checks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountCheck
}

// Factory returns a [probe.Factory] that hands out the given probes in
// sequence, one per call. Once the list is exhausted the last probe is
// reused. Useful for asserting that a restart created a new incarnation.
func Factory(probes ...*Probe) probe.Factory {
	var mu sync.Mutex
	i := 0
	return func() (probe.Probe, error) {
		mu.Lock()
		defer mu.Unlock()
		p := probes[i]
		if i < len(probes)-1 {
			i++
		}
		return p, nil
	}
}
