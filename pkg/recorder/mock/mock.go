// Package mock provides an in-memory mock implementation of
// [recorder.Recorder] for use in unit tests.
//
// The mock is safe for concurrent use. It records every Start/Stop call and
// exposes exported error fields the test can set to simulate a failing
// controller.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callwatch/pkg/recorder"
)

// Compile-time assertion that Recorder satisfies the recorder interface.
var _ recorder.Recorder = (*Recorder)(nil)

// Recorder is a mock implementation of [recorder.Recorder].
// Set the exported Error fields before use; inspect the CallCount fields after.
type Recorder struct {
	mu sync.Mutex

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Start counts the call and returns StartError.
func (r *Recorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStart++
	return r.StartError
}

// Stop counts the call and returns StopError.
func (r *Recorder) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStop++
	return r.StopError
}

// Starts returns the number of Start calls made so far.
func (r *Recorder) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountStart
}

// Stops returns the number of Stop calls made so far.
func (r *Recorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountStop
}
