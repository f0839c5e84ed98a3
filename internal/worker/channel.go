// Package worker isolates an unreliable [probe.Probe] behind a supervised
// worker goroutine.
//
// The package has three layers:
//
//   - [RequestChannel] — a single-slot synchronous transport carrying textual
//     commands in one direction and check responses in the other.
//   - the worker loop — owns exactly one probe instance, answers CHECK
//     commands, and exits voluntarily after a bounded number of checks.
//   - [Supervisor] — owns the worker lifecycle: start, proactive restart under
//     age/usage/error thresholds, forced restart when unresponsive, and
//     escalating shutdown.
//
// The wrapped probe is not safe under concurrent invocation, so at most one
// request may be outstanding at any time. This is a hard invariant of the
// transport, not an optimisation.
package worker

import (
	"errors"
	"time"
)

// Command is a textual instruction sent from the supervisor to the worker.
type Command string

const (
	// CmdCheck asks the worker to invoke the probe once. It maps to exactly
	// one [Response].
	CmdCheck Command = "CHECK"

	// CmdExit asks the worker to release its probe and terminate. It is
	// fire-and-forget; no response is produced.
	CmdExit Command = "EXIT"
)

// Response is the worker's answer to a single CHECK command. When Err is
// non-nil the probe could not answer and Active is meaningless; the
// supervisor treats that as "not active" plus an error-counter increment.
type Response struct {
	Active bool
	Err    error
}

// Transport errors returned by [RequestChannel].
var (
	// ErrChannelFull is returned by Send when a prior command has not been
	// consumed. Hitting it indicates a caller bug: the supervisor must drain
	// stale responses before issuing a new request.
	ErrChannelFull = errors.New("request channel full")

	// ErrRecvTimeout is returned by Recv when no response arrives within the
	// bound. The request is abandoned, never retried in place.
	ErrRecvTimeout = errors.New("timeout waiting for worker response")
)

// RequestChannel is the bounded, single-slot transport between supervisor and
// worker. Each direction holds at most one in-flight item.
type RequestChannel struct {
	cmds  chan Command
	resps chan Response
}

// NewRequestChannel creates a transport with capacity one per direction.
func NewRequestChannel() *RequestChannel {
	return &RequestChannel{
		cmds:  make(chan Command, 1),
		resps: make(chan Response, 1),
	}
}

// Send delivers cmd without blocking. Returns [ErrChannelFull] if the
// previous command has not been consumed by the worker.
func (c *RequestChannel) Send(cmd Command) error {
	select {
	case c.cmds <- cmd:
		return nil
	default:
		return ErrChannelFull
	}
}

// Recv waits up to timeout for a response. Returns [ErrRecvTimeout] if none
// arrives in time.
func (c *RequestChannel) Recv(timeout time.Duration) (Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-c.resps:
		return resp, nil
	case <-timer.C:
		return Response{}, ErrRecvTimeout
	}
}

// TryDrain removes one stale response if present, without blocking. Reports
// whether a response was drained.
func (c *RequestChannel) TryDrain() (Response, bool) {
	select {
	case resp := <-c.resps:
		return resp, true
	default:
		return Response{}, false
	}
}

// nextCommand is the worker-side receive. It waits up to wait for a command,
// returning ok=false on timeout so the loop can run its periodic self-checks.
func (c *RequestChannel) nextCommand(wait time.Duration) (Command, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case cmd := <-c.cmds:
		return cmd, true
	case <-timer.C:
		return "", false
	}
}

// respond is the worker-side send. The single-slot discipline guarantees the
// response buffer has room; the timeout only guards against a supervisor
// that died without draining, in which case the response is dropped.
func (c *RequestChannel) respond(resp Response, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.resps <- resp:
	case <-timer.C:
	}
}
