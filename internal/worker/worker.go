package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/MrWong99/callwatch/pkg/probe"
)

const (
	// commandWait bounds each worker-side receive so the loop can notice a
	// kill signal even when no commands arrive.
	commandWait = 500 * time.Millisecond

	// respondWait bounds the worker-side response send.
	respondWait = 1 * time.Second

	// reclaimEvery is the number of served checks between resource
	// reclamation passes.
	reclaimEvery = 50
)

// probeWorker hosts one probe instance and services commands until told to
// exit, killed, or its check budget is spent.
type probeWorker struct {
	ch        *RequestChannel
	probe     probe.Probe
	maxChecks uint

	kill <-chan struct{}
	done chan<- struct{}
}

// run is the worker loop. It owns the probe for its whole lifetime and
// releases it on every exit path. Closing done is the last thing it does.
func (w *probeWorker) run() {
	served := uint(0)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("probe worker: loop panic", "panic", r)
		}
		if err := w.probe.Close(); err != nil {
			slog.Warn("probe worker: probe close failed", "err", err)
		}
		close(w.done)
	}()

	for {
		select {
		case <-w.kill:
			return
		default:
		}

		cmd, ok := w.ch.nextCommand(commandWait)
		if !ok {
			continue
		}

		switch cmd {
		case CmdExit:
			return

		case CmdCheck:
			active, err := w.checkOnce()
			served++
			w.ch.respond(Response{Active: active, Err: err}, respondWait)

			if served%reclaimEvery == 0 {
				w.reclaim()
			}
			// Exit voluntarily once the budget is spent so this self-limit
			// and the supervisor's usage policy agree.
			if served >= w.maxChecks {
				slog.Debug("probe worker: check budget spent, exiting",
					"served", served)
				return
			}

		default:
			slog.Warn("probe worker: unknown command", "command", string(cmd))
		}
	}
}

// checkOnce invokes the probe a single time. A failing or panicking probe
// call never terminates the worker loop — it is mapped to a failure-marker
// response and the loop keeps serving.
func (w *probeWorker) checkOnce() (active bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			active = false
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return w.probe.CheckActive(context.Background())
}

// reclaim runs a best-effort resource reclamation pass. Probes that manage
// native handles do their own cleanup via [probe.Reclaimer]; a GC cycle
// covers the rest.
func (w *probeWorker) reclaim() {
	if r, ok := w.probe.(probe.Reclaimer); ok {
		r.Reclaim()
	}
	runtime.GC()
}
