package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// ErrRestartsExhausted is returned by [Supervise] when the monitor loop keeps
// failing after the full restart budget has been spent.
var ErrRestartsExhausted = errors.New("monitor restart budget exhausted")

// Default supervision values applied for zero config fields.
const (
	defaultMaxRestarts = 5
	defaultBackoff     = time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// SuperviseConfig bounds the outer restart loop around the monitor.
type SuperviseConfig struct {
	// MaxRestarts is the number of restarts allowed after the initial run.
	// Default: 5.
	MaxRestarts int

	// Backoff is the delay before the first restart; it doubles per restart
	// up to MaxBackoff. Defaults: 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// MarkerPath is where the JSON crash marker is written once the budget
	// is exhausted. Empty skips the marker.
	MarkerPath string

	// OnRestart is called before each restart. May be nil.
	OnRestart func()
}

// crashMarker is the durable record left behind when the process gives up,
// so the failure cause survives the exit for whoever investigates.
type crashMarker struct {
	Cause     string    `json:"cause"`
	Restarts  int       `json:"restarts"`
	Timestamp time.Time `json:"timestamp"`
}

// Supervise runs the monitor loop with bounded restarts and exponential
// backoff. Panics inside the loop are recovered and counted as fatal loop
// errors. A context cancellation is a clean exit; any other return, nil
// included, means the loop died and is restarted until the budget runs out,
// at which point the crash marker is written and [ErrRestartsExhausted]
// is returned.
func Supervise(ctx context.Context, run func(context.Context) error, cfg SuperviseConfig) error {
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	backoff := cfg.Backoff
	var lastErr error

	for restarts := 0; ; restarts++ {
		err := runRecovered(ctx, run)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("monitor loop returned without cancellation")
		}
		lastErr = err

		if restarts >= cfg.MaxRestarts {
			slog.Error("monitor loop keeps failing, giving up",
				"restarts", restarts, "err", lastErr)
			writeCrashMarker(cfg.MarkerPath, lastErr, restarts)
			return fmt.Errorf("%w after %d restarts: %v", ErrRestartsExhausted, restarts, lastErr)
		}

		slog.Error("monitor loop failed, restarting",
			"restart", restarts+1,
			"max_restarts", cfg.MaxRestarts,
			"backoff", backoff,
			"err", err,
		)
		if cfg.OnRestart != nil {
			cfg.OnRestart()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, cfg.MaxBackoff)
	}
}

// runRecovered invokes run and converts a panic into an error, so one bad
// tick cannot take the process down without passing through the restart
// accounting.
func runRecovered(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor loop panicked: %v", r)
		}
	}()
	return run(ctx)
}

// writeCrashMarker persists the final failure cause next to the binary (or
// wherever the config points). Failure to write is logged, not fatal — the
// process is exiting either way.
func writeCrashMarker(path string, cause error, restarts int) {
	if path == "" {
		return
	}
	marker := crashMarker{
		Cause:     cause.Error(),
		Restarts:  restarts,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		slog.Error("failed to encode crash marker", "err", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("failed to write crash marker", "path", path, "err", err)
		return
	}
	slog.Info("crash marker written", "path", path)
}
