package app_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/MrWong99/callwatch/internal/app"
	"github.com/MrWong99/callwatch/internal/config"
	probemock "github.com/MrWong99/callwatch/pkg/probe/mock"
	recmock "github.com/MrWong99/callwatch/pkg/recorder/mock"
)

// testConfig returns a minimal config with fast timings for tests.
func testConfig(listenAddr string) *config.Config {
	cfg := &config.Config{}
	cfg.Monitor.ProcessName = "Sipgate.exe"
	cfg.OBS.Scene = "test_scene"
	cfg.OBS.Input = "Test Mic"
	config.ApplyDefaults(cfg)

	cfg.Monitor.PollInterval = 10 * time.Millisecond
	cfg.Monitor.CallDurationThreshold = 25 * time.Millisecond
	cfg.Monitor.RecordingDelay = 25 * time.Millisecond
	cfg.Worker.SettleDelay = time.Millisecond
	cfg.Server.ListenAddr = listenAddr
	return cfg
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	probe := &probemock.Probe{}
	rec := &recmock.Recorder{}

	application, err := app.New(testConfig(":0"),
		app.WithProbeFactory(probemock.Factory(probe)),
		app.WithFallbackProbe(&probemock.Probe{}),
		app.WithRecorder(rec),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if application.Monitor() == nil {
		t.Fatal("Monitor() returned nil")
	}
}

func TestApp_RunServesEndpointsAndRecordsCall(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	probe := &probemock.Probe{ActiveResult: true}
	rec := &recmock.Recorder{}

	application, err := app.New(testConfig(addr),
		app.WithProbeFactory(probemock.Factory(probe)),
		app.WithFallbackProbe(&probemock.Probe{}),
		app.WithRecorder(rec),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	base := "http://" + addr

	// Wait for the server to come up.
	waitFor(t, 5*time.Second, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "healthz should come up")

	// The permanently-active probe must drive the recorder.
	waitFor(t, 5*time.Second, func() bool { return rec.Starts() == 1 },
		"recorder should start once thresholds elapse")

	// statusz reflects the open recording session.
	resp, err := http.Get(base + "/statusz")
	if err != nil {
		t.Fatalf("GET /statusz: %v", err)
	}
	var status struct {
		CallState       string `json:"call_state"`
		RecordingActive bool   `json:"recording_active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode statusz: %v", err)
	}
	resp.Body.Close()
	if status.CallState != "recording" {
		t.Errorf("call_state = %q, want recording", status.CallState)
	}
	if !status.RecordingActive {
		t.Error("recording_active = false, want true")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v on clean shutdown, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	// Shutdown must have stopped the in-progress recording.
	if rec.Stops() != 1 {
		t.Errorf("recorder stopped %d times during shutdown, want 1", rec.Stops())
	}
}

// freeAddr reserves a localhost port and releases it for the app to bind.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// waitFor polls cond until it returns true or the deadline expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
