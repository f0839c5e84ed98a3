package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callwatch/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("load base config: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := baseConfig(t)
	new := baseConfig(t)

	d := config.Diff(old, new)
	if d.LogLevelChanged {
		t.Error("LogLevelChanged = true for identical configs")
	}
	if len(d.RequiresRestart) != 0 {
		t.Errorf("RequiresRestart = %v for identical configs", d.RequiresRestart)
	}
}

func TestDiff_LogLevelChange(t *testing.T) {
	t.Parallel()
	old := baseConfig(t)
	new := baseConfig(t)
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged = false, want true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if len(d.RequiresRestart) != 0 {
		t.Errorf("log level change should not require restart, got %v", d.RequiresRestart)
	}
}

func TestDiff_RestartRequiredSections(t *testing.T) {
	t.Parallel()
	old := baseConfig(t)
	new := baseConfig(t)
	new.Monitor.PollInterval = 5 * time.Second
	new.OBS.Scene = "other_scene"
	new.Server.ListenAddr = ":9090"

	d := config.Diff(old, new)
	for _, want := range []string{"monitor", "obs", "server.listen_addr"} {
		if !slices.Contains(d.RequiresRestart, want) {
			t.Errorf("RequiresRestart missing %q, got %v", want, d.RequiresRestart)
		}
	}
	if slices.Contains(d.RequiresRestart, "worker") {
		t.Errorf("RequiresRestart should not include unchanged worker section, got %v", d.RequiresRestart)
	}
}
