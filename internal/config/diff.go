package config

// DiffResult describes what changed between two configs on a live reload.
// Only the log level can be applied without a restart; everything else is
// reported so the operator knows a restart is needed to pick it up.
type DiffResult struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RequiresRestart lists the sections whose values changed but cannot
	// be hot-applied (monitor, worker, fallback, restart, obs, listen_addr).
	RequiresRestart []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) DiffResult {
	d := DiffResult{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Monitor != new.Monitor {
		d.RequiresRestart = append(d.RequiresRestart, "monitor")
	}
	if old.Worker != new.Worker {
		d.RequiresRestart = append(d.RequiresRestart, "worker")
	}
	if old.Fallback != new.Fallback {
		d.RequiresRestart = append(d.RequiresRestart, "fallback")
	}
	if old.Restart != new.Restart {
		d.RequiresRestart = append(d.RequiresRestart, "restart")
	}
	if old.OBS != new.OBS {
		d.RequiresRestart = append(d.RequiresRestart, "obs")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RequiresRestart = append(d.RequiresRestart, "server.listen_addr")
	}

	return d
}
