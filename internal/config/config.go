// Package config provides the configuration schema, loader, and file watcher
// for the callwatch monitor.
package config

import "time"

// LogLevel controls log verbosity for the callwatch process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for callwatch.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Monitor  MonitorConfig  `yaml:"monitor"`
	Worker   WorkerConfig   `yaml:"worker"`
	Fallback FallbackConfig `yaml:"fallback"`
	Restart  RestartConfig  `yaml:"restart"`
	OBS      OBSConfig      `yaml:"obs"`
	Server   ServerConfig   `yaml:"server"`
}

// MonitorConfig holds the poll loop and call detection parameters.
type MonitorConfig struct {
	// ProcessName is the executable name owning the microphone session
	// (e.g., "Sipgate.exe"). Matching is case-insensitive.
	ProcessName string `yaml:"process_name"`

	// PollInterval is the cadence of mic activity checks.
	PollInterval time.Duration `yaml:"poll_interval"`

	// CallDurationThreshold is how long the mic must stay continuously
	// active before the activity counts as a call.
	CallDurationThreshold time.Duration `yaml:"call_duration_threshold"`

	// RecordingDelay is the additional confirmation window after the call
	// threshold before recording actually starts.
	RecordingDelay time.Duration `yaml:"recording_delay"`
}

// WorkerConfig bounds the lifetime and error tolerance of a probe worker.
type WorkerConfig struct {
	// MaxAge is the maximum wall-clock age of a worker before it is
	// proactively replaced.
	MaxAge time.Duration `yaml:"max_age"`

	// MaxChecks is the number of checks a worker serves before it retires
	// voluntarily.
	MaxChecks int `yaml:"max_checks"`

	// MaxConsecutiveErrors is the failed-check streak that forces an
	// immediate worker replacement.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`

	// ResponseTimeout bounds how long a single check may take end to end.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// SettleDelay is the pause after spawning a worker before the first
	// check is sent to it.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// FallbackConfig controls the switch to the degraded process-existence probe.
type FallbackConfig struct {
	// MaxConsecutiveFailures is the streak of failed primary checks that
	// triggers the permanent switch to the fallback probe.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

// RestartConfig bounds the outer supervision loop around the monitor.
type RestartConfig struct {
	// MaxRestarts is the number of monitor restarts allowed before the
	// process gives up with a crash marker.
	MaxRestarts int `yaml:"max_restarts"`

	// Backoff is the initial delay between restarts; it doubles per
	// restart up to MaxBackoff.
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// MarkerPath is where the JSON crash marker is written after the
	// restart budget is exhausted.
	MarkerPath string `yaml:"marker_path"`
}

// OBSConfig holds the obs-websocket connection and recording parameters.
type OBSConfig struct {
	// URL is the obs-websocket endpoint (e.g., "ws://localhost:4455").
	URL string `yaml:"url"`

	// Password authenticates the websocket session. Supports ${VAR}
	// environment expansion. Empty disables authentication.
	Password string `yaml:"password"`

	// Scene is the OBS scene that receives the temporary mic input.
	Scene string `yaml:"scene"`

	// Input is the name of the mic input created for each recording.
	Input string `yaml:"input"`

	// DeviceID selects the capture device for the created input.
	DeviceID string `yaml:"device_id"`

	// CallTimeout bounds a single connect-and-command round trip.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// ServerConfig holds network and logging settings for the HTTP endpoints.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz, /readyz
	// and /statusz (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Default values applied by [ApplyDefaults] for zero-valued fields.
const (
	DefaultPollInterval          = time.Second
	DefaultCallDurationThreshold = 3 * time.Second
	DefaultRecordingDelay        = 3 * time.Second
	DefaultWorkerMaxAge          = 10 * time.Minute
	DefaultWorkerMaxChecks       = 500
	DefaultWorkerMaxErrors       = 5
	DefaultResponseTimeout       = 3 * time.Second
	DefaultSettleDelay           = 50 * time.Millisecond
	DefaultFallbackFailures      = 5
	DefaultMaxRestarts           = 5
	DefaultRestartBackoff        = time.Second
	DefaultRestartMaxBackoff     = 30 * time.Second
	DefaultMarkerPath            = "callwatch-crash.json"
	DefaultOBSURL                = "ws://localhost:4455"
	DefaultOBSCallTimeout        = 30 * time.Second
	DefaultListenAddr            = ":8080"
)

// ApplyDefaults fills zero-valued fields with their documented defaults.
// It is called by [LoadFromReader] after decoding. Negative values are left
// untouched so that Validate can reject them instead of silently replacing
// them.
func ApplyDefaults(cfg *Config) {
	if cfg.Monitor.PollInterval == 0 {
		cfg.Monitor.PollInterval = DefaultPollInterval
	}
	if cfg.Monitor.CallDurationThreshold == 0 {
		cfg.Monitor.CallDurationThreshold = DefaultCallDurationThreshold
	}
	if cfg.Monitor.RecordingDelay == 0 {
		cfg.Monitor.RecordingDelay = DefaultRecordingDelay
	}
	if cfg.Worker.MaxAge == 0 {
		cfg.Worker.MaxAge = DefaultWorkerMaxAge
	}
	if cfg.Worker.MaxChecks == 0 {
		cfg.Worker.MaxChecks = DefaultWorkerMaxChecks
	}
	if cfg.Worker.MaxConsecutiveErrors == 0 {
		cfg.Worker.MaxConsecutiveErrors = DefaultWorkerMaxErrors
	}
	if cfg.Worker.ResponseTimeout == 0 {
		cfg.Worker.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.Worker.SettleDelay == 0 {
		cfg.Worker.SettleDelay = DefaultSettleDelay
	}
	if cfg.Fallback.MaxConsecutiveFailures == 0 {
		cfg.Fallback.MaxConsecutiveFailures = DefaultFallbackFailures
	}
	if cfg.Restart.MaxRestarts == 0 {
		cfg.Restart.MaxRestarts = DefaultMaxRestarts
	}
	if cfg.Restart.Backoff == 0 {
		cfg.Restart.Backoff = DefaultRestartBackoff
	}
	if cfg.Restart.MaxBackoff == 0 {
		cfg.Restart.MaxBackoff = DefaultRestartMaxBackoff
	}
	if cfg.Restart.MarkerPath == "" {
		cfg.Restart.MarkerPath = DefaultMarkerPath
	}
	if cfg.OBS.URL == "" {
		cfg.OBS.URL = DefaultOBSURL
	}
	if cfg.OBS.CallTimeout == 0 {
		cfg.OBS.CallTimeout = DefaultOBSCallTimeout
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
}
