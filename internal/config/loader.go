package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, expands
// environment references, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	cfg.OBS.Password = os.Expand(cfg.OBS.Password, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Monitor.ProcessName == "" {
		errs = append(errs, errors.New("monitor.process_name is required"))
	}
	if cfg.Monitor.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("monitor.poll_interval %v is negative", cfg.Monitor.PollInterval))
	}
	if cfg.Monitor.CallDurationThreshold < 0 {
		errs = append(errs, fmt.Errorf("monitor.call_duration_threshold %v is negative", cfg.Monitor.CallDurationThreshold))
	}
	if cfg.Monitor.RecordingDelay < 0 {
		errs = append(errs, fmt.Errorf("monitor.recording_delay %v is negative", cfg.Monitor.RecordingDelay))
	}

	if cfg.Worker.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("worker.max_age %v is negative", cfg.Worker.MaxAge))
	}
	if cfg.Worker.MaxChecks < 0 {
		errs = append(errs, fmt.Errorf("worker.max_checks %d is negative", cfg.Worker.MaxChecks))
	}
	if cfg.Worker.MaxConsecutiveErrors < 0 {
		errs = append(errs, fmt.Errorf("worker.max_consecutive_errors %d is negative", cfg.Worker.MaxConsecutiveErrors))
	}
	if cfg.Worker.ResponseTimeout < 0 {
		errs = append(errs, fmt.Errorf("worker.response_timeout %v is negative", cfg.Worker.ResponseTimeout))
	}
	if cfg.Worker.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("worker.settle_delay %v is negative", cfg.Worker.SettleDelay))
	}
	if cfg.Worker.ResponseTimeout > 0 && cfg.Monitor.PollInterval > 0 &&
		cfg.Worker.ResponseTimeout > cfg.Monitor.PollInterval*10 {
		errs = append(errs, fmt.Errorf("worker.response_timeout %v is more than 10x monitor.poll_interval %v; checks would pile up",
			cfg.Worker.ResponseTimeout, cfg.Monitor.PollInterval))
	}

	if cfg.Fallback.MaxConsecutiveFailures < 0 {
		errs = append(errs, fmt.Errorf("fallback.max_consecutive_failures %d is negative", cfg.Fallback.MaxConsecutiveFailures))
	}
	if cfg.Restart.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("restart.max_restarts %d is negative", cfg.Restart.MaxRestarts))
	}
	if cfg.Restart.Backoff < 0 {
		errs = append(errs, fmt.Errorf("restart.backoff %v is negative", cfg.Restart.Backoff))
	}
	if cfg.Restart.MaxBackoff < 0 {
		errs = append(errs, fmt.Errorf("restart.max_backoff %v is negative", cfg.Restart.MaxBackoff))
	}
	if cfg.OBS.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("obs.call_timeout %v is negative", cfg.OBS.CallTimeout))
	}

	if cfg.OBS.URL != "" {
		u, err := url.Parse(cfg.OBS.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("obs.url %q is not a valid URL: %w", cfg.OBS.URL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("obs.url %q must use the ws:// or wss:// scheme", cfg.OBS.URL))
		}
	}
	if cfg.OBS.Scene == "" {
		errs = append(errs, errors.New("obs.scene is required"))
	}
	if cfg.OBS.Input == "" {
		errs = append(errs, errors.New("obs.input is required"))
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	return errors.Join(errs...)
}
