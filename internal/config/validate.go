package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail later during service mapping.
// It is run on initial load and before committing a hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	durations := map[string]string{
		"flightaware.timeout":   cfg.FlightAware.Timeout,
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"tracker.poll_interval": cfg.Tracker.PollInterval,
		"http.read_timeout":     cfg.HTTP.ReadTimeout,
		"http.write_timeout":    cfg.HTTP.WriteTimeout,
		"http.idle_timeout":     cfg.HTTP.IdleTimeout,
	}
	if n := cfg.Notifier; n != nil {
		durations["notifier.retry_base"] = n.RetryBase
		durations["notifier.retry_max_delay"] = n.RetryMaxDelay
		durations["notifier.send_timeout"] = n.SendTimeout
		if n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.HistorySize < 0 {
			return fmt.Errorf("notifier: queue_size, rate_per_sec, retry_max and history_size must be >= 0")
		}
	}
	if s := cfg.Storage; s != nil {
		durations["storage.busy_timeout"] = s.BusyTimeout
		durations["storage.retention"] = s.Retention
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Tracker.Digest)) {
	case "", "full", "facts":
	default:
		return fmt.Errorf("tracker.digest: must be \"full\" or \"facts\", got %q", cfg.Tracker.Digest)
	}

	for path, tz := range map[string]string{
		"flightaware.timezone": cfg.FlightAware.Timezone,
		"scheduler.timezone":   cfg.Scheduler.Timezone,
	} {
		if tz = strings.TrimSpace(tz); tz == "" {
			continue
		}
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%s: invalid %q: %w", path, tz, err)
		}
	}

	if cfg.FlightAware.RatePerSec < 0 || cfg.HTTP.RatePerSec < 0 {
		return fmt.Errorf("rate_per_sec must be >= 0")
	}
	return nil
}
