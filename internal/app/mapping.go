package app

import (
	"fmt"
	"strings"
	"time"

	"flightwatch/internal/config"
	"flightwatch/internal/flightaware"
	"flightwatch/internal/httpapi"
	"flightwatch/internal/notifier"
	"flightwatch/internal/storage"
	"flightwatch/internal/task/scheduler"
	"flightwatch/internal/tracker"
	kit "flightwatch/internal/transport"
	logx "flightwatch/pkg/logx"
)

const (
	defaultPruneSchedule = "@daily"
	defaultPollTimeout   = 10 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// logTarget is the chat that mirrored warnings go to.
func logTarget(cfg *config.Config) kit.ChatTarget {
	id := cfg.Telegram.GroupLog
	if id == 0 {
		id = cfg.Telegram.ChatID
	}
	return kit.ChatTarget{ChatID: id}
}

func notifyTarget(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}
}

func mapFlightAwareConfig(cfg *config.Config) (flightaware.Config, error) {
	fa := cfg.FlightAware
	timeout, err := config.ParseDurationField("flightaware.timeout", fa.Timeout)
	if err != nil {
		return flightaware.Config{}, err
	}
	tz := strings.TrimSpace(fa.Timezone)
	if tz == "" {
		tz = flightaware.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return flightaware.Config{}, fmt.Errorf("flightaware.timezone: %w", err)
	}
	return flightaware.Config{
		APIKey:     fa.APIKey,
		BaseURL:    fa.BaseURL,
		Timeout:    timeout,
		Location:   loc,
		RatePerSec: fa.RatePerSec,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
		HistorySize:   n.HistorySize,
	}, nil
}

// mapSinks builds the notification sinks. sender may be nil when the bot is
// not configured.
func mapSinks(cfg *config.Config, sender notifier.TextSender) []notifier.Sink {
	var sinks []notifier.Sink
	if sender != nil && cfg.Telegram.ChatID != 0 {
		sinks = append(sinks, &notifier.TelegramSink{Sender: sender, Target: notifyTarget(cfg)})
	}
	if url := strings.TrimSpace(cfg.Discord.WebhookURL); url != "" {
		sinks = append(sinks, notifier.NewDiscordSink(url))
	}
	return sinks
}

type trackerSettings struct {
	interval time.Duration
	digest   tracker.DigestMode
}

func mapTrackerConfig(cfg *config.Config) (trackerSettings, error) {
	ivl, err := config.ParseDurationOrDefault("tracker.poll_interval", cfg.Tracker.PollInterval, tracker.DefaultInterval)
	if err != nil {
		return trackerSettings{}, err
	}
	mode, err := tracker.ParseDigestMode(cfg.Tracker.Digest)
	if err != nil {
		return trackerSettings{}, fmt.Errorf("tracker.digest: %w", err)
	}
	return trackerSettings{interval: tracker.ClampInterval(ivl), digest: mode}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:      h.Enabled,
		Addr:         strings.TrimSpace(h.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		RatePerSec:   h.RatePerSec,
		Pprof:        h.Pprof,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

// mapStorageConfig returns the store config and the audit retention. A zero
// retention disables pruning.
func mapStorageConfig(cfg *config.Config) (storage.Config, time.Duration, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, 0, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, 0, false, nil
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, 0, false, err
	}
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), DSN: strings.TrimSpace(sc.DSN)}
	switch driver {
	case "file":
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, 0, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		out.BusyTimeout, err = config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, 0, false, err
		}
	case "postgres", "postgresql":
		if out.DSN == "" {
			return storage.Config{}, 0, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return storage.Config{}, 0, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, retention, true, nil
}

func pruneSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Scheduler.Prune); s != "" {
		return s
	}
	return defaultPruneSchedule
}
