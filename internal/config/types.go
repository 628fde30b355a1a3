package config

// Config is the on-disk configuration (JSON or YAML).
//
// Secrets may be left empty here and supplied through the environment or a
// .env file instead (see ApplyEnv).
type Config struct {
	FlightAware FlightAwareConfig `json:"flightaware"`
	Telegram    TelegramConfig    `json:"telegram"`
	Discord     DiscordConfig     `json:"discord"`
	Tracker     TrackerConfig     `json:"tracker"`
	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
	HTTP        HTTPConfig        `json:"http"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Logging     LoggingConfig     `json:"logging"`
}

// FlightAwareConfig configures the AeroAPI status provider.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type FlightAwareConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"` // default: https://aeroapi.flightaware.com/aeroapi
	Timeout string `json:"timeout,omitempty"`  // default: 15s
	// Timezone used when rendering departure/arrival times. Default: Pacific/Auckland.
	Timezone   string `json:"timezone,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default: 1
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID receives flight notifications.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
	// GroupLog receives mirrored warnings when logging.chat.enabled is true.
	// Defaults to ChatID when empty.
	GroupLog     int64   `json:"group_log,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// Commands enables the bot command surface (/track, /stop, ...).
	Commands    bool   `json:"commands"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// TrackerConfig configures the tracking session defaults.
type TrackerConfig struct {
	// PollInterval is the default interval for new sessions (floor 5m). Default: 3h.
	PollInterval string `json:"poll_interval,omitempty"`
	// Digest selects change detection: "full" (entire status text) or "facts"
	// (route, times and status lines only). Default: full.
	Digest string `json:"digest,omitempty"`
}

// NotifierConfig controls the async notification pipeline. If the whole
// section is omitted the notifier runs with defaults.
type NotifierConfig struct {
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// HTTPConfig controls the HTTP control surface.
//
// Security note: the API has no authentication; bind it to localhost or put
// it behind an authenticating proxy.
type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: 127.0.0.1:8080
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	// RatePerSec limits requests per client IP. 0 disables limiting.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// Pprof exposes /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// SchedulerConfig controls periodic jobs.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// Heartbeat posts a "still tracking" summary while a session is active.
	// Any schedule accepted by scheduler.ParseSchedule; empty disables it.
	Heartbeat string `json:"heartbeat,omitempty"`
	// Prune removes storage records older than storage.retention. Default: "@daily".
	Prune string `json:"prune,omitempty"`
}

// StorageConfig controls the optional audit/delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/flightwatch.db", "retention": "720h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"` // file/sqlite
	DSN         string `json:"dsn,omitempty"`  // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Retention   string `json:"retention,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
