package config

import (
	"reflect"
	"sort"
	"strings"

	logx "flightwatch/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (api key, token, webhook, dsn) are
// reported only as "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// FlightAware (never log api key)
	of, nf := oldCfg.FlightAware, newCfg.FlightAware
	if trim(of.BaseURL) != trim(nf.BaseURL) ||
		trim(of.Timeout) != trim(nf.Timeout) ||
		trim(of.Timezone) != trim(nf.Timezone) ||
		of.RatePerSec != nf.RatePerSec ||
		of.APIKey != nf.APIKey {
		changed = append(changed, "flightaware")
		attrs = append(attrs,
			logx.Bool("flightaware.api_key_set", trim(nf.APIKey) != ""),
			logx.Bool("flightaware.api_key_changed", of.APIKey != nf.APIKey),
			logx.String("flightaware.timeout", trim(nf.Timeout)),
			logx.String("flightaware.timezone", trim(nf.Timezone)),
			logx.Int("flightaware.rate_per_sec", nf.RatePerSec),
		)
	}

	// Telegram (never log token)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		ot.ChatID != nt.ChatID ||
		ot.ThreadID != nt.ThreadID ||
		ot.GroupLog != nt.GroupLog ||
		ot.Commands != nt.Commands ||
		trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", trim(nt.Token) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Bool("telegram.chat_set", nt.ChatID != 0),
			logx.Bool("telegram.commands", nt.Commands),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.String("telegram.poll_timeout", trim(nt.PollTimeout)),
		)
	}

	if oldCfg.Discord.WebhookURL != newCfg.Discord.WebhookURL {
		changed = append(changed, "discord")
		attrs = append(attrs, logx.Bool("discord.webhook_set", trim(newCfg.Discord.WebhookURL) != ""))
	}

	if trim(oldCfg.Tracker.PollInterval) != trim(newCfg.Tracker.PollInterval) ||
		!strings.EqualFold(trim(oldCfg.Tracker.Digest), trim(newCfg.Tracker.Digest)) {
		changed = append(changed, "tracker")
		attrs = append(attrs,
			logx.String("tracker.poll_interval", trim(newCfg.Tracker.PollInterval)),
			logx.String("tracker.digest", trim(newCfg.Tracker.Digest)),
		)
	}

	// Notifier: nil means runtime defaults.
	on, nn := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if (oldCfg.Notifier == nil) != (newCfg.Notifier == nil) || on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.present", newCfg.Notifier != nil),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", trim(newCfg.HTTP.Addr)),
			logx.Int("http.rate_per_sec", newCfg.HTTP.RatePerSec),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", trim(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.heartbeat", trim(newCfg.Scheduler.Heartbeat)),
			logx.String("scheduler.prune", trim(newCfg.Scheduler.Prune)),
		)
	}

	// Storage (never log dsn). Nil means disabled.
	os, ns := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if os != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(ns.Driver)),
			logx.Bool("storage.path_set", trim(ns.Path) != ""),
			logx.Bool("storage.dsn_set", trim(ns.DSN) != ""),
			logx.String("storage.retention", trim(ns.Retention)),
		)
	}

	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol != nl {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.chat_enabled", nl.Chat.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections whose change cannot be applied to the
// running process.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "telegram", "storage":
			out = append(out, s)
		}
	}
	return out
}

func trim(s string) string { return strings.TrimSpace(s) }

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
