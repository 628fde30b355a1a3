package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
flightaware:
  timeout: 10s
  timezone: Pacific/Auckland
telegram:
  chat_id: 12345
  owner_user_ids: [1, 2]
  commands: true
tracker:
  poll_interval: 30m
  digest: facts
scheduler:
  enabled: true
  heartbeat: "6h"
logging:
  level: debug
  console: true
`

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.ChatID != 12345 || len(cfg.Telegram.OwnerUserIDs) != 2 || !cfg.Telegram.Commands {
		t.Fatalf("telegram=%+v", cfg.Telegram)
	}
	if cfg.Tracker.PollInterval != "30m" || cfg.Tracker.Digest != "facts" {
		t.Fatalf("tracker=%+v", cfg.Tracker)
	}

	js, err := Decode("config.json", []byte(`{"tracker":{"poll_interval":"1h"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if js.Tracker.PollInterval != "1h" {
		t.Fatalf("tracker=%+v", js.Tracker)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unknown field": `{"tracker":{"poll_every":"1h"}}`,
		"trailing data": `{} {}`,
	}
	for name, in := range tests {
		if _, err := Decode("c.json", []byte(in)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Decode("c.yml", []byte("tracker:\n  nope: 1\n")); err == nil {
		t.Fatal("yaml unknown field: expected error")
	}
}

func TestDecodeYAMLEdgeCases(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("flightwatch.yml", []byte("# nothing configured yet\n"))
	if err != nil || cfg == nil {
		t.Fatalf("empty yaml: %v", err)
	}
	_, err = Decode("flightwatch.yaml", []byte("tracker: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "flightwatch.yaml") {
		t.Fatalf("syntax error should name the file, got %v", err)
	}
	if !isYAML("/etc/flightwatch/CONFIG.YML") || isYAML("config.json") {
		t.Fatal("isYAML extension check")
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		EnvAeroAPIKey:     "key-from-env",
		EnvTelegramToken:  "token-from-env",
		EnvTelegramChatID: "-1001",
		EnvDiscordWebhook: "https://discord.example/hook",
		EnvHTTPAddr:       "  ",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := &Config{FlightAware: FlightAwareConfig{APIKey: "file"}, HTTP: HTTPConfig{Addr: "127.0.0.1:9"}}
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.FlightAware.APIKey != "key-from-env" || cfg.Telegram.Token != "token-from-env" {
		t.Fatalf("secrets not applied: %+v", cfg)
	}
	if cfg.Telegram.ChatID != -1001 || cfg.Discord.WebhookURL == "" {
		t.Fatalf("chat/webhook not applied: %+v", cfg)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9" {
		t.Fatalf("blank env must not override addr, got %q", cfg.HTTP.Addr)
	}

	env[EnvTelegramChatID] = "general"
	if err := applyEnv(&Config{}, lookup); err == nil {
		t.Fatal("expected invalid chat id error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty ok"},
		{name: "bad duration", cfg: Config{Tracker: TrackerConfig{PollInterval: "3 hours"}}, wantErr: "tracker.poll_interval"},
		{name: "bad digest", cfg: Config{Tracker: TrackerConfig{Digest: "md5"}}, wantErr: "tracker.digest"},
		{name: "bad tz", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Nowhere/City"}}, wantErr: "scheduler.timezone"},
		{name: "bad driver", cfg: Config{Storage: &StorageConfig{Driver: "mongo"}}, wantErr: "storage.driver"},
		{name: "negative queue", cfg: Config{Notifier: &NotifierConfig{QueueSize: -1}}, wantErr: "notifier"},
		{name: "negative rate", cfg: Config{HTTP: HTTPConfig{RatePerSec: -1}}, wantErr: "rate_per_sec"},
	}
	for _, tt := range tests {
		err := Validate(&tt.cfg)
		if tt.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Fatalf("%s: err=%v want %q", tt.name, err, tt.wantErr)
		}
	}
}

func TestParseSecondsOrDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "3600", want: time.Hour},
		{in: " 90m ", want: 90 * time.Minute},
		{in: "0", want: 0},
		{in: "", wantErr: true},
		{in: "-5", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "10000000000", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSecondsOrDuration(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseSecondsOrDuration(%q)=%v,%v", tt.in, got, err)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{FlightAware: FlightAwareConfig{APIKey: "old-secret"}, Telegram: TelegramConfig{Token: "tok-a"}}
	newCfg := &Config{
		FlightAware: FlightAwareConfig{APIKey: "new-secret"},
		Telegram:    TelegramConfig{Token: "tok-b"},
		Tracker:     TrackerConfig{PollInterval: "1h"},
	}
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "flightaware,telegram,tracker" {
		t.Fatalf("sections=%v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(sections); strings.Join(got, ",") != "telegram" {
		t.Fatalf("restart=%v", got)
	}
	if s, _ := SummarizeConfigChange(newCfg, newCfg); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}

func TestManagerLoadAndParse(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "flightwatch.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.env = func(k string) (string, bool) {
		if k == EnvAeroAPIKey {
			return "k", true
		}
		return "", false
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m.Get() != cfg || cfg.FlightAware.APIKey != "k" {
		t.Fatalf("loaded=%+v", cfg.FlightAware)
	}
	if hashConfig(cfg) == 0 || hashConfig(cfg) != m.lastHash {
		t.Fatal("hash not committed")
	}
}

func TestSubscribeKeepsNewest(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("full subscriber should receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}
