package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvAeroAPIKey      = "AEROAPI_KEY"
	EnvTelegramToken   = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID  = "TELEGRAM_CHAT_ID"
	EnvDiscordWebhook  = "DISCORD_WEBHOOK_URL"
	EnvHTTPAddr        = "FLIGHTWATCH_HTTP_ADDR"
	defaultDotEnvFiles = ".env"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables already set in the environment win. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{defaultDotEnvFiles}
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays secrets and deploy-specific values from the environment.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvAeroAPIKey); ok {
		cfg.FlightAware.APIKey = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTelegramChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.New(EnvTelegramChatID + ": invalid chat id " + strconv.Quote(v))
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := get(EnvDiscordWebhook); ok {
		cfg.Discord.WebhookURL = v
	}
	if v, ok := get(EnvHTTPAddr); ok {
		cfg.HTTP.Addr = v
	}
	return nil
}
