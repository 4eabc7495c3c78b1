package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables understood by ApplyEnv.
const (
	EnvBotToken    = "BOT_TOKEN"
	EnvChatID      = "CHAT_ID"
	EnvTickToken   = "TICK_TOKEN"
	EnvPort        = "PORT"
	EnvExternalURL = "RENDER_EXTERNAL_URL"
)

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv fills empty config fields from the environment.
// Values in the config file win.
func ApplyEnv(cfg *Config) error { return applyEnv(cfg, os.Getenv) }

func applyEnv(cfg *Config, getenv func(string) string) error {
	if cfg == nil {
		return nil
	}
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = get(EnvBotToken)
	}
	if v := get(EnvChatID); v != "" && cfg.Telegram.ChatID == 0 {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.New(EnvChatID + ": not an integer chat id")
		}
		cfg.Telegram.ChatID = id
	}
	if cfg.Server.TickToken == "" {
		cfg.Server.TickToken = get(EnvTickToken)
	}
	if v := get(EnvPort); v != "" && cfg.Server.Addr == "" {
		cfg.Server.Addr = ":" + v
		cfg.Server.Enabled = true
	}
	if v := get(EnvExternalURL); v != "" && cfg.Telegram.WebhookURL == "" {
		cfg.Telegram.WebhookURL = strings.TrimRight(v, "/") + "/webhook"
		if cfg.Telegram.Mode == "" {
			cfg.Telegram.Mode = ModeWebhook
		}
	}
	return nil
}
