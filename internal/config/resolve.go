package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // default timezone must resolve on hosts without zoneinfo
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Settings are the typed values derived from a Config.
type Settings struct {
	PollTimeout     time.Duration
	PollInterval    time.Duration
	DeliveryTimeout time.Duration
	TestDelay       time.Duration
	WatchDebounce   time.Duration
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	BusyTimeout     time.Duration
	Location        *time.Location
	LogChatID       int64
}

// ApplyDefaults fills omitted fields in place.
func ApplyDefaults(cfg *Config) {
	p := &cfg.Publisher
	if strings.TrimSpace(p.IncomingDir) == "" {
		p.IncomingDir = "./data/materials"
	}
	if strings.TrimSpace(p.QueueDir) == "" {
		p.QueueDir = "./data/wait"
	}
	if strings.TrimSpace(p.ArchiveDir) == "" {
		p.ArchiveDir = "./data/arch"
	}
	if strings.TrimSpace(p.Completion) == "" {
		p.Completion = "archive"
	}
	if p.Frequency == 0 {
		p.Frequency = 2
	}
	if strings.TrimSpace(p.Timezone) == "" {
		p.Timezone = "Europe/Riga"
	}
	if strings.TrimSpace(cfg.Telegram.Mode) == "" {
		cfg.Telegram.Mode = ModePolling
	}
	if cfg.Server.Enabled && strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":10000"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// Resolve parses durations, the timezone and the log chat id.
func Resolve(cfg *Config) (Settings, error) {
	var (
		s   Settings
		err error
	)
	dur := func(dst *time.Duration, path, raw string, def time.Duration) {
		if err != nil {
			return
		}
		*dst, err = parseDurationOrDefault(path, raw, def)
	}
	dur(&s.PollTimeout, "telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	dur(&s.PollInterval, "publisher.poll_interval", cfg.Publisher.PollInterval, 10*time.Second)
	dur(&s.DeliveryTimeout, "publisher.delivery_timeout", cfg.Publisher.DeliveryTimeout, 2*time.Minute)
	dur(&s.TestDelay, "publisher.test_delay", cfg.Publisher.TestDelay, 10*time.Second)
	dur(&s.WatchDebounce, "publisher.watch_debounce", cfg.Publisher.WatchDebounce, 2*time.Second)
	if te := cfg.TaskEngine; te != nil {
		dur(&s.RetryBase, "task_engine.retry_base", te.RetryBase, 2*time.Second)
		dur(&s.RetryMaxDelay, "task_engine.retry_max_delay", te.RetryMaxDelay, 30*time.Second)
	}
	if st := cfg.Storage; st != nil {
		dur(&s.BusyTimeout, "storage.busy_timeout", st.BusyTimeout, 0)
	}
	if err != nil {
		return Settings{}, err
	}

	tz := strings.TrimSpace(cfg.Publisher.Timezone)
	if tz == "" {
		s.Location = time.Local
	} else if s.Location, err = time.LoadLocation(tz); err != nil {
		return Settings{}, fmt.Errorf("%w: publisher.timezone %q: %v", ErrInvalid, tz, err)
	}

	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if s.LogChatID, err = strconv.ParseInt(g, 10, 64); err != nil {
			return Settings{}, fmt.Errorf("%w: telegram.group_log must be a chat id", ErrInvalid)
		}
	}
	return s, nil
}

// Validate checks a config after defaults and environment were applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var problems []string
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		problems = append(problems, "telegram.token is required (or BOT_TOKEN)")
	}
	if cfg.Telegram.ChatID == 0 {
		problems = append(problems, "telegram.chat_id is required (or CHAT_ID)")
	}
	switch cfg.Telegram.Mode {
	case ModePolling:
	case ModeWebhook:
		if strings.TrimSpace(cfg.Telegram.WebhookURL) == "" {
			problems = append(problems, "telegram.webhook_url is required in webhook mode")
		}
		if !cfg.Server.Enabled {
			problems = append(problems, "server.enabled must be true in webhook mode")
		}
	default:
		problems = append(problems, fmt.Sprintf("telegram.mode %q must be polling or webhook", cfg.Telegram.Mode))
	}
	if cfg.Publisher.Frequency < 1 {
		problems = append(problems, "publisher.frequency must be a positive integer")
	}
	switch cfg.Publisher.Completion {
	case "archive", "delete":
	default:
		problems = append(problems, fmt.Sprintf("publisher.completion %q must be archive or delete", cfg.Publisher.Completion))
	}
	if cfg.Publisher.DeliveryRetries < 0 {
		problems = append(problems, "publisher.delivery_retries must be >= 0")
	}
	if cfg.Publisher.IncomingDir == cfg.Publisher.QueueDir {
		problems = append(problems, "publisher.incoming_dir and publisher.queue_dir must differ")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	if _, err := Resolve(cfg); err != nil {
		return err
	}
	return nil
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: invalid duration %q: %v", ErrInvalid, path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s: duration must be >= 0", ErrInvalid, path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
