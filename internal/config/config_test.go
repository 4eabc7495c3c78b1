package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	yamlSrc := `
telegram:
  token: abc
  chat_id: -100123
  owner_user_ids: [1, 2]
publisher:
  frequency: 3
  timezone: UTC
`
	jsonSrc := `{"telegram":{"token":"abc","chat_id":-100123,"owner_user_ids":[1,2]},"publisher":{"frequency":3,"timezone":"UTC"}}`

	for _, tc := range []struct {
		name string
		path string
		src  string
	}{
		{"yaml", "config.yaml", yamlSrc},
		{"yml", "config.yml", yamlSrc},
		{"json", "config.json", jsonSrc},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Decode(tc.path, []byte(tc.src))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if cfg.Telegram.Token != "abc" || cfg.Telegram.ChatID != -100123 {
				t.Fatalf("telegram = %+v", cfg.Telegram)
			}
			if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Publisher.Frequency != 3 {
				t.Fatalf("cfg = %+v", cfg)
			}
		})
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		path string
		src  string
	}{
		{"unknown json", "c.json", `{"telegram":{"tokn":"x"}}`},
		{"unknown yaml", "c.yaml", "publisher:\n  freq: 2\n"},
		{"trailing", "c.json", `{} {}`},
		{"bad yaml", "c.yaml", "telegram: [1,"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tc.path, []byte(tc.src)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	err := applyEnv(cfg, envMap(map[string]string{
		EnvBotToken:    "tok",
		EnvChatID:      "-42",
		EnvTickToken:   "secret",
		EnvPort:        "8080",
		EnvExternalURL: "https://bot.example.com/",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Telegram.Token != "tok" || cfg.Telegram.ChatID != -42 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Server.TickToken != "secret" || cfg.Server.Addr != ":8080" || !cfg.Server.Enabled {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Telegram.WebhookURL != "https://bot.example.com/webhook" || cfg.Telegram.Mode != ModeWebhook {
		t.Fatalf("webhook = %q mode = %q", cfg.Telegram.WebhookURL, cfg.Telegram.Mode)
	}
}

func TestApplyEnvFileWins(t *testing.T) {
	t.Parallel()

	cfg := &Config{Telegram: TelegramConfig{Token: "file", ChatID: 7, Mode: ModePolling}}
	if err := applyEnv(cfg, envMap(map[string]string{
		EnvBotToken:    "env",
		EnvChatID:      "9",
		EnvExternalURL: "https://x",
	})); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Telegram.Token != "file" || cfg.Telegram.ChatID != 7 || cfg.Telegram.Mode != ModePolling {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
}

func TestApplyEnvBadChatID(t *testing.T) {
	t.Parallel()

	if err := applyEnv(&Config{}, envMap(map[string]string{EnvChatID: "channel"})); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{Server: ServerConfig{Enabled: true}}
	ApplyDefaults(cfg)
	p := cfg.Publisher
	if p.IncomingDir != "./data/materials" || p.QueueDir != "./data/wait" || p.ArchiveDir != "./data/arch" {
		t.Fatalf("dirs = %+v", p)
	}
	if p.Frequency != 2 || p.Timezone != "Europe/Riga" || p.Completion != "archive" {
		t.Fatalf("publisher = %+v", p)
	}
	if cfg.Server.Addr != ":10000" || cfg.Telegram.Mode != ModePolling {
		t.Fatalf("server = %+v mode = %q", cfg.Server, cfg.Telegram.Mode)
	}
}

func validConfig() *Config {
	cfg := &Config{Telegram: TelegramConfig{Token: "t", ChatID: -1}}
	cfg.Publisher.Timezone = "UTC"
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"no token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"no chat", func(c *Config) { c.Telegram.ChatID = 0 }, "telegram.chat_id"},
		{"zero frequency", func(c *Config) { c.Publisher.Frequency = -1 }, "publisher.frequency"},
		{"bad completion", func(c *Config) { c.Publisher.Completion = "keep" }, "publisher.completion"},
		{"bad mode", func(c *Config) { c.Telegram.Mode = "push" }, "telegram.mode"},
		{"webhook without url", func(c *Config) {
			c.Telegram.Mode = ModeWebhook
			c.Server.Enabled = true
		}, "telegram.webhook_url"},
		{"same dirs", func(c *Config) { c.Publisher.QueueDir = c.Publisher.IncomingDir }, "must differ"},
		{"bad timezone", func(c *Config) { c.Publisher.Timezone = "Mars/Olympus" }, "publisher.timezone"},
		{"bad duration", func(c *Config) { c.Publisher.PollInterval = "soon" }, "publisher.poll_interval"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "@logs" }, "telegram.group_log"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Publisher.PollInterval = "30s"
	cfg.Telegram.GroupLog = "-100500"
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.PollInterval != 30*time.Second || s.DeliveryTimeout != 2*time.Minute || s.TestDelay != 10*time.Second {
		t.Fatalf("settings = %+v", s)
	}
	if s.Location.String() != "UTC" || s.LogChatID != -100500 {
		t.Fatalf("location = %v log chat = %d", s.Location, s.LogChatID)
	}
}

func TestManagerLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	src := "telegram:\n  chat_id: -5\npublisher:\n  timezone: UTC\n  frequency: 4\n"
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	m.getenv = envMap(map[string]string{EnvBotToken: "from-env"})

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Publisher.Frequency != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestManagerReloadPublishesChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(freq string) {
		t.Helper()
		src := `{"telegram":{"token":"t","chat_id":-5},"publisher":{"timezone":"UTC","frequency":` + freq + `}}`
		if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("2")
	m := NewManager(path)
	m.getenv = envMap(nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	m.reload(testContext(t))
	select {
	case <-ch:
		t.Fatal("unchanged config was published")
	default:
	}

	write("0")
	m.reload(testContext(t))
	select {
	case <-ch:
		t.Fatal("frequency 0 defaults to 2 and must not publish")
	default:
	}

	write("-3")
	m.reload(testContext(t))
	select {
	case <-ch:
		t.Fatal("invalid config was published")
	default:
	}

	write("5")
	m.reload(testContext(t))
	select {
	case got := <-ch:
		if got.Publisher.Frequency != 5 {
			t.Fatalf("frequency = %d, want 5", got.Publisher.Frequency)
		}
	default:
		t.Fatal("changed config was not published")
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	oldCfg := validConfig()
	newCfg := validConfig()
	newCfg.Publisher.Frequency = 5
	ch := Summarize(oldCfg, newCfg)
	if !ch.Has("publisher") || ch.Restart || len(ch.Sections) != 1 {
		t.Fatalf("change = %+v", ch)
	}

	newCfg.Publisher.DeliveryRetries = 3
	if ch = Summarize(oldCfg, newCfg); ch.Restart {
		t.Fatalf("retries should apply live: %+v", ch)
	}
	newCfg.Publisher.QueueDir = "elsewhere"
	if ch = Summarize(oldCfg, newCfg); !ch.Restart {
		t.Fatalf("queue_dir needs a restart: %+v", ch)
	}
	newCfg.Publisher.QueueDir = oldCfg.Publisher.QueueDir

	newCfg.Telegram.Token = "rotated"
	ch = Summarize(oldCfg, newCfg)
	if !ch.Has("telegram") || !ch.Restart {
		t.Fatalf("change = %+v", ch)
	}
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Parallel()

	data, err := os.ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Decode("config.example.yaml", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.ChatID = -100500
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Publisher.Frequency != 2 || cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected example values: %+v %+v", cfg.Publisher, cfg.Storage)
	}
}
