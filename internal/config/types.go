package config

// Config is the on-disk configuration (JSON or YAML).
//
// Secrets (telegram.token, server.tick_token) may be left empty and supplied
// through the environment; see ApplyEnv.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Publisher PublisherConfig `json:"publisher"`
	Server    ServerConfig    `json:"server"`

	// TaskEngine tunes the delivery lane. Worker count is fixed at one.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the channel or group publications go to.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`

	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is a chat id (as string) receiving WARN+ log records.
	GroupLog string `json:"group_log"`

	// Mode is "polling" (default) or "webhook".
	Mode          string `json:"mode,omitempty"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// CaptionParseMode is "", "HTML" or "MarkdownV2".
	CaptionParseMode string `json:"caption_parse_mode,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PublisherConfig controls folders, frequency and delivery.
//
// Durations are Go duration strings. Defaults:
//   - incoming_dir "./data/materials", queue_dir "./data/wait", archive_dir "./data/arch"
//   - completion "archive"
//   - frequency 2
//   - timezone "Europe/Riga"
//   - poll_interval "10s"
//   - delivery_timeout "2m"
//   - test_delay "10s"
type PublisherConfig struct {
	IncomingDir string `json:"incoming_dir"`
	QueueDir    string `json:"queue_dir"`
	ArchiveDir  string `json:"archive_dir"`
	// Completion is "archive" or "delete".
	Completion string `json:"completion"`
	Frequency  int    `json:"frequency"`
	Timezone   string `json:"timezone"`

	PollInterval    string `json:"poll_interval"`
	DeliveryRetries int    `json:"delivery_retries"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	TestDelay       string `json:"test_delay,omitempty"`

	WatchIncoming bool   `json:"watch_incoming"`
	WatchDebounce string `json:"watch_debounce,omitempty"`
}

// ServerConfig controls the HTTP host (health, tick, webhook).
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	// TickToken guards /tick. An empty token disables the endpoint.
	TickToken      string `json:"tick_token,omitempty"`
	TickRatePerSec int    `json:"tick_rate_per_sec,omitempty"`
	// Pprof exposes /debug/pprof, guarded by TickToken.
	Pprof bool `json:"pprof,omitempty"`
}

// TaskEngineConfig controls the delivery lane.
//
// Defaults: queue_size 64, history_size 100, retry_base "2s", retry_max_delay "30s".
type TaskEngineConfig struct {
	QueueSize     int    `json:"queue_size,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// StorageConfig controls the publication journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/journal.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
