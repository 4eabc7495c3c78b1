package config

import (
	"reflect"
	"sort"
	"strings"

	logx "postbot/pkg/logx"
)

// Change lists which sections differ between two configs.
type Change struct {
	Sections []string
	// Fields are safe to log; secrets are reported only as set/unset.
	Fields []logx.Field
	// Restart is true when a changed field only takes effect after a restart.
	Restart bool
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Summarize compares two configs section by section.
func Summarize(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	add := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Fields = append(ch.Fields, fields...)
		ch.Restart = ch.Restart || restart
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID ||
		ot.Mode != nt.Mode || ot.WebhookURL != nt.WebhookURL || ot.WebhookSecret != nt.WebhookSecret ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.CaptionParseMode != nt.CaptionParseMode {
		restart := ot.Token != nt.Token || ot.Mode != nt.Mode || ot.WebhookURL != nt.WebhookURL ||
			ot.WebhookSecret != nt.WebhookSecret || ot.ChatID != nt.ChatID ||
			strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
			ot.CaptionParseMode != nt.CaptionParseMode || ot.ThreadID != nt.ThreadID
		add("telegram", restart,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int64("telegram.chat_id", nt.ChatID),
			logx.String("telegram.mode", nt.Mode),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		add("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	op, np := oldCfg.Publisher, newCfg.Publisher
	if op != np {
		// Frequency and delivery retries are applied live.
		live := op
		live.Frequency = np.Frequency
		live.DeliveryRetries = np.DeliveryRetries
		add("publisher", live != np,
			logx.Int("publisher.frequency", np.Frequency),
			logx.Int("publisher.delivery_retries", np.DeliveryRetries),
			logx.String("publisher.timezone", np.Timezone),
			logx.String("publisher.completion", np.Completion),
		)
	}

	if oldCfg.Server != newCfg.Server {
		add("server", true,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Bool("server.tick_token_set", newCfg.Server.TickToken != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		add("task_engine", true)
	}

	var oDriver, nDriver string
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		add("storage", true,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.driver_changed", oDriver != nDriver),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}
