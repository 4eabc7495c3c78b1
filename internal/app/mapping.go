package app

import (
	"postbot/internal/config"
	"postbot/internal/publisher"
	"postbot/internal/server"
	"postbot/internal/storage"
	"postbot/internal/task/engine"
	"postbot/internal/transport"
	telegram "postbot/internal/transport/telegram/adapter"
	logx "postbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAdapterConfig(cfg *config.Config, s config.Settings) telegram.Config {
	return telegram.Config{
		Token:         cfg.Telegram.Token,
		PollTimeout:   s.PollTimeout,
		Mode:          cfg.Telegram.Mode,
		WebhookURL:    cfg.Telegram.WebhookURL,
		WebhookSecret: cfg.Telegram.WebhookSecret,
	}
}

// mapStorageConfig reports enabled=false when no journal is configured.
func mapStorageConfig(cfg *config.Config, s config.Settings) (storage.Config, bool) {
	if cfg.Storage == nil {
		return storage.Config{}, false
	}
	sc := storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: s.BusyTimeout,
	}
	switch sc.Driver {
	case "", "none":
		return sc, false
	}
	return sc, true
}

// mapEngineConfig pins the delivery lane to one worker.
func mapEngineConfig(cfg *config.Config, s config.Settings) engine.Config {
	ec := engine.Config{
		Workers:        1,
		DefaultTimeout: s.DeliveryTimeout,
		Retries:        cfg.Publisher.DeliveryRetries,
		RetryBase:      s.RetryBase,
		RetryMaxDelay:  s.RetryMaxDelay,
	}
	if te := cfg.TaskEngine; te != nil {
		ec.QueueSize = te.QueueSize
		ec.HistorySize = te.HistorySize
	}
	return ec
}

func mapPublisherConfig(cfg *config.Config, s config.Settings) publisher.Config {
	p := cfg.Publisher
	return publisher.Config{
		Dirs: publisher.Dirs{
			Incoming: p.IncomingDir,
			Queue:    p.QueueDir,
			Archive:  p.ArchiveDir,
		},
		Completion:       publisher.Completion(p.Completion),
		Frequency:        p.Frequency,
		Location:         s.Location,
		Target:           transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
		CaptionParseMode: cfg.Telegram.CaptionParseMode,
		DeliveryTimeout:  s.DeliveryTimeout,
	}
}

func mapServerConfig(cfg *config.Config) server.Config {
	return server.Config{
		Addr:           cfg.Server.Addr,
		TickToken:      cfg.Server.TickToken,
		TickRatePerSec: cfg.Server.TickRatePerSec,
		Pprof:          cfg.Server.Pprof,
	}
}
