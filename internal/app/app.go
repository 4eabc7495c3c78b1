package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"postbot/internal/config"
	"postbot/internal/eventbus"
	"postbot/internal/publisher"
	rtsup "postbot/internal/runtime/supervisor"
	"postbot/internal/server"
	"postbot/internal/storage"
	"postbot/internal/task/engine"
	"postbot/internal/task/timer"
	kit "postbot/internal/transport"
	telegram "postbot/internal/transport/telegram/adapter"
	"postbot/internal/transport/telegram/router"
	logx "postbot/pkg/logx"
	"postbot/pkg/systemd"
)

type App struct {
	cfgPath  string
	cfgm     *config.Manager
	settings config.Settings
	sup      *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	journal storage.Store

	adapter *telegram.Adapter
	engine  *engine.Service
	wheel   *timer.Wheel
	pub     *publisher.Service
	http    *server.Service

	cmdm *router.CommandManager
	ctl  *controls

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := checkJournalPath(cfg); err != nil {
		return nil, err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(mapAdapterConfig(cfg, settings), bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink off, set the target, then enable it, so
	// Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	boot := logCfg
	boot.Telegram.Enabled = false
	logSvc, log := logx.New(boot, ad)
	logSvc.SetChatTarget(settings.LogChatID, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	var journal storage.Store
	if sc, enabled := mapStorageConfig(cfg, settings); enabled {
		journal, err = storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		log.Info("journal enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	bus := eventbus.New()
	eng := engine.New(mapEngineConfig(cfg, settings), log.With(logx.String("comp", "taskengine")), bus)
	wheel := timer.New(log)

	pcfg := mapPublisherConfig(cfg, settings)
	store := publisher.NewStore(afero.NewOsFs(), pcfg.Dirs, log)
	pub := publisher.New(pcfg, publisher.Deps{
		Store:   store,
		Wheel:   wheel,
		Engine:  eng,
		Sender:  ad,
		Journal: journal,
		Bus:     bus,
		Log:     log,
	})

	var httpSvc *server.Service
	if cfg.Server.Enabled {
		httpSvc = server.New(mapServerConfig(cfg), server.Deps{
			Tick:    pub.Tick,
			Status:  func() any { return pub.Stats() },
			Webhook: ad.WebhookHandler(),
		}, log)
	}

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	ctl := newControls(pub, journal, settings.TestDelay, log.With(logx.String("comp", "controls")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		settings: settings,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		journal:  journal,
		adapter:  ad,
		engine:   eng,
		wheel:    wheel,
		pub:      pub,
		http:     httpSvc,
		cmdm:     cmdm,
		ctl:      ctl,
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return checkJournalPath(cfg) })

	a.engine.Start(a.sup.Context())
	a.pub.Start(a.sup.Context(), a.settings.PollInterval)
	if a.http != nil {
		a.http.Start(a.sup.Context())
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.cmdm.SetRegistry(a.sup.Context(), a.ctl.commands(), a.ctl.callbacks())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	res := a.pub.Reload(a.sup.Context())
	a.log.Info("initial plan", logx.Int("queued", res.Loaded), logx.Int("planned", res.Planned))

	if a.cfgm.Get().Publisher.WatchIncoming {
		a.sup.GoRestart("publisher.watch", func(c context.Context) error {
			return a.pub.WatchIncoming(c, a.settings.WatchDebounce)
		}, rtsup.WithRestartBackoff(time.Second, time.Minute))
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				ch := config.Summarize(lastApplied, newCfg)
				lastApplied = newCfg
				a.applyConfig(c, newCfg, ch)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	if every := systemd.WatchdogInterval(); every > 0 {
		a.sup.GoRestart("systemd.watchdog", func(c context.Context) error {
			return systemd.Watchdog(c, every, func() bool { return a.sup.Err() == nil })
		})
	}

	a.log.Info("app started", logx.String("mode", a.cfgm.Get().Telegram.Mode), logx.Int("frequency", a.pub.Frequency()))
	return nil
}

// applyConfig applies the live parts of a reloaded config. Logging, owners,
// delivery retries and frequency take effect immediately; everything else
// waits for a restart.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config, ch config.Change) {
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Debug("config change summary", fields...)

	if s, err := config.Resolve(cfg); err == nil {
		a.logs.SetChatTarget(s.LogChatID, cfg.Logging.Telegram.ThreadID)
	}
	a.logs.Apply(mapLogConfig(cfg))
	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)

	if ch.Has("publisher") {
		a.engine.SetRetries(cfg.Publisher.DeliveryRetries)
	}
	if ch.Has("publisher") && cfg.Publisher.Frequency != a.pub.Frequency() {
		res, err := a.pub.SetFrequency(ctx, cfg.Publisher.Frequency)
		if err != nil {
			a.log.Warn("frequency from config rejected", logx.Kind(publisher.KindConfiguration), logx.Err(err))
		} else {
			a.ctl.audit(ctx, nil, storage.AuditEntry{Action: storage.ActionFrequency, Target: fmt.Sprint(cfg.Publisher.Frequency), OK: res.Planned, MetaJSON: `{"source":"config"}`})
		}
	}
	if ch.Restart {
		a.log.Warn("restart required for some config changes", logx.String("changed", strings.Join(ch.Sections, ",")))
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	a.sup.Cancel()

	// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = atLeastMillisecond(rem)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("server", 3*time.Second, func(c context.Context) error {
		if a.http != nil {
			return a.http.Stop(c)
		}
		return nil
	})
	step("timers", 1*time.Second, func(c context.Context) error { a.wheel.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("journal", 1*time.Second, func(c context.Context) error {
		if a.journal != nil {
			return a.journal.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func atLeastMillisecond(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

// checkJournalPath refuses a journal file inside a folder that FullPurge
// empties.
func checkJournalPath(cfg *config.Config) error {
	if cfg.Storage == nil || strings.TrimSpace(cfg.Storage.Path) == "" {
		return nil
	}
	p, err := filepath.Abs(cfg.Storage.Path)
	if err != nil {
		return nil
	}
	for _, dir := range []string{cfg.Publisher.IncomingDir, cfg.Publisher.QueueDir} {
		d, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(d, p); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: storage.path %q lies inside %q", config.ErrInvalid, cfg.Storage.Path, dir)
		}
	}
	return nil
}
