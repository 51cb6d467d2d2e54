// Package app assembles the engine: config, logging, storage, the chip
// registry, the dispatcher, the campaign orchestrator and the scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"chipsend/internal/balancer"
	"chipsend/internal/campaign"
	"chipsend/internal/config"
	"chipsend/internal/contacts"
	"chipsend/internal/dispatch"
	"chipsend/internal/driver/telegram"
	"chipsend/internal/eventbus"
	"chipsend/internal/pacing"
	"chipsend/internal/render"
	"chipsend/internal/schedule"
	"chipsend/internal/session"
	"chipsend/internal/storage"
	"chipsend/internal/supervisor"
	logx "chipsend/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	docs  *storage.DocStore

	registry   *session.Registry
	dispatcher *dispatch.Dispatcher
	orch       *campaign.Orchestrator
	sched      *schedule.Service

	cfgCh chan *config.Config
}

// New loads and validates the config and builds everything that needs no
// running context. Start wires the rest.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		return c.Validate()
	})

	a := &App{
		cfgm: cfgm,
		log:  log,
		logs: logSvc,
		bus:  eventbus.New(),
	}

	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		if st != nil {
			log.Info("message log enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	docs, err := storage.NewDocStore(cfg.Engine.DataDir, log.With(logx.String("comp", "docstore")))
	if err != nil {
		return nil, err
	}
	a.docs = docs
	return a, nil
}

// Bus exposes engine events for an embedding transport/UI layer.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Registry exposes the chip pool for an embedding transport/UI layer.
func (a *App) Registry() *session.Registry { return a.registry }

// Orchestrator exposes campaign control for an embedding transport/UI layer.
func (a *App) Orchestrator() *campaign.Orchestrator { return a.orch }

func clientFactory(driver string) (session.ClientFactory, error) {
	switch driver {
	case "telegram":
		return telegram.Factory(), nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", driver)
	}
}

// Start brings the engine up: restores persisted sessions, resumes any
// interrupted campaign in the background and arms scheduled starts.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	factory, err := clientFactory(cfg.Sessions.Driver)
	if err != nil {
		return err
	}
	reg, err := session.NewRegistry(session.RegistryConfig{
		Dir:     cfg.Sessions.Dir,
		Driver:  cfg.Sessions.Driver,
		Factory: factory,
		Bus:     a.bus,
		Log:     a.log.With(logx.String("comp", "sessions")),
		Sup:     a.sup,
		QRTTL:   cfg.QRTTL(session.DefaultQRTTL),
	})
	if err != nil {
		return err
	}
	a.registry = reg

	readyWait, err := config.ParseDurationField("dispatch.ready_wait", cfg.Dispatch.ReadyWait)
	if err != nil {
		return err
	}
	deliveryWait, err := config.ParseDurationField("dispatch.delivery_wait", cfg.Dispatch.DeliveryWait)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	a.dispatcher = dispatch.New(dispatch.Config{
		ReadyWait:     readyWait,
		DeliveryWait:  deliveryWait,
		RatePerMinute: cfg.Dispatch.RatePerMinute,
	}, balancer.New(reg), render.New(rng), rng, a.log.With(logx.String("comp", "dispatch")))

	delayMin, delayMax := cfg.Dispatch.Window()
	orch, err := campaign.New(ctx, campaign.Options{
		Docs:       a.docs,
		Messages:   a.store,
		Registry:   reg,
		Dispatcher: a.dispatcher,
		Source:     contacts.CSV{},
		Bus:        a.bus,
		Log:        a.log,
		BaseDelay:  pacing.Config{Min: delayMin, Max: delayMax},
	})
	if err != nil {
		return err
	}
	a.orch = orch

	restored, err := reg.RestoreAll()
	if err != nil {
		return fmt.Errorf("restoring sessions: %w", err)
	}
	a.log.Info("sessions restored", logx.Int("count", len(restored)))

	if orch.HasActiveCampaign() {
		a.sup.Go("campaign-resume", func(ctx context.Context) {
			if err := orch.Resume(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("campaign resume failed", logx.Err(err))
			}
		})
	}

	if cfg.Schedule.Enabled {
		if err := a.armSchedule(cfg); err != nil {
			return err
		}
	}

	a.sup.Go("config-watch", func(ctx context.Context) {
		_ = a.cfgm.Watch(ctx)
	})
	a.cfgCh = a.cfgm.Subscribe(4)
	a.sup.Go("config-apply", func(ctx context.Context) {
		a.applyConfigUpdates(ctx)
	})

	a.log.Info("engine started",
		logx.String("driver", cfg.Sessions.Driver),
		logx.Int("rate_per_minute", cfg.Dispatch.RatePerMinute),
	)
	return nil
}

func (a *App) armSchedule(cfg *config.Config) error {
	a.sched = schedule.New(cfg.Schedule.Timezone, a.log)

	// Hourly visibility into the day's counters; also touches the rollover
	// read path so a quiet engine still logs the date change.
	err := a.sched.AddCron("daily-stats", "@hourly", 0, func(ctx context.Context) error {
		stats, err := a.orch.DailyStats(ctx)
		if err != nil {
			return err
		}
		a.log.Info("daily stats",
			logx.String("date", stats.Date),
			logx.Int("sent", stats.TotalSent),
			logx.Int("delivered", stats.TotalDelivered),
		)
		return nil
	})
	if err != nil {
		return err
	}

	for _, s := range cfg.Schedule.Starts {
		s := s
		opts := scheduledStartOptions(s, cfg.Dispatch)
		job := func(ctx context.Context) error {
			err := a.orch.Start(ctx, s.SourcePath, s.Template, filepath.Base(s.SourcePath), opts)
			if errors.Is(err, campaign.ErrCampaignActive) {
				a.log.Warn("scheduled start skipped, campaign active", logx.String("job", s.Name))
				return nil
			}
			return err
		}
		var err error
		if s.Cron != "" {
			err = a.sched.AddCron(s.Name, s.Cron, 0, job)
		} else {
			err = a.sched.AddDaily(s.Name, s.At, 0, job)
		}
		if err != nil {
			return err
		}
	}
	a.sched.Start(a.sup.Context())
	return nil
}

// scheduledStartOptions maps a schedule entry onto campaign start options.
// The dispatch-level dry_run applies to scheduled starts too; bad durations
// were already rejected by Validate, so parse errors fall back to the
// campaign defaults.
func scheduledStartOptions(s config.ScheduledCampaign, d config.DispatchConfig) campaign.StartOptions {
	min, _ := config.ParseDurationField("delay_min", s.DelayMin)
	max, _ := config.ParseDurationField("delay_max", s.DelayMax)
	return campaign.StartOptions{
		DelayMin: min,
		DelayMax: max,
		DryRun:   d.DryRun,
	}
}

// applyConfigUpdates reacts to committed config reloads. Only logging is
// re-applied live; structural sections (sessions, storage, schedule) need a
// restart and are reported as such.
func (a *App) applyConfigUpdates(ctx context.Context) {
	var last *config.Config
	if a.cfgm != nil {
		last = a.cfgm.Get()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeConfigChange(last, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)
			for _, section := range changed {
				switch section {
				case "logging":
					a.logs.Apply(logx.Config{
						Level:   cfg.Logging.Level,
						Console: cfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: cfg.Logging.File.Enabled,
							Path:    cfg.Logging.File.Path,
						},
					})
				default:
					a.log.Warn("config section needs restart to take effect",
						logx.String("section", section))
				}
			}
			last = cfg
		}
	}
}

// Stop shuts the engine down in dependency order: stop triggers, pause the
// loop, close sessions, then flush storage and logs.
func (a *App) Stop(ctx context.Context) error {
	if a.sched != nil {
		a.sched.Stop(ctx)
	}
	if a.orch != nil {
		a.orch.Pause()
	}
	if a.registry != nil {
		a.registry.Shutdown(ctx)
	}
	if a.sup != nil {
		if !a.sup.Stop(10 * time.Second) {
			a.log.Warn("shutdown timed out waiting for goroutines")
		}
	}
	if a.cfgm != nil && a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("message log close failed", logx.Err(err))
		}
	}
	a.log.Info("engine stopped")
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}
