// Package app wires configuration, storage, the Telegram adapter and the
// services into one start/stoppable unit.
package app

import (
	"context"
	"fmt"
	"time"

	"routinebot/internal/adapters/telegram"
	"routinebot/internal/config"
	"routinebot/internal/services/notify"
	"routinebot/internal/services/ops"
	"routinebot/internal/services/reminder"
	"routinebot/internal/services/router"
	"routinebot/internal/services/timers"
	"routinebot/internal/storage"
	kit "routinebot/internal/transport"
	"routinebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger

	store   storage.Store
	adapter kit.Adapter
	notif   *notify.Service
	timers  *timers.Service
	engine  *reminder.Engine
	router  *router.Service
	ops     *ops.Service

	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.ResolveToken(),
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	notifCfg, err := notifyConfig(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	notif := notify.New(notifCfg, adapter, log.With(logx.String("comp", "notifier")))

	tm := timers.New(timers.Config{
		Workers:   cfg.Timers.Workers,
		QueueSize: cfg.Timers.QueueSize,
	}, log.With(logx.String("comp", "timers")))

	engCfg, err := engineConfig(cfg.Reminder)
	if err != nil {
		return nil, err
	}
	engine := reminder.NewEngine(engCfg, store, tm, notif, log.With(logx.String("comp", "reminder")))

	rt := router.New(router.Config{}, store, engine, adapter, log.With(logx.String("comp", "router")))

	opsSvc := ops.New(ops.Config{
		Enabled: cfg.Ops.Enabled,
		Addr:    cfg.Ops.Addr,
	}, tm, engine, log.With(logx.String("comp", "ops")))

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		store:   store,
		adapter: adapter,
		notif:   notif,
		timers:  tm,
		engine:  engine,
		router:  rt,
		ops:     opsSvc,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.notif.Start(runCtx)
	a.timers.Start(runCtx)
	a.router.Start(runCtx)

	if err := a.adapter.Start(runCtx, a.router.Updates()); err != nil {
		cancel()
		return fmt.Errorf("adapter: %w", err)
	}
	if err := a.engine.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("broadcasts: %w", err)
	}

	// The pending job set is in-memory only; rebuild it from storage.
	if err := a.engine.ReconcileAll(runCtx); err != nil {
		a.log.Warn("startup reconcile incomplete", logx.Err(err))
	}

	a.ops.Start(runCtx)

	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	// Services are wired once at startup; the log level is the one knob a
	// hot reload changes live. Everything else takes effect on restart.
	updates := a.cfgm.Subscribe(1)
	go func() {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				if cfg == nil {
					continue
				}
				lvl := logx.SetLevel(cfg.Logging.Level)
				a.log.Info("config reloaded", logx.String("log_level", lvl.String()))
			}
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	// Reverse start order: stop intake first, then the pipelines behind it.
	_ = a.adapter.Stop(ctx)
	a.engine.Stop(ctx)
	a.router.Stop(ctx)
	a.timers.Stop(ctx)
	a.notif.Stop(ctx)
	a.ops.Stop(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	err := a.store.Close()
	a.log.Info("stopped")
	a.log.Close()
	return err
}

func notifyConfig(c config.NotifierConfig) (notify.Config, error) {
	retryBase, err := config.ParseDurationField("notifier.retry_base", c.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", c.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Workers:       c.Workers,
		QueueSize:     c.QueueSize,
		RatePerSec:    c.RatePerSec,
		RetryMax:      c.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}, nil
}

func engineConfig(c config.ReminderConfig) (reminder.Config, error) {
	out := reminder.Config{}

	tz := c.Timezone
	if tz == "" {
		tz = "Europe/Moscow"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return out, fmt.Errorf("reminder.timezone: %w", err)
	}
	out.Location = loc

	out.Lead, err = config.ParseDurationOrDefault("reminder.lead_time", c.LeadTime, 15*time.Minute)
	if err != nil {
		return out, err
	}

	if c.MorningAt != "" {
		h, m, err := config.ParseClockField("reminder.morning_at", c.MorningAt)
		if err != nil {
			return out, err
		}
		out.Morning.Hour, out.Morning.Minute = h, m
	}
	if c.MiddayAt != "" {
		h, m, err := config.ParseClockField("reminder.midday_at", c.MiddayAt)
		if err != nil {
			return out, err
		}
		out.Midday.Hour, out.Midday.Minute = h, m
	}
	if c.EveningAt != "" {
		h, m, err := config.ParseClockField("reminder.evening_at", c.EveningAt)
		if err != nil {
			return out, err
		}
		out.Evening.Hour, out.Evening.Minute = h, m
	}
	return out, nil
}
