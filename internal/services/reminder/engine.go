package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"routinebot/internal/model"
	"routinebot/internal/services/notify"
	"routinebot/internal/services/timers"
	"routinebot/internal/storage"
	kit "routinebot/internal/transport"
	"routinebot/pkg/logx"
)

// Sink is where rendered messages go. Satisfied by the notify service;
// tests plug in a recorder.
type Sink interface {
	Notify(n notify.Notification) error
}

// Config carries the already validated reminder settings.
type Config struct {
	Location *time.Location
	Lead     time.Duration
	Morning  model.Clock
	Midday   model.Clock
	Evening  model.Clock
	// Now supplies the current time. Defaults to time.Now; tests inject.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Lead <= 0 {
		c.Lead = 15 * time.Minute
	}
	if c.Morning == (model.Clock{}) {
		c.Morning = model.Clock{Hour: 7, Minute: 30}
	}
	if c.Midday == (model.Clock{}) {
		c.Midday = model.Clock{Hour: 13, Minute: 0}
	}
	if c.Evening == (model.Clock{}) {
		c.Evening = model.Clock{Hour: 20, Minute: 30}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Engine owns the reminder job set. Storage is the single source of truth;
// the engine's only job state is the in-memory pending set inside timers,
// rebuilt from storage on every change and on startup.
type Engine struct {
	log    logx.Logger
	store  storage.Store
	timers *timers.Service
	sink   Sink
	cfg    Config
	now    func() time.Time
	locks  *keyedMutex

	cronMu      sync.Mutex
	cron        *cron.Cron
	cronEntries []cronEntry
}

type cronEntry struct {
	name string
	id   cron.EntryID
}

func NewEngine(cfg Config, store storage.Store, tm *timers.Service, sink Sink, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		log:    log,
		store:  store,
		timers: tm,
		sink:   sink,
		cfg:    cfg,
		now:    cfg.Now,
		locks:  newKeyedMutex(),
	}
}

// Location returns the engine's wall-clock timezone.
func (e *Engine) Location() *time.Location { return e.cfg.Location }

// Today is the current civil date in the engine's timezone.
func (e *Engine) Today() model.Day {
	return model.DayOf(e.now().In(e.cfg.Location))
}

// Namespace is the job id prefix shared by all of one owner's reminders for
// one day. Jobs are namespaced so a day's set can be replaced atomically.
func Namespace(owner int64, day model.Day) string {
	return fmt.Sprintf("reminder:%d:%s:", owner, day.Key())
}

// Reconcile rebuilds the reminder jobs for one (owner, day) pair from
// storage: cancel the whole namespace, fetch the day's events, schedule a
// job per event whose reminder window has not passed. It is idempotent and
// serialized per namespace; concurrent calls for different owners or days
// do not contend.
//
// On a storage error the namespace is left empty (no stale jobs from the
// previous generation survive) and the error is returned for the caller to
// retry.
func (e *Engine) Reconcile(ctx context.Context, owner int64, day model.Day) (int, error) {
	ns := Namespace(owner, day)
	unlock := e.locks.lock(ns)
	defer unlock()

	cancelled := e.timers.CancelPrefix(ns)

	events, err := e.store.EventsFor(ctx, owner, day)
	if err != nil {
		e.log.Warn("reconcile aborted, namespace left empty",
			logx.String("namespace", ns), logx.Err(err))
		return 0, fmt.Errorf("reconcile %s: %w", ns, err)
	}

	scheduled := 0
	for _, ev := range events {
		trigger := day.At(ev.Start, e.cfg.Location).Add(-e.cfg.Lead)
		ev := ev
		ok := e.timers.Schedule(timers.Job{
			ID: ns + ev.ID,
			At: trigger,
			Run: func(ctx context.Context) {
				e.fire(ctx, ev)
			},
		})
		if ok {
			scheduled++
		}
	}

	e.log.Debug("namespace reconciled",
		logx.String("namespace", ns),
		logx.Int("cancelled", cancelled),
		logx.Int("scheduled", scheduled),
	)
	return scheduled, nil
}

// ReconcileAll rebuilds today's reminders for every known user. Called once
// on startup, since the pending set does not survive a restart.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	ids, err := e.store.AllUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("reconcile all: %w", err)
	}
	day := e.Today()
	total := 0
	for _, id := range ids {
		n, err := e.Reconcile(ctx, id, day)
		if err != nil {
			e.log.Warn("startup reconcile failed for user", logx.Int64("user", id), logx.Err(err))
			continue
		}
		total += n
	}
	e.log.Info("startup reconcile done", logx.Int("users", len(ids)), logx.Int("jobs", total))
	return nil
}

// fire runs when a reminder job triggers. The notification preference is
// read here, at fire time, so a toggle between scheduling and firing wins.
func (e *Engine) fire(ctx context.Context, ev model.Event) {
	enabled, err := e.store.NotificationsEnabled(ctx, ev.OwnerID)
	if err != nil {
		e.log.Warn("preference check failed, skipping reminder",
			logx.Int64("user", ev.OwnerID), logx.String("event", ev.ID), logx.Err(err))
		return
	}
	if !enabled {
		e.log.Debug("notifications disabled, reminder suppressed",
			logx.Int64("user", ev.OwnerID), logx.String("event", ev.ID))
		return
	}

	text := renderReminder(ev, int(e.cfg.Lead.Minutes()))
	err = e.sink.Notify(notify.Notification{
		Target:  kit.ChatTarget{ChatID: ev.OwnerID},
		Text:    text,
		Options: &kit.SendOptions{ParseMode: "HTML"},
	})
	if err != nil {
		e.log.Warn("reminder enqueue failed",
			logx.Int64("user", ev.OwnerID), logx.String("event", ev.ID), logx.Err(err))
	}
}
