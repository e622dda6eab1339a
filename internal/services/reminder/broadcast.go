package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"routinebot/internal/model"
	"routinebot/internal/services/notify"
	kit "routinebot/internal/transport"
	"routinebot/pkg/logx"
)

// Start registers the three daily broadcasts and starts the cron runner.
// One-shot reminder jobs live in the timers service; cron only carries the
// recurring wall-clock triggers.
func (e *Engine) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(e.cfg.Location))

	entries := []struct {
		name string
		at   model.Clock
		run  func(context.Context)
	}{
		{"morning overview", e.cfg.Morning, e.broadcastOverview},
		{"midday check-in", e.cfg.Midday, func(ctx context.Context) {
			e.broadcastPrompt(ctx, "midday check-in", middayPrompt, DayCheckinKeyboard())
		}},
		{"evening check-in", e.cfg.Evening, func(ctx context.Context) {
			e.broadcastPrompt(ctx, "evening check-in", eveningPrompt, EveningCheckinKeyboard())
		}},
	}
	var registered []cronEntry
	for _, en := range entries {
		spec := fmt.Sprintf("%d %d * * *", en.at.Minute, en.at.Hour)
		run := en.run
		id, err := c.AddFunc(spec, func() { run(ctx) })
		if err != nil {
			return fmt.Errorf("register %s: %w", en.name, err)
		}
		registered = append(registered, cronEntry{name: en.name, id: id})
		e.log.Info("broadcast registered", logx.String("name", en.name), logx.String("at", en.at.String()))
	}

	e.cronMu.Lock()
	e.cron = c
	e.cronEntries = registered
	e.cronMu.Unlock()
	c.Start()
	return nil
}

// Stop halts the cron runner and waits for a running broadcast to finish.
func (e *Engine) Stop(ctx context.Context) {
	e.cronMu.Lock()
	c := e.cron
	e.cron = nil
	e.cronEntries = nil
	e.cronMu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// EntryInfo is the diagnostic view of one registered broadcast.
type EntryInfo struct {
	Name string
	Next time.Time
}

// Broadcasts snapshots the registered broadcasts and their next run times.
// Empty before Start and after Stop.
func (e *Engine) Broadcasts() []EntryInfo {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()
	if e.cron == nil {
		return nil
	}
	out := make([]EntryInfo, 0, len(e.cronEntries))
	for _, en := range e.cronEntries {
		out = append(out, EntryInfo{Name: en.name, Next: e.cron.Entry(en.id).Next})
	}
	return out
}

// broadcastOverview sends each user their routine for today. Users with an
// empty routine are skipped; the notifications flag is not consulted here,
// it only gates reminder job dispatch.
func (e *Engine) broadcastOverview(ctx context.Context) {
	run := uuid.NewString()
	log := e.log.With(logx.String("run", run), logx.String("broadcast", "morning overview"))

	ids, err := e.store.AllUserIDs(ctx)
	if err != nil {
		log.Warn("user list unavailable, broadcast skipped", logx.Err(err))
		return
	}

	day := e.Today()
	sent := 0
	for _, id := range ids {
		events, err := e.store.EventsFor(ctx, id, day)
		if err != nil {
			log.Warn("events unavailable for user", logx.Int64("user", id), logx.Err(err))
			continue
		}
		text, ok := Overview(events, "сегодня")
		if !ok {
			continue
		}
		if e.enqueue(log, id, text, nil) {
			sent++
		}
	}
	log.Info("broadcast done", logx.Int("users", len(ids)), logx.Int("sent", sent))
}

// broadcastPrompt fans one prompt out to every known user, regardless of
// their notifications flag. Delivery is best effort: a failed recipient is
// logged and the run moves on.
func (e *Engine) broadcastPrompt(ctx context.Context, name, text string, kb kit.Keyboard) {
	run := uuid.NewString()
	log := e.log.With(logx.String("run", run), logx.String("broadcast", name))

	ids, err := e.store.AllUserIDs(ctx)
	if err != nil {
		log.Warn("user list unavailable, broadcast skipped", logx.Err(err))
		return
	}

	sent := 0
	for _, id := range ids {
		if e.enqueue(log, id, text, kb) {
			sent++
		}
	}
	log.Info("broadcast done", logx.Int("users", len(ids)), logx.Int("sent", sent))
}

func (e *Engine) enqueue(log logx.Logger, id int64, text string, kb kit.Keyboard) bool {
	err := e.sink.Notify(notify.Notification{
		Target:  kit.ChatTarget{ChatID: id},
		Text:    text,
		Options: &kit.SendOptions{ParseMode: "HTML", Keyboard: kb},
	})
	if err != nil {
		log.Warn("enqueue failed", logx.Int64("user", id), logx.Err(err))
		return false
	}
	return true
}
