// Package router consumes transport updates and dispatches the bot's
// stateless commands and check-in callbacks.
package router

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"routinebot/internal/model"
	"routinebot/internal/services/reminder"
	"routinebot/internal/storage"
	kit "routinebot/internal/transport"
	"routinebot/pkg/logx"
)

const handleTimeout = 15 * time.Second

const greeting = "Привет! Я — Тегги. Помогу тебе построить день спокойнее, учитывая обстановку вокруг."

type Config struct {
	QueueSize int
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	store   storage.Store
	engine  *reminder.Engine
	adapter kit.Adapter

	updates  chan kit.Update
	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, store storage.Store, engine *reminder.Engine, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	return &Service{
		log:     log,
		cfg:     cfg,
		store:   store,
		engine:  engine,
		adapter: adapter,
	}
}

// Updates is the channel the adapter feeds. Valid after Start.
func (s *Service) Updates() chan<- kit.Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.updates = make(chan kit.Update, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	stopCh := s.stopCh
	updates := s.updates
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case up := <-updates:
				s.handle(ctx, up)
			}
		}
	}()
	s.log.Info("router started")
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	done := s.stopDone
	s.stopCh = nil
	s.mu.Unlock()

	close(stopCh)
	go func() {
		s.wg.Wait()
		s.mu.Lock()
		s.updates = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("router stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) handle(ctx context.Context, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in update handler", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			s.handleMessage(hctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			s.handleCallback(hctx, up.Callback)
		}
	}
}

func (s *Service) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	cmd := strings.ToLower(strings.Fields(text)[0])
	// Strip the @botname suffix used in groups.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	if err := s.store.TouchUser(ctx, m.FromID); err != nil {
		s.log.Warn("user touch failed", logx.Int64("user", m.FromID), logx.Err(err))
	}

	var err error
	switch cmd {
	case "/start":
		err = s.cmdStart(ctx, m)
	case "/overview":
		err = s.cmdOverview(ctx, m)
	case "/ics":
		err = s.cmdICS(ctx, m)
	case "/notifications":
		err = s.cmdNotifications(ctx, m)
	case "/stats":
		err = s.cmdStats(ctx, m)
	default:
		return
	}
	if err != nil {
		s.log.Warn("command failed", logx.String("command", cmd), logx.Int64("user", m.FromID), logx.Err(err))
	}
}

func (s *Service) reply(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) error {
	_, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt)
	return err
}

func (s *Service) cmdStart(ctx context.Context, m *kit.Message) error {
	if err := s.store.SetOnboarded(ctx, m.FromID); err != nil {
		s.log.Warn("onboarded flag failed", logx.Int64("user", m.FromID), logx.Err(err))
	}
	if _, err := s.engine.Reconcile(ctx, m.FromID, s.engine.Today()); err != nil {
		s.log.Warn("start reconcile failed", logx.Int64("user", m.FromID), logx.Err(err))
	}

	if err := s.reply(ctx, m.ChatID, greeting, nil); err != nil {
		return err
	}
	return s.sendOverview(ctx, m, s.engine.Today())
}

func (s *Service) cmdOverview(ctx context.Context, m *kit.Message) error {
	return s.sendOverview(ctx, m, s.engine.Today())
}

func (s *Service) sendOverview(ctx context.Context, m *kit.Message, day model.Day) error {
	events, err := s.store.EventsFor(ctx, m.FromID, day)
	if err != nil {
		return err
	}
	text, ok := reminder.Overview(events, reminder.DayLabel(day, s.engine.Today()))
	if !ok {
		return s.reply(ctx, m.ChatID, "Твоя рутина пуста.", nil)
	}
	return s.reply(ctx, m.ChatID, text, &kit.SendOptions{ParseMode: "HTML"})
}

func (s *Service) cmdICS(ctx context.Context, m *kit.Message) error {
	day := s.engine.Today()
	events, err := s.store.EventsFor(ctx, m.FromID, day)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return s.reply(ctx, m.ChatID, "Твоя рутина пуста, экспортировать нечего.", nil)
	}
	doc := kit.Document{
		Name: "routine-" + day.Key() + ".ics",
		MIME: "text/calendar",
		Data: reminder.BuildICS(events, s.engine.Location(), time.Now()),
	}
	return s.adapter.SendDocument(ctx, kit.ChatTarget{ChatID: m.ChatID}, doc, "Твоя рутина на "+day.String())
}

func (s *Service) cmdNotifications(ctx context.Context, m *kit.Message) error {
	enabled, err := s.store.ToggleNotifications(ctx, m.FromID)
	if err != nil {
		return err
	}
	text := "Напоминания выключены"
	if enabled {
		text = "Напоминания включены"
	}
	return s.reply(ctx, m.ChatID, text, nil)
}

func (s *Service) cmdStats(ctx context.Context, m *kit.Message) error {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return err
	}
	text := renderStats(st)
	return s.reply(ctx, m.ChatID, text, &kit.SendOptions{ParseMode: "HTML"})
}

func (s *Service) handleCallback(ctx context.Context, cb *kit.Callback) {
	kind, slug, ok := parseCheckin(cb.Data)
	if !ok {
		return
	}

	err := s.store.SaveCheckIn(ctx, model.CheckIn{
		OwnerID: cb.FromID,
		At:      time.Now().UTC(),
		Kind:    kind,
		Data:    checkinData(kind, slug),
	})
	if err != nil {
		s.log.Warn("check-in save failed", logx.Int64("user", cb.FromID), logx.Err(err))
		_ = s.adapter.AnswerCallback(ctx, cb.ID, "Не получилось сохранить, попробуй ещё раз")
		return
	}

	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := s.adapter.EditText(ctx, ref, reminder.CheckinReply(kind, slug), nil); err != nil {
		s.log.Warn("check-in edit failed", logx.Int64("user", cb.FromID), logx.Err(err))
	}
	_ = s.adapter.AnswerCallback(ctx, cb.ID, "")
}

// parseCheckin splits "day_checkin:<slug>" / "evening_checkin:<slug>".
func parseCheckin(data string) (kind, slug string, ok bool) {
	prefix, slug, found := strings.Cut(data, ":")
	if !found || slug == "" {
		return "", "", false
	}
	switch prefix {
	case "day_checkin":
		return "day", slug, true
	case "evening_checkin":
		return "evening", slug, true
	}
	return "", "", false
}

func checkinData(kind, slug string) map[string]string {
	if kind == "day" {
		return map[string]string{"tag": slug}
	}
	return map[string]string{"feeling": slug}
}
