// Package telegram adapts the transport API onto a telebot long-poll bot.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "routinebot/internal/transport"
	"routinebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	out atomic.Value // chan<- kit.Update

	runMu   sync.Mutex
	running bool
	done    chan struct{}

	// droppedUpdates counts updates the consumer was too slow for; reported
	// in one line on Stop instead of per update.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.forward(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				Text:         m.Text,
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		a.forward(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				FromID:    cb.Sender.ID,
				ChatID:    m.Chat.ID,
				MessageID: m.ID,
				// telebot prefixes callback data with "\f".
				Data: strings.TrimPrefix(cb.Data, "\f"),
			},
		})
		return nil
	})
}

func (a *Adapter) forward(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.done = make(chan struct{})
	done := a.done
	a.out.Store(out)
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		defer close(done)
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	done := a.done
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n))
	}
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-done:
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
	case <-ctx.Done():
	}
	return nil
}

// keyboard converts the portable inline keyboard into telebot markup.
func keyboard(kb kit.Keyboard) *tele.ReplyMarkup {
	if len(kb) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	rows := make([][]tele.InlineButton, 0, len(kb))
	for _, row := range kb {
		out := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			out = append(out, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, out)
	}
	rm.InlineKeyboard = rows
	return rm
}

func sendOptions(opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if withMarkup {
		so.ReplyMarkup = keyboard(opt.Keyboard)
	}
	return so
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks Telegram will accept,
// preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, telegramTextLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			return first, ctx.Err()
		default:
		}
		// Markup goes on the first chunk only.
		msg, err := a.bot.Send(chat, chunk, sendOptions(opt, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document, caption string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	d := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(doc.Data)),
		FileName: doc.Name,
		MIME:     doc.MIME,
		Caption:  caption,
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, d)
	return err
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(m, text, sendOptions(opt, true))
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}
