package notify

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "routinebot/internal/transport"
	"routinebot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls the async delivery pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int // 0 = single attempt (broadcasts rely on this default)
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Notification is one message for one recipient.
type Notification struct {
	Target  kit.ChatTarget
	Text    string
	Options *kit.SendOptions
}

// Service is the delivery boundary: callers enqueue, workers send.
// A failed send is logged and contained here; it never reaches the caller,
// so one blocked recipient cannot stall a reminder fire or a broadcast run.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	cfg     Config
	limiter *rate.Limiter

	accepting bool
	queue     chan Notification
	stopCh    chan struct{}
	stopDone  chan struct{}
	wg        sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:     log,
		adapter: adapter,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})
	workers := s.cfg.Workers
	queue := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notifier worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(ctx, stopCh, queue)
		}()
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Int("rps", s.cfg.RatePerSec))
}

// Stop blocks intake and waits for in-flight sends until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	stopCh := s.stopCh
	done := s.stopDone
	s.mu.Unlock()

	close(stopCh)
	go func() {
		s.wg.Wait()
		s.mu.Lock()
		s.queue = nil
		s.stopCh = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("notifier stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Notify enqueues one message. It returns an error only for pipeline problems
// (stopped, full); delivery failures stay inside the workers.
func (s *Service) Notify(n Notification) error {
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.mu.Unlock()

	select {
	case q <- n:
		return nil
	default:
		s.log.Warn("notification dropped (queue full)", logx.Int64("chat_id", n.Target.ChatID))
		return ErrQueueFull
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case n := <-queue:
			s.send(ctx, n)
		}
	}
}

func (s *Service) send(ctx context.Context, n Notification) {
	if s.adapter == nil || n.Text == "" {
		return
	}

	maxAttempts := 1 + s.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.adapter.SendText(callCtx, n.Target, n.Text, n.Options)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(s.cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}
	s.log.Warn("delivery failed", logx.Int64("chat_id", n.Target.ChatID), logx.Int("attempts", maxAttempts), logx.Err(lastErr))
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// Exponential backoff: base * 2^(attempt-1), jitter 0.7..1.3.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
