package timers

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"routinebot/pkg/logx"
)

type Config struct {
	Workers   int
	QueueSize int
	// Now supplies the current time for all trigger comparisons.
	// Defaults to time.Now; tests inject a fixed clock.
	Now func() time.Time
}

// Job is one pending one-shot trigger.
type Job struct {
	ID  string
	At  time.Time
	Run func(ctx context.Context)
}

// JobInfo is the diagnostic view of a pending job.
type JobInfo struct {
	ID string
	At time.Time
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	now  func() time.Time
	jobs map[string]Job

	wake     chan struct{}
	queue    chan Job
	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:  log,
		cfg:  cfg,
		now:  now,
		jobs: map[string]Job{},
		wake: make(chan struct{}, 1),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.stopDone = make(chan struct{})

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := s.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	s.queue = make(chan Job, queueSize)

	stopCh := s.stopCh
	queue := s.queue
	s.mu.Unlock()

	s.wg.Add(1 + workers)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, stopCh)
	}()
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.wg.Done()
			s.worker(ctx, stopCh, queue, idx)
		}()
	}
	s.log.Info("timer service started", logx.Int("workers", workers))
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
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("timer service stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
}

// Schedule registers a job, replacing any pending job with the same id.
// A job whose trigger is not strictly in the future is rejected as a logged
// no-op; the reconciler treats that window as already passed.
func (s *Service) Schedule(j Job) bool {
	if j.ID == "" || j.Run == nil || j.At.IsZero() {
		s.log.Warn("invalid job ignored", logx.String("job", j.ID))
		return false
	}
	if !j.At.After(s.now()) {
		s.log.Debug("job trigger already passed; skipping", logx.String("job", j.ID), logx.Time("at", j.At))
		return false
	}

	s.mu.Lock()
	_, replaced := s.jobs[j.ID]
	s.jobs[j.ID] = j
	s.mu.Unlock()

	s.poke()
	s.log.Debug("job scheduled", logx.String("job", j.ID), logx.Time("at", j.At), logx.Bool("replaced", replaced))
	return true
}

// Cancel removes a pending job. Cancelling an absent or already fired job is
// a no-op, not an error.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	_, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if ok {
		s.poke()
		s.log.Debug("job cancelled", logx.String("job", id))
	}
	return ok
}

// CancelPrefix removes every pending job whose id starts with prefix and
// returns how many were removed.
func (s *Service) CancelPrefix(prefix string) int {
	if prefix == "" {
		return 0
	}
	s.mu.Lock()
	n := 0
	for id := range s.jobs {
		if strings.HasPrefix(id, prefix) {
			delete(s.jobs, id)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.poke()
		s.log.Debug("namespace cancelled", logx.String("prefix", prefix), logx.Int("jobs", n))
	}
	return n
}

// Pending returns a snapshot of pending jobs ordered by trigger time.
func (s *Service) Pending() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{ID: j.ID, At: j.At})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, k int) bool {
		if out[i].At.Equal(out[k].At) {
			return out[i].ID < out[k].ID
		}
		return out[i].At.Before(out[k].At)
	})
	return out
}

func (s *Service) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// loop sleeps until the earliest trigger, then moves due jobs to the dispatch
// queue. Mutations poke the wake channel so a newly scheduled earlier job
// shortens the current sleep.
func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}) {
	const idleWait = time.Minute

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		wait := idleWait
		if next, ok := s.nextTrigger(); ok {
			wait = next.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.wake:
		case <-timer.C:
		}
		s.fireDue(stopCh)
	}
}

func (s *Service) nextTrigger() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		next time.Time
		ok   bool
	)
	for _, j := range s.jobs {
		if !ok || j.At.Before(next) {
			next = j.At
			ok = true
		}
	}
	return next, ok
}

// fireDue pops every job whose trigger has passed. Jobs leave the pending set
// here, before dispatch, so Cancel can no longer reach them.
func (s *Service) fireDue(stopCh <-chan struct{}) {
	now := s.now()

	s.mu.Lock()
	var due []Job
	for id, j := range s.jobs {
		if !j.At.After(now) {
			due = append(due, j)
			delete(s.jobs, id)
		}
	}
	queue := s.queue
	s.mu.Unlock()

	if len(due) == 0 || queue == nil {
		return
	}
	sort.Slice(due, func(i, k int) bool { return due[i].At.Before(due[k].At) })

	for _, j := range due {
		select {
		case queue <- j:
			s.log.Debug("job fired", logx.String("job", j.ID), logx.Time("at", j.At))
		case <-stopCh:
			return
		}
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan Job, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.dispatch(ctx, j)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, j Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in job callback",
				logx.String("job", j.ID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	j.Run(ctx)
}
