// Package ops serves the local operational endpoints: liveness, a status
// snapshot and the pprof handlers. Loopback only unless explicitly bound
// elsewhere.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"routinebot/internal/services/reminder"
	"routinebot/internal/services/timers"
	"routinebot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:6060"
}

// BroadcastView is the slice of the reminder engine the status page needs.
type BroadcastView interface {
	Broadcasts() []reminder.EntryInfo
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	timers     *timers.Service
	broadcasts BroadcastView
	started    time.Time

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, tm *timers.Service, bv BroadcastView, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, timers: tm, broadcasts: bv, log: log}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.srv != nil {
		return
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("ops listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}

	s.started = time.Now()
	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server stopped with error", logx.Err(err))
		}
	}()
	s.log.Info("ops server started", logx.String("addr", ln.Addr().String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if ln != nil {
		_ = ln.Close()
	}
	_ = srv.Shutdown(ctx)
	_ = srv.Close()
	s.log.Info("ops server stopped")
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)

	r.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/", hpprof.Index)
		r.Get("/cmdline", hpprof.Cmdline)
		r.Get("/profile", hpprof.Profile)
		r.Get("/symbol", hpprof.Symbol)
		r.Get("/trace", hpprof.Trace)
		r.Get("/{name}", func(w http.ResponseWriter, req *http.Request) {
			hpprof.Handler(chi.URLParam(req, "name")).ServeHTTP(w, req)
		})
	})
	return r
}

type statusPayload struct {
	UptimeSeconds int64             `json:"uptime_seconds"`
	PendingJobs   int               `json:"pending_jobs"`
	NextTrigger   *time.Time        `json:"next_trigger,omitempty"`
	Broadcasts    []broadcastStatus `json:"broadcasts,omitempty"`
}

type broadcastStatus struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	out := statusPayload{UptimeSeconds: int64(time.Since(started).Seconds())}
	if s.timers != nil {
		pending := s.timers.Pending()
		out.PendingJobs = len(pending)
		if len(pending) > 0 {
			out.NextTrigger = &pending[0].At
		}
	}
	if s.broadcasts != nil {
		for _, en := range s.broadcasts.Broadcasts() {
			out.Broadcasts = append(out.Broadcasts, broadcastStatus{Name: en.Name, Next: en.Next})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Warn("status encode failed", logx.Err(err))
	}
}
