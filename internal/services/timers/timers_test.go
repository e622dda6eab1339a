package timers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"routinebot/pkg/logx"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestScheduleRejectsPastTrigger(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	s := New(Config{Now: fixedClock(base)}, logx.Nop())

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "past", at: base.Add(-time.Minute), want: false},
		{name: "exactly now", at: base, want: false},
		{name: "future", at: base.Add(time.Minute), want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := s.Schedule(Job{ID: "job:" + tt.name, At: tt.at, Run: func(context.Context) {}})
			if got != tt.want {
				t.Fatalf("Schedule(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
	if n := len(s.Pending()); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
}

func TestScheduleReplacesSameID(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	s := New(Config{Now: fixedClock(base)}, logx.Nop())

	first := base.Add(10 * time.Minute)
	second := base.Add(20 * time.Minute)
	s.Schedule(Job{ID: "ns:a", At: first, Run: func(context.Context) {}})
	s.Schedule(Job{ID: "ns:a", At: second, Run: func(context.Context) {}})

	p := s.Pending()
	if len(p) != 1 {
		t.Fatalf("pending = %d, want 1", len(p))
	}
	if !p[0].At.Equal(second) {
		t.Fatalf("At = %v, want %v (last write wins)", p[0].At, second)
	}
}

func TestCancelAbsentIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if s.Cancel("missing") {
		t.Fatal("Cancel of absent job reported removal")
	}
}

func TestCancelPrefixOnlyTouchesNamespace(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	s := New(Config{Now: fixedClock(base)}, logx.Nop())

	at := base.Add(time.Hour)
	noop := func(context.Context) {}
	s.Schedule(Job{ID: "reminder:1:20260305:a", At: at, Run: noop})
	s.Schedule(Job{ID: "reminder:1:20260305:b", At: at.Add(time.Minute), Run: noop})
	s.Schedule(Job{ID: "reminder:2:20260305:a", At: at, Run: noop})
	s.Schedule(Job{ID: "reminder:1:20260306:a", At: at, Run: noop})

	if n := s.CancelPrefix("reminder:1:20260305:"); n != 2 {
		t.Fatalf("CancelPrefix removed %d, want 2", n)
	}
	for _, info := range s.Pending() {
		if info.ID == "reminder:1:20260305:a" || info.ID == "reminder:1:20260305:b" {
			t.Fatalf("job %s survived namespace cancel", info.ID)
		}
	}
	if n := len(s.Pending()); n != 2 {
		t.Fatalf("pending = %d, want 2 (other namespaces untouched)", n)
	}
}

func TestPendingSortedByTrigger(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	s := New(Config{Now: fixedClock(base)}, logx.Nop())

	noop := func(context.Context) {}
	s.Schedule(Job{ID: "c", At: base.Add(3 * time.Minute), Run: noop})
	s.Schedule(Job{ID: "a", At: base.Add(1 * time.Minute), Run: noop})
	s.Schedule(Job{ID: "b", At: base.Add(2 * time.Minute), Run: noop})

	p := s.Pending()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if p[i].ID != id {
			t.Fatalf("pending[%d] = %s, want %s", i, p[i].ID, id)
		}
	}
}

func TestFireInvokesCallbackOnceAndRemoves(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	var fired atomic.Int32
	done := make(chan struct{})
	s.Schedule(Job{ID: "once", At: time.Now().Add(50 * time.Millisecond), Run: func(context.Context) {
		if fired.Add(1) == 1 {
			close(done)
		}
	}})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	// Give a double fire a chance to show up.
	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Fatalf("callback ran %d times, want exactly 1", n)
	}
	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending = %d after fire, want 0", n)
	}
	if s.Cancel("once") {
		t.Fatal("cancel after fire should be a no-op")
	}
}

func TestCancelBeforeTriggerPreventsDispatch(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	var fired atomic.Int32
	s.Schedule(Job{ID: "doomed", At: time.Now().Add(150 * time.Millisecond), Run: func(context.Context) {
		fired.Add(1)
	}})
	if !s.Cancel("doomed") {
		t.Fatal("expected cancel to remove the pending job")
	}

	time.Sleep(400 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("cancelled job fired %d times", n)
	}
}

func TestEarlierJobShortensSleep(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 1}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	done := make(chan struct{})
	// A far-future job first, then an earlier one: the loop must wake for it.
	s.Schedule(Job{ID: "late", At: time.Now().Add(time.Hour), Run: func(context.Context) {}})
	s.Schedule(Job{ID: "early", At: time.Now().Add(80 * time.Millisecond), Run: func(context.Context) {
		close(done)
	}})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("earlier job did not fire while a later one was pending")
	}
}
