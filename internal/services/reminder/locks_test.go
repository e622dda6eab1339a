package reminder

import (
	"sync"
	"testing"

	"routinebot/internal/model"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	t.Parallel()
	km := newKeyedMutex()

	const workers = 8
	const rounds = 50
	var inside int
	var max int
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				unlock := km.lock("same-key")
				mu.Lock()
				inside++
				if inside > max {
					max = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				unlock()
			}
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Fatalf("observed %d holders of the same key at once, want 1", max)
	}
	km.mu.Lock()
	held := len(km.held)
	km.mu.Unlock()
	if held != 0 {
		t.Fatalf("%d lock entries leaked after release", held)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()
	km := newKeyedMutex()

	unlockA := km.lock("a")
	// Must not block while "a" is held.
	unlockB := km.lock("b")
	unlockB()
	unlockA()
}

func TestDayLabel(t *testing.T) {
	t.Parallel()
	today := model.Day{Year: 2026, Month: 3, Day: 5}
	if got := DayLabel(today, today); got != "сегодня" {
		t.Fatalf("DayLabel(today) = %q", got)
	}
	other := model.Day{Year: 2026, Month: 12, Day: 31}
	if got := DayLabel(other, today); got != "31.12.2026" {
		t.Fatalf("DayLabel(other) = %q", got)
	}
}
