package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"routinebot/internal/model"
	"routinebot/internal/services/notify"
	"routinebot/internal/services/timers"
	"routinebot/pkg/logx"
)

// fakeStore is an in-memory Store covering what the engine touches.
type fakeStore struct {
	mu       sync.Mutex
	events   map[int64][]model.Event
	disabled map[int64]bool
	users    []int64
	failFor  map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:   map[int64][]model.Event{},
		disabled: map[int64]bool{},
		failFor:  map[int64]error{},
	}
}

func (f *fakeStore) AddEvent(_ context.Context, e model.Event) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[e.OwnerID] = append(f.events[e.OwnerID], e)
	return e.ID, nil
}

func (f *fakeStore) EventsFor(_ context.Context, owner int64, day model.Day) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[owner]; err != nil {
		return nil, err
	}
	var out []model.Event
	for _, e := range f.events[owner] {
		if e.Date == day {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteEvent(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for owner, evs := range f.events {
		for i, e := range evs {
			if e.ID == eventID {
				f.events[owner] = append(evs[:i:i], evs[i+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeStore) ClearRoutine(_ context.Context, owner int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.events[owner])
	delete(f.events, owner)
	return n, nil
}

func (f *fakeStore) TouchUser(context.Context, int64) error { return nil }

func (f *fakeStore) AllUserIDs(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.users...), nil
}

func (f *fakeStore) NotificationsEnabled(_ context.Context, owner int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.disabled[owner], nil
}

func (f *fakeStore) ToggleNotifications(_ context.Context, owner int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled[owner] = !f.disabled[owner]
	return !f.disabled[owner], nil
}

func (f *fakeStore) SetOnboarded(context.Context, int64) error      { return nil }
func (f *fakeStore) SaveCheckIn(context.Context, model.CheckIn) error { return nil }
func (f *fakeStore) Stats(context.Context) (model.Stats, error)     { return model.Stats{}, nil }
func (f *fakeStore) Close() error                                   { return nil }

// recorder captures everything the engine tries to deliver.
type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Notify(n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) last() notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

func (r *recorder) targets() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Target.ChatID)
	}
	return out
}

func testEngine(t *testing.T, now time.Time, store *fakeStore, sink Sink) (*Engine, *timers.Service) {
	t.Helper()
	clock := func() time.Time { return now }
	tm := timers.New(timers.Config{Now: clock}, logx.Nop())
	eng := NewEngine(Config{
		Location: time.UTC,
		Lead:     15 * time.Minute,
		Now:      clock,
	}, store, tm, sink, logx.Nop())
	return eng, tm
}

func mustDay(t *testing.T, s string) model.Day {
	t.Helper()
	d, err := model.ParseDay(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestReconcileSchedulesLeadBeforeStart(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)
	day := mustDay(t, "2026-03-05")

	store := newFakeStore()
	store.events[10] = []model.Event{{
		ID: "evt_10_1", OwnerID: 10, Date: day,
		Start: model.Clock{Hour: 9, Minute: 0},
		End:   model.Clock{Hour: 10, Minute: 0},
		Name:  "Зарядка",
	}}

	eng, tm := testEngine(t, now, store, &recorder{})
	n, err := eng.Reconcile(context.Background(), 10, day)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("scheduled %d jobs, want 1", n)
	}

	p := tm.Pending()
	want := time.Date(2026, 3, 5, 8, 45, 0, 0, time.UTC)
	if !p[0].At.Equal(want) {
		t.Fatalf("trigger = %v, want %v (start minus lead)", p[0].At, want)
	}
	if p[0].ID != "reminder:10:20260305:evt_10_1" {
		t.Fatalf("job id = %q", p[0].ID)
	}
}

func TestReconcileSkipsPassedWindows(t *testing.T) {
	t.Parallel()
	// 09:50 now, event at 10:00: the 09:45 reminder window is gone.
	now := time.Date(2026, 3, 5, 9, 50, 0, 0, time.UTC)
	day := mustDay(t, "2026-03-05")

	store := newFakeStore()
	store.events[10] = []model.Event{{
		ID: "evt_10_1", OwnerID: 10, Date: day,
		Start: model.Clock{Hour: 10, Minute: 0},
		End:   model.Clock{Hour: 11, Minute: 0},
		Name:  "Созвон",
	}}

	eng, tm := testEngine(t, now, store, &recorder{})
	n, err := eng.Reconcile(context.Background(), 10, day)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("scheduled %d jobs, want 0", n)
	}
	if len(tm.Pending()) != 0 {
		t.Fatal("pending set should be empty")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)
	day := mustDay(t, "2026-03-05")

	store := newFakeStore()
	store.events[10] = []model.Event{
		{ID: "a", OwnerID: 10, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "A"},
		{ID: "b", OwnerID: 10, Date: day, Start: model.Clock{Hour: 11}, End: model.Clock{Hour: 12}, Name: "B"},
	}

	eng, tm := testEngine(t, now, store, &recorder{})
	for i := 0; i < 3; i++ {
		if _, err := eng.Reconcile(context.Background(), 10, day); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(tm.Pending()); n != 2 {
		t.Fatalf("pending = %d after repeated reconcile, want 2", n)
	}
}

func TestReconcileAfterDeleteDropsOnlyThatJob(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)
	day := mustDay(t, "2026-03-05")

	store := newFakeStore()
	store.events[10] = []model.Event{
		{ID: "a", OwnerID: 10, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "A"},
		{ID: "b", OwnerID: 10, Date: day, Start: model.Clock{Hour: 11}, End: model.Clock{Hour: 12}, Name: "B"},
	}

	eng, tm := testEngine(t, now, store, &recorder{})
	if _, err := eng.Reconcile(context.Background(), 10, day); err != nil {
		t.Fatal(err)
	}
	if _, err := store.DeleteEvent(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Reconcile(context.Background(), 10, day); err != nil {
		t.Fatal(err)
	}

	p := tm.Pending()
	if len(p) != 1 {
		t.Fatalf("pending = %d, want 1", len(p))
	}
	if p[0].ID != "reminder:10:20260305:b" {
		t.Fatalf("surviving job = %q, want the one for event b", p[0].ID)
	}
}

func TestReconcileTouchesOnlyItsNamespace(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)
	day := mustDay(t, "2026-03-05")

	store := newFakeStore()
	store.events[10] = []model.Event{
		{ID: "a", OwnerID: 10, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "A"},
	}
	store.events[11] = []model.Event{
		{ID: "x", OwnerID: 11, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "X"},
	}

	eng, tm := testEngine(t, now, store, &recorder{})
	if _, err := eng.Reconcile(context.Background(), 10, day); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Reconcile(context.Background(), 11, day); err != nil {
		t.Fatal(err)
	}

	// Rebuilding owner 10 must leave owner 11's job alone.
	if _, err := eng.Reconcile(context.Background(), 10, day); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, info := range tm.Pending() {
		if info.ID == "reminder:11:20260305:x" {
			found = true
		}
	}
	if !found {
		t.Fatal("other owner's job was cancelled by a foreign reconcile")
	}
}

func TestReconcileStorageErrorLeavesNamespaceEmpty(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 5, 6, 0, 0, 0, time.UTC)
	day := mustDay(t, "2026-03-05")

	store := newFakeStore()
	store.events[10] = []model.Event{
		{ID: "a", OwnerID: 10, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "A"},
	}

	eng, tm := testEngine(t, now, store, &recorder{})
	if _, err := eng.Reconcile(context.Background(), 10, day); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	store.failFor[10] = errors.New("disk on fire")
	store.mu.Unlock()

	if _, err := eng.Reconcile(context.Background(), 10, day); err == nil {
		t.Fatal("expected the storage error to propagate")
	}
	// Stale jobs from the previous generation must not survive a failed rebuild.
	if n := len(tm.Pending()); n != 0 {
		t.Fatalf("pending = %d after failed reconcile, want 0", n)
	}
}

func TestFireDeliversReminderText(t *testing.T) {
	t.Parallel()
	day := mustDay(t, "2026-03-05")
	store := newFakeStore()
	rec := &recorder{}
	eng, _ := testEngine(t, time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC), store, rec)

	eng.fire(context.Background(), model.Event{
		ID: "a", OwnerID: 10, Date: day,
		Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10},
		Tag: "sport", Name: "Зарядка",
	})

	if rec.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", rec.count())
	}
	n := rec.last()
	if n.Target.ChatID != 10 {
		t.Fatalf("chat = %d, want 10", n.Target.ChatID)
	}
	for _, frag := range []string{"Через 15 минут", "<b>Зарядка</b>", "Спорт"} {
		if !strings.Contains(n.Text, frag) {
			t.Fatalf("reminder text missing %q:\n%s", frag, n.Text)
		}
	}
	if n.Options == nil || n.Options.ParseMode != "HTML" {
		t.Fatal("reminder must be sent as HTML")
	}
}

func TestFireSuppressedWhenNotificationsDisabled(t *testing.T) {
	t.Parallel()
	day := mustDay(t, "2026-03-05")
	store := newFakeStore()
	store.disabled[10] = true
	rec := &recorder{}
	eng, _ := testEngine(t, time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC), store, rec)

	eng.fire(context.Background(), model.Event{
		ID: "a", OwnerID: 10, Date: day,
		Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "Зарядка",
	})

	if rec.count() != 0 {
		t.Fatalf("deliveries = %d for a muted user, want 0", rec.count())
	}
}

func TestBroadcastOverviewSkipsOnlyEmptyRoutines(t *testing.T) {
	t.Parallel()
	day := mustDay(t, "2026-03-05")
	now := time.Date(2026, 3, 5, 7, 30, 0, 0, time.UTC)

	store := newFakeStore()
	store.users = []int64{10, 11, 12}
	store.events[10] = []model.Event{
		{ID: "a", OwnerID: 10, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "A"},
	}
	store.events[11] = []model.Event{
		{ID: "b", OwnerID: 11, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "B"},
	}
	// The notifications flag only gates reminder dispatch; user 11 still
	// gets the overview.
	store.disabled[11] = true
	// user 12 has no events

	rec := &recorder{}
	eng, _ := testEngine(t, now, store, rec)
	eng.broadcastOverview(context.Background())

	got := rec.targets()
	if len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Fatalf("overview went to %v, want [10 11]", got)
	}
}

func TestBroadcastPromptReachesMutedUsers(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.users = []int64{10, 11}
	store.disabled[10] = true
	store.disabled[11] = true

	rec := &recorder{}
	eng, _ := testEngine(t, time.Date(2026, 3, 5, 13, 0, 0, 0, time.UTC), store, rec)
	eng.broadcastPrompt(context.Background(), "midday check-in", middayPrompt, DayCheckinKeyboard())

	got := rec.targets()
	if len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Fatalf("prompt went to %v, want [10 11]", got)
	}
}

func TestBroadcastPromptCarriesKeyboard(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.users = []int64{10}
	rec := &recorder{}
	eng, _ := testEngine(t, time.Date(2026, 3, 5, 13, 0, 0, 0, time.UTC), store, rec)

	eng.broadcastPrompt(context.Background(), "midday check-in", middayPrompt, DayCheckinKeyboard())

	if rec.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", rec.count())
	}
	n := rec.last()
	if n.Text != middayPrompt {
		t.Fatalf("text = %q", n.Text)
	}
	if n.Options == nil || len(n.Options.Keyboard) == 0 {
		t.Fatal("midday prompt must carry the check-in keyboard")
	}
	if n.Options.Keyboard[0][0].Data != "day_checkin:noisy" {
		t.Fatalf("first button data = %q", n.Options.Keyboard[0][0].Data)
	}
}

func TestOverviewSortedAndEmptySentinel(t *testing.T) {
	t.Parallel()
	if _, ok := Overview(nil, "сегодня"); ok {
		t.Fatal("empty routine must report nothing to show")
	}

	day := mustDay(t, "2026-03-05")
	events := []model.Event{
		{ID: "b", OwnerID: 10, Date: day, Start: model.Clock{Hour: 14}, End: model.Clock{Hour: 15}, Name: "Поздно"},
		{ID: "a", OwnerID: 10, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "Рано"},
	}
	text, ok := Overview(events, "сегодня")
	if !ok {
		t.Fatal("expected an overview")
	}
	early := strings.Index(text, "Рано")
	late := strings.Index(text, "Поздно")
	if early < 0 || late < 0 || early > late {
		t.Fatalf("overview not sorted by start time:\n%s", text)
	}
	// Input order must be untouched.
	if events[0].ID != "b" {
		t.Fatal("Overview mutated its input slice")
	}
}

func TestBuildICSContainsEvents(t *testing.T) {
	t.Parallel()
	day := mustDay(t, "2026-03-05")
	now := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	data := BuildICS([]model.Event{
		{ID: "evt_10_1", OwnerID: 10, Date: day, Start: model.Clock{Hour: 9}, End: model.Clock{Hour: 10}, Name: "Зарядка"},
	}, time.UTC, now)

	s := string(data)
	for _, frag := range []string{"BEGIN:VCALENDAR", "BEGIN:VEVENT", "SUMMARY:Зарядка", "evt_10_1@routinebot"} {
		if !strings.Contains(s, frag) {
			t.Fatalf("ics missing %q:\n%s", frag, s)
		}
	}
}
