package storage

import (
	"context"
	"errors"
	"time"

	"routinebot/internal/model"
)

// ErrEventTimes is returned when an event's end does not come after its start.
var ErrEventTimes = errors.New("event end must be after start")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Store is the persistence API consumed by the reminder engine and the router.
// Event data here is the sole source of truth: reminder jobs are always
// rebuilt from it and never persisted themselves.
type Store interface {
	AddEvent(ctx context.Context, e model.Event) (string, error)
	EventsFor(ctx context.Context, owner int64, day model.Day) ([]model.Event, error)
	DeleteEvent(ctx context.Context, eventID string) (bool, error)
	ClearRoutine(ctx context.Context, owner int64) (int, error)

	TouchUser(ctx context.Context, owner int64) error
	AllUserIDs(ctx context.Context) ([]int64, error)
	NotificationsEnabled(ctx context.Context, owner int64) (bool, error)
	ToggleNotifications(ctx context.Context, owner int64) (bool, error)
	SetOnboarded(ctx context.Context, owner int64) error

	SaveCheckIn(ctx context.Context, c model.CheckIn) error
	Stats(ctx context.Context) (model.Stats, error)

	Close() error
}
