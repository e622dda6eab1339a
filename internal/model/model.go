// Package model holds the domain types shared by storage and the reminder
// engine. Dates and times of day are civil values: they carry no timezone and
// are resolved against the engine's location only when trigger math needs an
// absolute instant.
package model

import (
	"fmt"
	"time"
)

// Day is a civil calendar date.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DayOf(t), nil
}

// String renders the ISO form used in storage.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Key renders the compact form used inside job ids.
func (d Day) Key() string {
	return fmt.Sprintf("%04d%02d%02d", d.Year, int(d.Month), d.Day)
}

func (d Day) IsZero() bool { return d == Day{} }

// At resolves a time of day on this date in loc.
func (d Day) At(c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

// Clock is a civil time of day (minute precision, like the source data).
type Clock struct {
	Hour   int
	Minute int
}

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) Before(o Clock) bool {
	if c.Hour != o.Hour {
		return c.Hour < o.Hour
	}
	return c.Minute < o.Minute
}

// Event is one timed entry of a user's daily routine.
// Invariant: Start < End on the same Date (enforced at insert).
type Event struct {
	ID      string
	OwnerID int64
	Date    Day
	Start   Clock
	End     Clock
	Tag     string
	Name    string
}

type User struct {
	ID                   int64
	Role                 string
	NotificationsEnabled bool
	OnboardingCompleted  bool
	CreatedAt            time.Time
	LastActive           time.Time
}

// CheckIn is one answer to a broadcast prompt.
type CheckIn struct {
	OwnerID int64
	At      time.Time
	Kind    string // "day" or "evening"
	Data    map[string]string
}

// Stats is the aggregate snapshot shown to admins.
type Stats struct {
	TotalUsers        int
	OnboardedPercent  float64
	Retention7Days    int
	TotalCheckIns     int
	AvgCheckInsPerDay float64
}
