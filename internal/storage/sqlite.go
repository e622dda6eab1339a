package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"routinebot/internal/model"
	"routinebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the sqlite database and runs migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("path", cfg.Path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// newEventID builds a compact unique id. Event ids travel inside Telegram
// callback data (64-byte budget), so no uuid here.
func newEventID(owner int64) string {
	return fmt.Sprintf("evt_%d_%d_%03d", owner, time.Now().UnixMilli(), 100+rand.Intn(900))
}

func (s *sqliteStore) AddEvent(ctx context.Context, e model.Event) (string, error) {
	if !e.Start.Before(e.End) {
		return "", ErrEventTimes
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		name = "Не указано"
	}
	day := e.Date
	if day.IsZero() {
		day = model.DayOf(time.Now())
	}
	id := e.ID
	if id == "" {
		id = newEventID(e.OwnerID)
	}
	// events.user_id references users and foreign keys are on, so make sure
	// the owner row exists before the insert.
	if err := s.TouchUser(ctx, e.OwnerID); err != nil {
		return "", err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(event_id, user_id, event_date, start_time, end_time, tag, name)
		 VALUES(?,?,?,?,?,?,?)`,
		id, e.OwnerID, day.String(), e.Start.String(), e.End.String(), e.Tag, name,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// EventsFor returns the owner's events for one date, ordered by start time.
func (s *sqliteStore) EventsFor(ctx context.Context, owner int64, day model.Day) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, user_id, event_date, start_time, end_time, tag, name
		 FROM events WHERE user_id = ? AND event_date = ?
		 ORDER BY start_time, event_id`,
		owner, day.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e                model.Event
			date, start, end string
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &date, &start, &end, &e.Tag, &e.Name); err != nil {
			return nil, err
		}
		if e.Date, err = model.ParseDay(date); err != nil {
			return nil, err
		}
		if e.Start, err = model.ParseClock(start); err != nil {
			return nil, err
		}
		if e.End, err = model.ParseClock(end); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE event_id = ?`, eventID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ClearRoutine(ctx context.Context, owner int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE user_id = ?`, owner)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// TouchUser upserts the user row and refreshes last_active.
func (s *sqliteStore) TouchUser(ctx context.Context, owner int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, created_at, last_active) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET last_active=excluded.last_active`,
		owner, now, now,
	)
	return err
}

func (s *sqliteStore) AllUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// NotificationsEnabled reports the per-user reminder opt-in.
// Unknown users default to enabled, matching the row default.
func (s *sqliteStore) NotificationsEnabled(ctx context.Context, owner int64) (bool, error) {
	var v bool
	err := s.db.QueryRowContext(ctx,
		`SELECT notifications_enabled FROM users WHERE user_id = ?`, owner).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return v, nil
}

func (s *sqliteStore) ToggleNotifications(ctx context.Context, owner int64) (bool, error) {
	if err := s.TouchUser(ctx, owner); err != nil {
		return false, err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET notifications_enabled = NOT notifications_enabled WHERE user_id = ?`, owner)
	if err != nil {
		return false, err
	}
	return s.NotificationsEnabled(ctx, owner)
}

func (s *sqliteStore) SetOnboarded(ctx context.Context, owner int64) error {
	if err := s.TouchUser(ctx, owner); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET onboarding_completed = 1 WHERE user_id = ?`, owner)
	return err
}

func (s *sqliteStore) SaveCheckIn(ctx context.Context, c model.CheckIn) error {
	if err := s.TouchUser(ctx, c.OwnerID); err != nil {
		return err
	}
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	data, err := json.Marshal(c.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkins(user_id, at, kind, data) VALUES(?,?,?,?)`,
		c.OwnerID, at.UTC().Format(time.RFC3339Nano), c.Kind, string(data),
	)
	return err
}

func (s *sqliteStore) Stats(ctx context.Context) (model.Stats, error) {
	var st model.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.TotalUsers); err != nil {
		return st, err
	}
	if st.TotalUsers == 0 {
		return st, nil
	}

	var onboarded int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE onboarding_completed = 1`).Scan(&onboarded); err != nil {
		return st, err
	}
	st.OnboardedPercent = float64(onboarded) / float64(st.TotalUsers) * 100

	// Timestamps are stored as RFC3339 in UTC, so lexicographic comparison works.
	cutoff := time.Now().UTC().AddDate(0, 0, -7).Format(time.RFC3339Nano)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE last_active > ?`, cutoff).Scan(&st.Retention7Days); err != nil {
		return st, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkins`).Scan(&st.TotalCheckIns); err != nil {
		return st, err
	}

	var first string
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM users`).Scan(&first); err != nil {
		return st, err
	}
	if t, err := time.Parse(time.RFC3339Nano, first); err == nil {
		if days := int(time.Since(t).Hours() / 24); days > 0 {
			st.AvgCheckInsPerDay = float64(st.TotalCheckIns) / float64(days)
		}
	}
	return st, nil
}
