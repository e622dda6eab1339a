package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Reminder ReminderConfig `json:"reminder"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Timers   TimersConfig   `json:"timers,omitempty"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type TelegramConfig struct {
	// Token may be set directly or resolved from the environment via TokenEnv.
	// Prefer TokenEnv so the config file can be committed without secrets.
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// ResolveToken returns the bot token, preferring the direct value.
func (t TelegramConfig) ResolveToken() string {
	if tok := strings.TrimSpace(t.Token); tok != "" {
		return tok
	}
	env := strings.TrimSpace(t.TokenEnv)
	if env == "" {
		env = "ROUTINEBOT_TOKEN"
	}
	return strings.TrimSpace(os.Getenv(env))
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ReminderConfig controls the reminder engine.
//
// All trigger times are wall-clock "HH:MM" strings resolved in Timezone.
type ReminderConfig struct {
	Timezone string `json:"timezone,omitempty"` // IANA TZ, default "Europe/Moscow"
	// LeadTime is how long before an event's start its reminder fires.
	LeadTime  string `json:"lead_time,omitempty"` // default "15m"
	MorningAt string `json:"morning_at,omitempty"`
	MiddayAt  string `json:"midday_at,omitempty"`
	EveningAt string `json:"evening_at,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
// All durations are Go duration strings.
type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type TimersConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:6060"
}

// Validate performs typed checks on everything that would otherwise fail late.
// Admin-edited values are parsed against this schema, never evaluated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Telegram.ResolveToken() == "" {
		return errors.New("telegram: token missing (set telegram.token or the token_env variable)")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	tz := strings.TrimSpace(c.Reminder.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminder.timezone: unknown timezone %q", tz)
		}
	}
	if _, err := ParseDurationField("reminder.lead_time", c.Reminder.LeadTime); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"reminder.morning_at", c.Reminder.MorningAt},
		{"reminder.midday_at", c.Reminder.MiddayAt},
		{"reminder.evening_at", c.Reminder.EveningAt},
	} {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		if _, _, err := ParseClockField(f.path, f.raw); err != nil {
			return err
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
