package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalJSON = `{
  "telegram": {"token": "123:abc"},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"path": "/tmp/bot.db"},
  "reminder": {"timezone": "Europe/Moscow", "lead_time": "15m", "morning_at": "07:30"}
}`

func TestLoadMinimalJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.ResolveToken() != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.ResolveToken())
	}
	if cfg.Reminder.Timezone != "Europe/Moscow" {
		t.Fatalf("timezone = %q", cfg.Reminder.Timezone)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	body := strings.Join([]string{
		"telegram:",
		"  token: \"123:abc\"",
		"logging:",
		"  level: debug",
		"  console: true",
		"  file:",
		"    enabled: false",
		"    path: \"\"",
		"storage:",
		"  path: /tmp/bot.db",
		"reminder:",
		"  lead_time: 20m",
	}, "\n")
	m := NewManager(writeConfig(t, "config.yaml", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || cfg.Reminder.LeadTime != "20m" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestReloadPublishesToSubscribers(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", minimalJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	updated := strings.Replace(minimalJSON, `"level": "info"`, `"level": "debug"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
		}
	default:
		t.Fatal("reload did not publish the new config")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload did not commit the new config")
	}

	// Same content again: committed hash matches, no duplicate publish.
	m.reload()
	select {
	case <-sub:
		t.Fatal("unchanged config must not be republished")
	default:
	}
}

func TestParseRejectsBadConfigs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{
			name: "unknown field",
			body: `{"telegram": {"token": "t"}, "storage": {"path": "x"}, "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}}, "reminder": {}, "frobnicate": 1}`,
		},
		{
			name: "trailing data",
			body: minimalJSON + `{"extra": true}`,
		},
		{
			name: "missing token",
			body: `{"telegram": {"token_env": "ROUTINEBOT_TEST_MISSING_TOKEN"}, "storage": {"path": "x"}, "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}}, "reminder": {}}`,
		},
		{
			name: "missing storage path",
			body: `{"telegram": {"token": "t"}, "storage": {"path": ""}, "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}}, "reminder": {}}`,
		},
		{
			name: "bad lead duration",
			body: `{"telegram": {"token": "t"}, "storage": {"path": "x"}, "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}}, "reminder": {"lead_time": "fifteen"}}`,
		},
		{
			name: "bad clock",
			body: `{"telegram": {"token": "t"}, "storage": {"path": "x"}, "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}}, "reminder": {"morning_at": "25:99"}}`,
		},
		{
			name: "bad timezone",
			body: `{"telegram": {"token": "t"}, "storage": {"path": "x"}, "logging": {"level":"info","console":true,"file":{"enabled":false,"path":""}}, "reminder": {"timezone": "Mars/Olympus"}}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, "config.json", tt.body))
			if _, err := m.Parse(); err == nil {
				t.Fatal("expected a parse error")
			}
		})
	}
}

func TestResolveTokenFromEnv(t *testing.T) {
	t.Setenv("ROUTINEBOT_TEST_TOKEN", "  999:zzz  ")
	tc := TelegramConfig{TokenEnv: "ROUTINEBOT_TEST_TOKEN"}
	if got := tc.ResolveToken(); got != "999:zzz" {
		t.Fatalf("ResolveToken() = %q", got)
	}
	// Direct value wins over the environment.
	tc.Token = "direct"
	if got := tc.ResolveToken(); got != "direct" {
		t.Fatalf("ResolveToken() = %q, want direct", got)
	}
}

func TestParseClockField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		hour    int
		minute  int
		wantErr bool
	}{
		{raw: "07:30", hour: 7, minute: 30},
		{raw: "00:00", hour: 0, minute: 0},
		{raw: "23:59", hour: 23, minute: 59},
		{raw: "7:3", hour: 7, minute: 3},
		{raw: "24:00", wantErr: true},
		{raw: "noon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			h, m, err := ParseClockField("reminder.morning_at", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseClockField(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if h != tt.hour || m != tt.minute {
				t.Fatalf("ParseClockField(%q) = %d:%d", tt.raw, h, m)
			}
		})
	}
}
