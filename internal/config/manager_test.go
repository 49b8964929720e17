package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "123:abc", "admin_user_ids": [7, 9], "poll_timeout": "10s"},
		"logging": {"level": "debug", "console": true},
		"http": {"enabled": true, "addr": "127.0.0.1:4000"},
		"catalog": {"app_url": "https://t.me/example/app", "reminder_interval": "30s", "page_size": 3},
		"storage": {"driver": "file", "path": "./state"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AdminUserIDs) != 2 || cfg.Telegram.AdminUserIDs[1] != 9 {
		t.Fatalf("admins = %v", cfg.Telegram.AdminUserIDs)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:4000" {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if cfg.Catalog.PageSize != 3 || cfg.Catalog.ReminderInterval != "30s" {
		t.Fatalf("catalog = %+v", cfg.Catalog)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatalf("Get should return the committed config")
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  admin_user_ids: [7]
logging:
  level: info
catalog:
  app_url: https://t.me/example/app
  announce_rate_per_sec: 1.5
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Logging.Level != "info" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Catalog.AnnounceRatePerSec != 1.5 {
		t.Fatalf("rate = %v", cfg.Catalog.AnnounceRatePerSec)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x", "oops": true}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("unknown field must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram": {"token": "x"}}{"extra": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("trailing JSON must be rejected")
	}
}

func TestValidate(t *testing.T) {
	good := Config{}
	good.Telegram.Token = "123:abc"
	if err := good.Validate(); err != nil {
		t.Fatalf("minimal config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"bad poll timeout", func(c *Config) { c.Telegram.PollTimeout = "soon" }, "telegram.poll_timeout"},
		{"negative interval", func(c *Config) { c.Catalog.ReminderInterval = "-5s" }, "catalog.reminder_interval"},
		{"negative rate", func(c *Config) { c.Catalog.AnnounceRatePerSec = -1 }, "announce_rate_per_sec"},
		{"negative page size", func(c *Config) { c.Catalog.PageSize = -1 }, "page_size"},
		{"unknown driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }, "storage.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := good
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestIsAdmin(t *testing.T) {
	var cfg Config
	cfg.Telegram.AdminUserIDs = []int64{7, 9}
	if !cfg.IsAdmin(9) || cfg.IsAdmin(10) {
		t.Fatalf("IsAdmin mismatch")
	}
}

func TestDuration(t *testing.T) {
	if d, err := Duration("f", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("d=%v err=%v", d, err)
	}
	if d, err := Duration("f", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero: d=%v err=%v", d, err)
	}
	if _, err := Duration("f", "-1s"); err == nil {
		t.Fatalf("negative must error")
	}
	if _, err := Duration("f", "later"); err == nil {
		t.Fatalf("garbage must error")
	}

	if d, err := DurationOr("f", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: d=%v err=%v", d, err)
	}
	if d, err := DurationOr("f", "2m", time.Minute); err != nil || d != 2*time.Minute {
		t.Fatalf("explicit value lost: d=%v err=%v", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatalf("received wrong config")
		}
	default:
		t.Fatalf("subscriber did not receive the update")
	}

	// A full buffer keeps the newest update.
	stale, fresh := &Config{}, &Config{}
	m.publish(stale)
	m.publish(fresh)
	select {
	case got := <-ch:
		if got != fresh {
			t.Fatalf("expected the newest config after overflow")
		}
	default:
		t.Fatalf("no update after overflow")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("Unsubscribe should close the channel")
	}
	m.publish(&Config{}) // must not panic on the removed channel
}
