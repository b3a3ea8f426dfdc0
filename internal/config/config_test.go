package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "missing.json"))
	m.getenv = envMap(nil)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.HTTP.Port != 3000 {
		t.Fatalf("port = %d, want 3000", cfg.HTTP.Port)
	}
	if cfg.Storage.Path != "./users_data.json" || cfg.Storage.SaveEvery != "5m" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Notify.ParseMode != "HTML" {
		t.Fatalf("parse mode = %q, want HTML", cfg.Notify.ParseMode)
	}
}

func TestParseEnvOverridesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.json")
	body := `{"telegram":{"token":"file-token","chat_id":"1"},"http":{"port":8080}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.getenv = envMap(map[string]string{EnvPort: "9090", EnvChatID: "42", EnvDataFile: "/tmp/u.json"})

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Telegram.Token != "file-token" || cfg.Telegram.ChatID != "42" {
		t.Fatalf("unexpected telegram config: %+v", cfg.Telegram)
	}
	if cfg.Storage.Path != "/tmp/u.json" {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
	// untouched sections keep defaults
	if cfg.HTTP.StaticDir != "./public" {
		t.Fatalf("static dir = %q, want default", cfg.HTTP.StaticDir)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := "storage:\n  driver: file\n  path: ./data/users.json\n  save_every: \"*/10 * * * *\"\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.getenv = envMap(nil)

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Storage.Path != "./data/users.json" || cfg.Storage.SaveEvery != "*/10 * * * *" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestParseRejectsUnknownFieldsAndBadPort(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.json")
	if err := os.WriteFile(unknown, []byte(`{"telegram":{"tokne":"x"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(unknown)
	m.getenv = envMap(nil)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}

	m = NewConfigManager(filepath.Join(dir, "none.json"))
	m.getenv = envMap(map[string]string{EnvPort: "http"})
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for invalid PORT")
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.getenv = envMap(nil)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx := context.Background()
	if err := m.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sub:
		t.Fatal("unchanged config must not be published")
	default:
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a published config")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Telegram.Token = "secret"

	sections, _ := SummarizeConfigChange(a, b)
	if len(sections) != 2 || sections[0] != "telegram" || sections[1] != "logging" {
		t.Fatalf("sections = %v", sections)
	}
	if !RestartRequired(sections) {
		t.Fatal("telegram change should require restart")
	}
	if RestartRequired([]string{"logging"}) {
		t.Fatal("logging is applied live")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
