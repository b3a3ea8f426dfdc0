package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"claimrelay/internal/storage"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "BOT_TOKEN", "CHAT_ID", "DATA_FILE"} {
		t.Setenv(k, "")
	}
}

func TestConfigValidate(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yml := "http:\n  port: 8081\nstorage:\n  driver: file\n  path: " + filepath.Join(dir, "users.json") + "\n  save_every: \"10m\"\n"
	if err := os.WriteFile(cfgPath, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "--config", cfgPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	for _, want := range []string{"Listen port: 8081", "Configuration valid", "token set: false"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigValidateRejectsBadSchedule(t *testing.T) {
	clearEnv(t)
	for _, sched := range []string{"whenever", "foo bar"} {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "config.json")
		body := `{"storage":{"driver":"file","path":"x.json","save_every":"` + sched + `"}}`
		if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		out, err := runCLI(t, "-c", cfgPath, "config", "validate")
		if err == nil || !strings.Contains(err.Error(), "storage.save_every") {
			t.Fatalf("save_every %q: err = %v", sched, err)
		}
		if strings.Contains(out, "Configuration valid") {
			t.Fatalf("save_every %q reported valid:\n%s", sched, out)
		}
	}
}

func TestStats(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	data := filepath.Join(dir, "users_data.json")
	saved := `{
  "u1": {"username": "alice", "displayname": "Alice", "userid": "u1", "sessionId": "s1", "timestamp": "2025-03-01T12:00:00Z", "timerStarted": "2025-03-01T12:00:00Z", "completed": true},
  "u2": {"username": "bob", "displayname": "Bob", "userid": "u2", "sessionId": "s2", "timestamp": "2025-03-01T12:05:00Z", "timerStarted": "2025-03-01T12:05:00Z", "completed": false}
}`
	if err := os.WriteFile(data, []byte(saved), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATA_FILE", data)

	out, err := runCLI(t, "-c", filepath.Join(dir, "missing.json"), "stats", "--list")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "Total: 2  Completed: 1  Pending: 1") {
		t.Fatalf("output:\n%s", out)
	}
	for _, want := range []string{"u1\talice\tAlice\ttimer_done", "u2\tbob\tBob\tsubmitted"} {
		if !strings.Contains(out, want) {
			t.Fatalf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestStatsMissingData(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("DATA_FILE", filepath.Join(dir, "nope.json"))
	if _, err := runCLI(t, "-c", filepath.Join(dir, "missing.json"), "stats"); err == nil {
		t.Fatal("stats on a missing data file should fail")
	}
}

func TestStatsStorageDisabled(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"storage":{"driver":"none"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, "-c", cfgPath, "stats")
	if !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("err = %v, want storage.ErrDisabled", err)
	}
}
