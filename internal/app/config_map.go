package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"claimrelay/internal/httpapi"
	"claimrelay/internal/notifier"
	"claimrelay/internal/storage"
	"claimrelay/internal/task/scheduler"
	kit "claimrelay/internal/transport"
	logx "claimrelay/pkg/logx"
)

const defaultSaveEvery = 5 * time.Minute

func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	if cfg == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file", "json":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// saveSchedule returns the periodic save schedule, defaulting to every 5m.
func saveSchedule(cfg *Config) (string, error) {
	raw := strings.TrimSpace(cfg.Storage.SaveEvery)
	if raw == "" {
		return "@every " + defaultSaveEvery.String(), nil
	}
	spec, err := scheduler.Normalize(raw)
	if err != nil {
		return "", fmt.Errorf("storage.save_every: %w", err)
	}
	return spec, nil
}

func mapHTTPConfig(cfg *Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	if hc.Port < 0 || hc.Port > 65535 {
		return httpapi.Config{}, fmt.Errorf("http.port out of range: %d", hc.Port)
	}
	rt, err := parseDurationField("http.read_timeout", hc.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := parseDurationField("http.write_timeout", hc.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	it, err := parseDurationField("http.idle_timeout", hc.IdleTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Host:         hc.Host,
		Port:         hc.Port,
		StaticDir:    hc.StaticDir,
		ReadTimeout:  rt,
		WriteTimeout: wt,
		IdleTimeout:  it,
	}, nil
}

// parseChatTarget reads telegram.chat_id. An empty or invalid id yields the
// zero target; sends to it fail and are logged like any other send failure.
func parseChatTarget(raw string) (kit.ChatTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return kit.ChatTarget{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("telegram.chat_id: invalid %q", raw)
	}
	return kit.ChatTarget{ChatID: id}, nil
}

func mapNotifierConfig(cfg *Config, target kit.ChatTarget) (notifier.Config, error) {
	timeout, err := parseDurationField("notify.timeout", cfg.Notify.Timeout)
	if err != nil {
		return notifier.Config{}, err
	}
	mode := strings.TrimSpace(cfg.Notify.ParseMode)
	if mode == "" {
		mode = "HTML"
	}
	return notifier.Config{Target: target, ParseMode: mode, Timeout: timeout}, nil
}

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// validateConfig rejects a reloaded config that could not be applied.
func validateConfig(cfg *Config) error {
	if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := saveSchedule(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg, kit.ChatTarget{}); err != nil {
		return err
	}
	return nil
}
