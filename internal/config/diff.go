package config

import (
	"strings"

	logx "claimrelay/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Secrets (bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.chat_id", strings.TrimSpace(newCfg.Telegram.ChatID)),
			logx.Bool("telegram.poll_updates", newCfg.Telegram.PollUpdates),
		)
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Int("http.port", newCfg.HTTP.Port), logx.String("http.static_dir", newCfg.HTTP.StaticDir))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.String("storage.save_every", newCfg.Storage.SaveEvery),
		)
	}
	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs, logx.String("notify.parse_mode", newCfg.Notify.ParseMode), logx.String("notify.timeout", newCfg.Notify.Timeout))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	return changed, attrs
}

// RestartRequired reports whether any changed section can only be applied
// by restarting the process.
func RestartRequired(sections []string) bool {
	for _, s := range sections {
		if s != "logging" {
			return true
		}
	}
	return false
}
