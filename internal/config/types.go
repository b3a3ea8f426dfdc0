package config

// Config is the on-disk configuration (JSON or YAML).
//
// Every section is optional; Default() fills what is omitted and the
// environment (PORT, BOT_TOKEN, CHAT_ID, DATA_FILE) overrides the file.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`
	Storage  StorageConfig  `json:"storage"`
	Notify   NotifyConfig   `json:"notify"`
	Logging  LoggingConfig  `json:"logging"`
}

// TelegramConfig configures the notification transport.
//
// The token is never validated at startup: a bad token only shows up as
// failed sends.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID string `json:"chat_id"`
	// PollUpdates receives inbound messages by long polling instead of
	// relying on /api/webhook.
	PollUpdates bool `json:"poll_updates,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type HTTPConfig struct {
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port"`
	StaticDir string `json:"static_dir"`

	// Server timeouts (Go duration strings). Empty means no timeout.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls where participant records are persisted.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./users_data.json", "save_every": "5m" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// SaveEvery is a schedule: Go duration ("5m"), HH:MM ("00:05") or cron ("*/5 * * * *").
	SaveEvery   string `json:"save_every"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type NotifyConfig struct {
	ParseMode string `json:"parse_mode"`
	// Timeout bounds a single send. Empty or "0s" means no timeout.
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		HTTP:     HTTPConfig{Port: 3000, StaticDir: "./public"},
		Storage:  StorageConfig{Driver: "file", Path: "./users_data.json", SaveEvery: "5m"},
		Notify:   NotifyConfig{ParseMode: "HTML"},
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			Telegram: LoggingTelegram{MinLevel: "error", RatePerSec: 1},
		},
	}
}
