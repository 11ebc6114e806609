package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "15s", "10m"). Omitted fields keep the values from Default.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	ATIS     ATISConfig     `json:"atis"`
	Relay    RelayConfig    `json:"relay"`
	Commands CommandsConfig `json:"commands"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout for getUpdates.
	PollTimeout string `json:"poll_timeout"`
	// Channel receives the relayed reports: "@name" or a numeric chat id,
	// optionally suffixed with "/<thread>".
	Channel string `json:"channel"`
	// LogChat receives mirrored log lines when logging.chat is enabled.
	LogChat string `json:"log_chat,omitempty"`
}

type ATISConfig struct {
	BaseURL string `json:"base_url"`
	ICAO    string `json:"icao"`
	Source  string `json:"source"`
	Field   string `json:"field"`
	Timeout string `json:"timeout"`
}

type RelayConfig struct {
	// Threshold is the minimum age of the last fetch before polling again.
	Threshold string `json:"threshold"`
	// Schedule drives the loop wake-ups: a duration, HH:MM or a cron expression.
	Schedule      string `json:"schedule"`
	Prefix        string `json:"prefix"`
	MaxMessageLen int    `json:"max_message_len"`
	MissingText   string `json:"missing_text"`
}

type CommandsConfig struct {
	Prefix string `json:"prefix"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// MetricsConfig controls the optional ops HTTP server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9108"
	Pprof   bool   `json:"pprof,omitempty"`
}
