package config

import (
	"atisbot/internal/atis"
	"atisbot/internal/metrics"
	"atisbot/internal/relay"
	"atisbot/internal/transport/telegram/router"
	logx "atisbot/pkg/logx"
)

// Default returns the configuration used for every omitted field.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s"},
		ATIS: ATISConfig{
			BaseURL: atis.DefaultBaseURL,
			ICAO:    atis.DefaultICAO,
			Source:  atis.DefaultSource,
			Field:   atis.DefaultField,
			Timeout: atis.DefaultTimeout.String(),
		},
		Relay: RelayConfig{
			Threshold:     relay.DefaultThreshold.String(),
			Schedule:      relay.DefaultInterval.String(),
			Prefix:        relay.DefaultPrefix,
			MaxMessageLen: relay.DefaultMaxLen,
			MissingText:   relay.DefaultMissingText,
		},
		Commands: CommandsConfig{Prefix: router.DefaultPrefix},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Enabled: true, Path: logx.DefaultFilePath},
			Chat:    LoggingChat{MinLevel: "warn", RatePerSec: 1},
		},
		Metrics: MetricsConfig{Addr: metrics.DefaultAddr},
	}
}
