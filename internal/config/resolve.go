package config

import (
	"strings"

	"atisbot/internal/atis"
	"atisbot/internal/metrics"
	"atisbot/internal/relay"
	logx "atisbot/pkg/logx"
)

// ATISClient returns the provider client settings.
func (c *Config) ATISClient() (atis.Config, error) {
	timeout, err := ParseDurationOrDefault("atis.timeout", c.ATIS.Timeout, atis.DefaultTimeout)
	if err != nil {
		return atis.Config{}, err
	}
	return atis.Config{
		BaseURL: strings.TrimSpace(c.ATIS.BaseURL),
		ICAO:    strings.ToUpper(strings.TrimSpace(c.ATIS.ICAO)),
		Source:  strings.TrimSpace(c.ATIS.Source),
		Field:   strings.TrimSpace(c.ATIS.Field),
		Timeout: timeout,
	}, nil
}

// RelayLoop returns the relay loop settings.
func (c *Config) RelayLoop() (relay.Config, error) {
	threshold, err := ParseDurationOrDefault("relay.threshold", c.Relay.Threshold, relay.DefaultThreshold)
	if err != nil {
		return relay.Config{}, err
	}
	out := relay.Config{
		Channel:     strings.TrimSpace(c.Telegram.Channel),
		Threshold:   threshold,
		Prefix:      c.Relay.Prefix,
		MaxLen:      c.Relay.MaxMessageLen,
		MissingText: c.Relay.MissingText,
	}
	if strings.TrimSpace(c.Relay.Schedule) != "" {
		sch, err := relay.ParseSchedule(c.Relay.Schedule)
		if err != nil {
			return relay.Config{}, err
		}
		out.Schedule = sch
	}
	return out, nil
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    c.Logging.Chat.Enabled,
			MinLevel:   c.Logging.Chat.MinLevel,
			RatePerSec: c.Logging.Chat.RatePerSec,
		},
	}
}

func (c *Config) MetricsServer() metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled: c.Metrics.Enabled,
		Addr:    strings.TrimSpace(c.Metrics.Addr),
		Pprof:   c.Metrics.Pprof,
	}
}
