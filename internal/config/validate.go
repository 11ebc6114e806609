package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"atisbot/internal/atis"
	"atisbot/internal/relay"
	logx "atisbot/pkg/logx"
)

const (
	// minMessageLen leaves room for at least one character before "...".
	minMessageLen = 4
	// maxMessageLen is Telegram's message limit.
	maxMessageLen = 4096
)

// ValidateContext adapts Validate to Manager.SetValidator.
func ValidateContext(_ context.Context, cfg *Config) error { return Validate(cfg) }

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Telegram.Channel) == "" {
		add("telegram.channel is required")
	}
	if _, err := ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Telegram.LogChat) == "" {
		add("logging.chat.enabled requires telegram.log_chat")
	}
	if lc := strings.TrimSpace(cfg.Telegram.LogChat); lc != "" && strings.EqualFold(lc, strings.TrimSpace(cfg.Telegram.Channel)) {
		add("telegram.log_chat must differ from telegram.channel")
	}

	if _, err := atis.BuildURL(cfg.ATIS.BaseURL, cfg.ATIS.ICAO, cfg.ATIS.Source); err != nil {
		add("atis: %w", err)
	}
	if strings.TrimSpace(cfg.ATIS.Field) == "" {
		add("atis.field is required")
	}
	if _, err := ParseDurationOrDefault("atis.timeout", cfg.ATIS.Timeout, 0); err != nil {
		errs = append(errs, err)
	}

	if d, err := ParseDurationOrDefault("relay.threshold", cfg.Relay.Threshold, relay.DefaultThreshold); err != nil {
		errs = append(errs, err)
	} else if d < relay.MinThreshold {
		add("relay.threshold must be >= %s", relay.MinThreshold)
	}
	if strings.TrimSpace(cfg.Relay.Schedule) != "" {
		if _, err := relay.ParseSchedule(cfg.Relay.Schedule); err != nil {
			add("relay.schedule: %w", err)
		}
	}
	if n := cfg.Relay.MaxMessageLen; n != 0 && (n < minMessageLen || n > maxMessageLen) {
		add("relay.max_message_len must be between %d and %d", minMessageLen, maxMessageLen)
	}
	if n := cfg.Relay.MaxMessageLen; n >= minMessageLen && utf8.RuneCountInString(cfg.Relay.Prefix) >= n {
		add("relay.prefix is longer than relay.max_message_len")
	}

	if p := cfg.Commands.Prefix; p != "" && strings.ContainsAny(p, " \t\n") {
		add("commands.prefix must not contain whitespace")
	}

	if _, ok := logx.ParseLevel(cfg.Logging.Level); cfg.Logging.Level != "" && !ok {
		add("logging.level %q is invalid", cfg.Logging.Level)
	}
	if _, ok := logx.ParseLevel(cfg.Logging.Chat.MinLevel); cfg.Logging.Chat.MinLevel != "" && !ok {
		add("logging.chat.min_level %q is invalid", cfg.Logging.Chat.MinLevel)
	}
	if cfg.Logging.Chat.RatePerSec < 0 {
		add("logging.chat.rate_per_sec must be >= 0")
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.Metrics.Addr)); err != nil {
			add("metrics.addr %q: %w", cfg.Metrics.Addr, err)
		}
	}
	return errors.Join(errs...)
}
