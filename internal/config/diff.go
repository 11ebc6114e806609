package config

import (
	"strings"

	logx "atisbot/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"telegram": true,
	"atis":     true,
	"relay":    true,
	"metrics":  true,
}

// SummarizeChange returns the changed section names, safe log fields (never the
// token) and whether any changed section needs a restart to apply.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)),
			logx.String("telegram.channel", newCfg.Telegram.Channel),
			logx.Bool("telegram.log_chat_set", strings.TrimSpace(newCfg.Telegram.LogChat) != ""),
		)
	}
	if oldCfg.ATIS != newCfg.ATIS {
		changed = append(changed, "atis")
		attrs = append(attrs,
			logx.String("atis.icao", newCfg.ATIS.ICAO),
			logx.String("atis.source", newCfg.ATIS.Source),
		)
	}
	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.threshold", newCfg.Relay.Threshold),
			logx.String("relay.schedule", newCfg.Relay.Schedule),
			logx.Int("relay.max_message_len", newCfg.Relay.MaxMessageLen),
		)
	}
	if oldCfg.Commands != newCfg.Commands {
		changed = append(changed, "commands")
		attrs = append(attrs, logx.String("commands.prefix", newCfg.Commands.Prefix))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", newCfg.Metrics.Addr),
		)
	}

	restart := false
	for _, s := range changed {
		if restartSections[s] {
			restart = true
		}
	}
	return changed, attrs, restart
}
