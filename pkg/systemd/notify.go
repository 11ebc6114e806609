// Package systemd sends sd_notify state updates. Every call is a no-op when
// the process was not started by systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "atisbot/pkg/logx"
)

func notify(log logx.Logger, state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// Ready reports READY=1 with a human-readable status line.
func Ready(log logx.Logger, status string) bool {
	state := daemon.SdNotifyReady
	if status != "" {
		state += "\nSTATUS=" + status
	}
	return notify(log, state)
}

// Stopping reports STOPPING=1.
func Stopping(log logx.Logger) bool { return notify(log, daemon.SdNotifyStopping) }

// Status updates the STATUS= line shown by systemctl status.
func Status(log logx.Logger, status string) bool { return notify(log, "STATUS="+status) }

// Watchdog pings the systemd watchdog at half the configured WatchdogSec until
// ctx is done. It returns immediately when the watchdog is not enabled.
func Watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("sd_watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	interval /= 2
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
