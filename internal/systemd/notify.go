package systemd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/goodtune/pedometer/internal/background"
	"github.com/rs/zerolog"
)

// NotifyReady sends READY=1 notification to systemd
// This tells systemd that the service has finished starting up
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
// This tells systemd that the service is shutting down
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// NotifyStatus sets the free-form status line shown by systemctl status.
func NotifyStatus(text string) error {
	// STATUS= is a single line.
	text = strings.ReplaceAll(text, "\n", " ")
	if _, err := daemon.SdNotify(false, "STATUS="+text); err != nil {
		return fmt.Errorf("failed to send sd_notify status: %w", err)
	}
	return nil
}

// NotifyWatchdog sends WATCHDOG=1 notification to systemd
// This should be called periodically to prevent watchdog timeout
func NotifyWatchdog() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		return fmt.Errorf("failed to send sd_notify watchdog: %w", err)
	}
	return nil
}

// RunWatchdog pings the watchdog at half the configured timeout until ctx is
// done. It returns at once when the unit has no watchdog.
func RunWatchdog(ctx context.Context, logger zerolog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to ping systemd watchdog")
			}
		}
	}
}

// IsSystemdService returns true if running as a systemd service
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}

// StatusNotifier shows background tracking notifications as the unit's
// status line.
type StatusNotifier struct{}

// Notify implements background.Notifier.
func (StatusNotifier) Notify(_ context.Context, n background.Notification) error {
	return NotifyStatus(FormatStatus(n))
}

// FormatStatus renders a notification as a status line.
func FormatStatus(n background.Notification) string {
	switch {
	case n.Title == "":
		return n.ContextText
	case n.ContextText == "":
		return n.Title
	default:
		return n.Title + ": " + n.ContextText
	}
}
