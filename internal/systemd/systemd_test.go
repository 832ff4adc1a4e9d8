package systemd

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/pedometer/internal/background"
	"github.com/rs/zerolog"
)

func TestGetListenersWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_FDS", "")
	t.Setenv("LISTEN_PID", "")

	listeners, err := GetListeners()
	if err != nil {
		t.Fatalf("get listeners: %v", err)
	}
	if listeners.Activated || listeners.API != nil || listeners.Metrics != nil {
		t.Fatalf("expected no activated listeners, got %+v", listeners)
	}
}

func TestNotifyWithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	if IsSystemdService() {
		t.Fatal("expected not to run under systemd")
	}
	if err := NotifyReady(); err != nil {
		t.Fatalf("notify ready: %v", err)
	}
	if err := (StatusNotifier{}).Notify(context.Background(), background.Notification{Title: "Pedometer"}); err != nil {
		t.Fatalf("notify status: %v", err)
	}
}

func TestRunWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")

	done := make(chan struct{})
	go func() {
		RunWatchdog(context.Background(), zerolog.Nop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected watchdog loop to return without a watchdog")
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		n    background.Notification
		want string
	}{
		{background.Notification{Title: "Pedometer", ContextText: "Counting steps"}, "Pedometer: Counting steps"},
		{background.Notification{Title: "Pedometer"}, "Pedometer"},
		{background.Notification{ContextText: "Counting steps"}, "Counting steps"},
	}

	for _, tt := range tests {
		if got := FormatStatus(tt.n); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
