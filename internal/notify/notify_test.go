package notify_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/ErlanBelekov/backup-agent/internal/notify"
)

type countingNotifier struct {
	calls int
}

func (c *countingNotifier) BackupFailed(_ context.Context, _ domain.BackupReport) error {
	c.calls++
	return nil
}

func TestLimited_DropsBeyondBurst(t *testing.T) {
	inner := &countingNotifier{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	n := notify.NewLimited(inner, time.Hour, 2, logger)

	for i := 0; i < 5; i++ {
		if err := n.BackupFailed(context.Background(), domain.BackupReport{ScheduleID: "7"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestNewNotifier_LocalLogs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	n := notify.NewNotifier("local", "", "", "ops@example.com", logger)

	if err := n.BackupFailed(context.Background(), domain.BackupReport{ScheduleID: "7", Error: "boom"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
