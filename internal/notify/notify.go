package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/resend/resend-go/v2"
	"golang.org/x/time/rate"
)

// Notifier alerts an operator when a backup occurrence finally fails.
type Notifier interface {
	BackupFailed(ctx context.Context, report domain.BackupReport) error
}

// LogNotifier logs alerts instead of sending them. Used in ENV=local.
type LogNotifier struct {
	logger *slog.Logger
}

func (n *LogNotifier) BackupFailed(ctx context.Context, report domain.BackupReport) error {
	n.logger.WarnContext(ctx, "backup failed (local dev alert)",
		"schedule_id", report.ScheduleID,
		"attempts", report.Attempts,
		"error", report.Error,
	)
	return nil
}

// ResendNotifier emails alerts via the Resend API in staging and production.
type ResendNotifier struct {
	client *resend.Client
	from   string
	to     string
}

func (n *ResendNotifier) BackupFailed(ctx context.Context, report domain.BackupReport) error {
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{n.to},
		Subject: fmt.Sprintf("Backup failed: schedule %s", scheduleLabel(report)),
		Html:    failureBody(report),
	}
	_, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

// Limited drops alerts beyond the limiter's budget so a broken engine does
// not flood the inbox.
type Limited struct {
	next    Notifier
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewLimited(next Notifier, every time.Duration, burst int, logger *slog.Logger) *Limited {
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(every), burst),
		logger:  logger.With("component", "notify"),
	}
}

func (l *Limited) BackupFailed(ctx context.Context, report domain.BackupReport) error {
	if !l.limiter.Allow() {
		l.logger.WarnContext(ctx, "alert suppressed by rate limit", "schedule_id", report.ScheduleID)
		return nil
	}
	return l.next.BackupFailed(ctx, report)
}

// NewNotifier returns a LogNotifier for ENV=local or when no recipient is
// configured, ResendNotifier otherwise. Either way alerts are rate limited.
func NewNotifier(env, apiKey, from, to string, logger *slog.Logger) Notifier {
	var n Notifier
	if env == "local" || to == "" {
		n = &LogNotifier{logger: logger.With("component", "notify")}
	} else {
		n = &ResendNotifier{
			client: resend.NewClient(apiKey),
			from:   from,
			to:     to,
		}
	}
	return NewLimited(n, 10*time.Minute, 3, logger)
}

func scheduleLabel(report domain.BackupReport) string {
	if report.ScheduleID == "" {
		return "(local)"
	}
	return report.ScheduleID
}

func failureBody(report domain.BackupReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Backup for schedule <b>%s</b> failed after %d attempt(s).</p>",
		html.EscapeString(scheduleLabel(report)), report.Attempts)
	fmt.Fprintf(&b, "<p>Started %s, gave up %s.</p>",
		report.StartedAt.Format(time.RFC1123), report.FinishedAt.Format(time.RFC1123))
	fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(report.Error))
	if len(report.Files) > 0 {
		fmt.Fprintf(&b, "<p>Files: %s</p>", html.EscapeString(strings.Join(report.Files, ", ")))
	}
	if len(report.Databases) > 0 {
		fmt.Fprintf(&b, "<p>Databases: %s</p>", html.EscapeString(strings.Join(report.Databases, ", ")))
	}
	return b.String()
}
