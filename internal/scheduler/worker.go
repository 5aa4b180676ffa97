package scheduler

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/ErlanBelekov/backup-agent/internal/metrics"
	"github.com/ErlanBelekov/backup-agent/internal/notify"
	"github.com/ErlanBelekov/backup-agent/internal/queue"
	"github.com/ErlanBelekov/backup-agent/internal/repository"
	"github.com/ErlanBelekov/backup-agent/internal/traceid"
	"github.com/benbjohnson/clock"
)

type Backoff string

const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
)

// BackupRunner performs one backup attempt. *Executor is the production one.
type BackupRunner interface {
	Run(ctx context.Context, s *domain.Schedule, runID string) ExecutionResult
}

// Reporter tells the backend how an occurrence ended.
type Reporter interface {
	ReportBackup(ctx context.Context, report domain.BackupReport) error
}

type WorkerConfig struct {
	Concurrency int
	MaxRetries  int
	Backoff     Backoff
	RetryBase   time.Duration // first retry delay, 30s when zero
}

// Worker executes due schedules with bounded concurrency. Every occurrence
// ends with queue.Complete, so a failed backup is not retried forever: after
// MaxRetries the occurrence is consumed, reported and alerted on.
type Worker struct {
	queue    *queue.Queue
	runs     repository.RunRepository
	runner   BackupRunner
	reporter Reporter
	notifier notify.Notifier
	clock    clock.Clock
	logger   *slog.Logger
	cfg      WorkerConfig
	sem      chan struct{}
	wg       sync.WaitGroup
}

// NewWorker builds a worker. reporter may be nil for agents without a backend.
func NewWorker(
	q *queue.Queue,
	runs repository.RunRepository,
	runner BackupRunner,
	reporter Reporter,
	notifier notify.Notifier,
	clk clock.Clock,
	logger *slog.Logger,
	cfg WorkerConfig,
) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 30 * time.Second
	}
	return &Worker{
		queue:    q,
		runs:     runs,
		runner:   runner,
		reporter: reporter,
		notifier: notifier,
		clock:    clk,
		logger:   logger.With("component", "worker"),
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

// Available is the number of free execution slots.
func (w *Worker) Available() int {
	return cap(w.sem) - len(w.sem)
}

// Dispatch starts e in the background. The caller must not hand out more
// entries than Available reported.
func (w *Worker) Dispatch(ctx context.Context, e queue.Entry) {
	w.sem <- struct{}{}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		metrics.BackupsInFlight.Inc()
		defer metrics.BackupsInFlight.Dec()
		w.Execute(ctx, e)
	}()
}

// Wait blocks until every dispatched backup has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Execute runs one occurrence of e to completion, including retries.
func (w *Worker) Execute(ctx context.Context, e queue.Entry) {
	occurrence := traceid.New()
	ctx = traceid.WithRunID(ctx, occurrence)
	s := e.Schedule
	logger := w.logger.With("schedule_key", e.Key, "kind", s.Kind())

	startedAt := w.clock.Now()
	metrics.DispatchLag.Observe(startedAt.Sub(s.NextRun()).Seconds())

	var (
		attempt int
		errMsg  string
	)
	for attempt = 1; ; attempt++ {
		result := w.attempt(ctx, e, attempt, logger)
		if !result.Failed() {
			errMsg = ""
			break
		}
		errMsg = result.Error()

		if attempt > w.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		delay := retryDelay(w.cfg.Backoff, w.cfg.RetryBase, attempt-1)
		metrics.BackupsCompletedTotal.WithLabelValues("retry").Inc()
		logger.WarnContext(ctx, "backup failed, will retry",
			"error", errMsg,
			"attempt", attempt,
			"max_retries", w.cfg.MaxRetries,
			"retry_in", delay,
		)
		select {
		case <-ctx.Done():
		case <-w.clock.After(delay):
		}
		if ctx.Err() != nil {
			break
		}
	}

	finishedAt := w.clock.Now()
	report := domain.BackupReport{
		ScheduleID: s.ID,
		RunID:      occurrence,
		Status:     domain.RunStatusSucceeded,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Attempts:   attempt,
		Error:      errMsg,
		Files:      s.Files,
		Databases:  s.Databases,
	}
	if errMsg != "" {
		report.Status = domain.RunStatusFailed
		metrics.BackupsCompletedTotal.WithLabelValues("failed").Inc()
		logger.WarnContext(ctx, "backup permanently failed", "error", errMsg, "attempts", attempt)
	} else {
		metrics.BackupsCompletedTotal.WithLabelValues("success").Inc()
		logger.InfoContext(ctx, "backup completed", "attempts", attempt, "duration", finishedAt.Sub(startedAt))
	}

	// the occurrence is over whatever the outcome; shutdown must not block it
	outCtx := context.WithoutCancel(ctx)
	w.report(outCtx, report, logger)

	next, ok := w.queue.Complete(e.Key, finishedAt)
	if !ok {
		logger.InfoContext(ctx, "schedule removed while running")
		return
	}
	logger.InfoContext(ctx, "next backup scheduled", "next_run", next)
}

func (w *Worker) attempt(ctx context.Context, e queue.Entry, attempt int, logger *slog.Logger) ExecutionResult {
	runID := traceid.New()
	startedAt := w.clock.Now()

	// Open the run record before executing so a crash leaves a visible
	// incomplete entry (completed_at = NULL) in the history.
	recorded := true
	_, err := w.runs.CreateRun(ctx, &domain.BackupRun{
		ID:          runID,
		ScheduleKey: e.Key,
		ScheduleID:  e.Schedule.ID,
		Attempt:     attempt,
		Status:      domain.RunStatusRunning,
		StartedAt:   startedAt,
	})
	if err != nil {
		// history is best effort; the backup itself still runs
		logger.ErrorContext(ctx, "create run record", "error", err)
		recorded = false
	}

	logger.InfoContext(ctx, "executing backup", "attempt", attempt, "files", len(e.Schedule.Files), "databases", len(e.Schedule.Databases))
	result := w.runner.Run(ctx, e.Schedule, runID)

	status := domain.RunStatusSucceeded
	var errMsg *string
	if result.Failed() {
		status = domain.RunStatusFailed
		msg := result.Error()
		errMsg = &msg
	}
	metrics.BackupDuration.WithLabelValues(string(e.Schedule.Kind()), string(status)).Observe(result.Duration.Seconds())

	if recorded {
		durationMS := w.clock.Now().Sub(startedAt).Milliseconds()
		if err := w.runs.CompleteRun(context.WithoutCancel(ctx), runID, status, errMsg, durationMS); err != nil {
			logger.ErrorContext(ctx, "complete run record", "run_id", runID, "error", err)
		}
	}
	return result
}

func (w *Worker) report(ctx context.Context, report domain.BackupReport, logger *slog.Logger) {
	if w.reporter != nil {
		if err := w.reporter.ReportBackup(ctx, report); err != nil {
			logger.ErrorContext(ctx, "report backup to backend", "error", err)
		}
	}
	if report.Status == domain.RunStatusFailed && w.notifier != nil {
		if err := w.notifier.BackupFailed(ctx, report); err != nil {
			logger.ErrorContext(ctx, "send failure alert", "error", err)
		}
	}
}

func retryDelay(backoff Backoff, base time.Duration, retryCount int) time.Duration {
	switch backoff {
	case BackoffExponential:
		delay := time.Duration(float64(base) * math.Pow(2, float64(retryCount)))
		delay = min(delay, time.Hour)
		if delay < 4 {
			return delay
		}
		jitter := time.Duration(rand.Int63n(int64(delay/2))) - delay/4
		return delay + jitter
	case BackoffLinear:
		return base * time.Duration(retryCount+1)
	default:
		return base
	}
}
