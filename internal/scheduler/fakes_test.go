package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/ErlanBelekov/backup-agent/internal/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRuns struct {
	mu        sync.Mutex
	runs      []*domain.BackupRun
	createErr error
	prunes    []int
	cutoffs   []time.Time
}

func (f *fakeRuns) CreateRun(_ context.Context, run *domain.BackupRun) (*domain.BackupRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	r := *run
	f.runs = append(f.runs, &r)
	return &r, nil
}

func (f *fakeRuns) CompleteRun(_ context.Context, id string, status domain.RunStatus, errMsg *string, durationMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.runs {
		if r.ID == id {
			r.Status = status
			r.Error = errMsg
			r.DurationMS = &durationMS
			return nil
		}
	}
	return errors.New("no such run")
}

func (f *fakeRuns) ListBySchedule(_ context.Context, key string, limit int) ([]*domain.BackupRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.BackupRun
	for i := len(f.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if f.runs[i].ScheduleKey == key {
			out = append(out, f.runs[i])
		}
	}
	return out, nil
}

func (f *fakeRuns) PruneBefore(_ context.Context, cutoff time.Time, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	if len(f.prunes) == 0 {
		return 0, nil
	}
	n := f.prunes[0]
	f.prunes = f.prunes[1:]
	return n, nil
}

func (f *fakeRuns) Ping(context.Context) error { return nil }

func (f *fakeRuns) snapshot() []domain.BackupRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.BackupRun, len(f.runs))
	for i, r := range f.runs {
		out[i] = *r
	}
	return out
}

// fakeRunner returns statuses in order, repeating the last one.
type fakeRunner struct {
	mu       sync.Mutex
	statuses []int
	calls    int
	onRun    func()
}

func (f *fakeRunner) Run(_ context.Context, _ *domain.Schedule, _ string) ExecutionResult {
	f.mu.Lock()
	status := f.statuses[min(f.calls, len(f.statuses)-1)]
	f.calls++
	onRun := f.onRun
	f.mu.Unlock()

	if onRun != nil {
		onRun()
	}
	return ExecutionResult{StatusCode: status, Duration: time.Second}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []domain.BackupReport
}

func (f *fakeReporter) ReportBackup(_ context.Context, r domain.BackupReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []domain.BackupReport
}

func (f *fakeNotifier) BackupFailed(_ context.Context, r domain.BackupReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, r)
	return nil
}

type fakeSource struct {
	recs []source.Record
	err  error
}

func (f *fakeSource) Fetch(context.Context) ([]source.Record, error) {
	return f.recs, f.err
}
