package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/ErlanBelekov/backup-agent/internal/queue"
	"github.com/benbjohnson/clock"
)

var start = time.Date(2024, time.March, 10, 1, 0, 0, 0, time.UTC)

type workerFixture struct {
	clock    *clock.Mock
	queue    *queue.Queue
	runs     *fakeRuns
	runner   *fakeRunner
	reporter *fakeReporter
	notifier *fakeNotifier
	worker   *Worker
}

func newWorkerFixture(t *testing.T, maxRetries int, statuses ...int) *workerFixture {
	t.Helper()
	f := &workerFixture{
		clock:    clock.NewMock(),
		queue:    queue.New(),
		runs:     &fakeRuns{},
		runner:   &fakeRunner{statuses: statuses},
		reporter: &fakeReporter{},
		notifier: &fakeNotifier{},
	}
	f.clock.Set(start)
	f.worker = NewWorker(f.queue, f.runs, f.runner, f.reporter, f.notifier, f.clock, discardLogger(), WorkerConfig{
		Concurrency: 1,
		MaxRetries:  maxRetries,
		Backoff:     BackoffLinear,
	})
	return f
}

// popMonthly registers a monthly schedule due right now and pops it.
func (f *workerFixture) popMonthly(t *testing.T, id string) queue.Entry {
	t.Helper()
	s, err := domain.NewSchedule(domain.Definition{
		ID:        id,
		Time:      domain.TimeOfDay{Hour: 1},
		Files:     []string{"/etc"},
		Databases: []string{"shop"},
		Rule:      domain.MonthlyRule{DayOfMonth: 10},
	}, start)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if _, err := f.queue.Add(s); err != nil {
		t.Fatalf("Add: %v", err)
	}
	due := f.queue.PopDue(start, 1)
	if len(due) != 1 {
		t.Fatalf("schedule not due")
	}
	return due[0]
}

// executeAdvancing runs Execute while moving the mock clock forward so retry
// delays elapse.
func (f *workerFixture) executeAdvancing(t *testing.T, e queue.Entry) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		f.worker.Execute(context.Background(), e)
		close(done)
	}()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("Execute did not finish")
		default:
			f.clock.Add(10 * time.Second)
		}
	}
}

func TestExecute_Success(t *testing.T) {
	f := newWorkerFixture(t, 2, 200)
	e := f.popMonthly(t, "7")

	f.worker.Execute(context.Background(), e)

	if f.runner.count() != 1 {
		t.Errorf("runner called %d times, want 1", f.runner.count())
	}
	runs := f.runs.snapshot()
	if len(runs) != 1 || runs[0].Status != domain.RunStatusSucceeded || runs[0].Attempt != 1 {
		t.Fatalf("runs = %+v", runs)
	}
	if len(f.reporter.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(f.reporter.reports))
	}
	r := f.reporter.reports[0]
	if r.Status != domain.RunStatusSucceeded || r.ScheduleID != "7" || r.Attempts != 1 || r.RunID == "" {
		t.Errorf("report = %+v", r)
	}
	if len(f.notifier.alerts) != 0 {
		t.Errorf("alert sent for a successful backup")
	}

	got, ok := f.queue.Get(e.Key)
	if !ok || got.InFlight {
		t.Fatalf("schedule not requeued: %+v", got)
	}
	want := time.Date(2024, time.April, 10, 1, 0, 0, 0, time.UTC)
	if !got.Schedule.NextRun().Equal(want) {
		t.Errorf("next run = %v, want %v", got.Schedule.NextRun(), want)
	}
}

func TestExecute_RetriesThenFails(t *testing.T) {
	f := newWorkerFixture(t, 2, 500)
	e := f.popMonthly(t, "7")

	f.executeAdvancing(t, e)

	if f.runner.count() != 3 {
		t.Errorf("runner called %d times, want 3", f.runner.count())
	}
	runs := f.runs.snapshot()
	if len(runs) != 3 {
		t.Fatalf("got %d run records, want 3", len(runs))
	}
	for i, r := range runs {
		if r.Attempt != i+1 || r.Status != domain.RunStatusFailed || r.Error == nil {
			t.Errorf("run %d = %+v", i, r)
		}
	}
	if len(f.reporter.reports) != 1 || f.reporter.reports[0].Status != domain.RunStatusFailed {
		t.Fatalf("reports = %+v", f.reporter.reports)
	}
	if f.reporter.reports[0].Attempts != 3 || f.reporter.reports[0].Error == "" {
		t.Errorf("report = %+v", f.reporter.reports[0])
	}
	if len(f.notifier.alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(f.notifier.alerts))
	}

	// the failed occurrence is consumed
	got, _ := f.queue.Get(e.Key)
	if got.InFlight || got.Schedule.NextRun().Month() != time.April {
		t.Errorf("schedule = %+v next %v", got, got.Schedule.NextRun())
	}
	if _, ok := got.Schedule.PreviousRun(); !ok {
		t.Error("previous run not recorded")
	}
}

func TestExecute_SucceedsOnRetry(t *testing.T) {
	f := newWorkerFixture(t, 2, 503, 201)
	e := f.popMonthly(t, "7")

	f.executeAdvancing(t, e)

	if f.runner.count() != 2 {
		t.Errorf("runner called %d times, want 2", f.runner.count())
	}
	r := f.reporter.reports[0]
	if r.Status != domain.RunStatusSucceeded || r.Attempts != 2 || r.Error != "" {
		t.Errorf("report = %+v", r)
	}
	if len(f.notifier.alerts) != 0 {
		t.Error("alert sent after a successful retry")
	}
}

func TestExecute_NoRetriesConfigured(t *testing.T) {
	f := newWorkerFixture(t, 0, 500)
	e := f.popMonthly(t, "7")

	f.worker.Execute(context.Background(), e)

	if f.runner.count() != 1 {
		t.Errorf("runner called %d times, want 1", f.runner.count())
	}
	if len(f.notifier.alerts) != 1 {
		t.Errorf("alerts = %d, want 1", len(f.notifier.alerts))
	}
}

func TestExecute_ScheduleRemovedWhileRunning(t *testing.T) {
	f := newWorkerFixture(t, 0, 200)
	e := f.popMonthly(t, "7")
	f.runner.onRun = func() { f.queue.Remove(e.Key) }

	f.worker.Execute(context.Background(), e)

	if f.queue.Len() != 0 {
		t.Errorf("removed schedule came back")
	}
	if len(f.reporter.reports) != 1 {
		t.Errorf("occurrence not reported")
	}
}

func TestExecute_HistoryFailureStillRunsBackup(t *testing.T) {
	f := newWorkerFixture(t, 0, 200)
	f.runs.createErr = errors.New("disk full")
	e := f.popMonthly(t, "7")

	f.worker.Execute(context.Background(), e)

	if f.runner.count() != 1 {
		t.Errorf("backup skipped after history failure")
	}
	if f.reporter.reports[0].Status != domain.RunStatusSucceeded {
		t.Errorf("status = %s", f.reporter.reports[0].Status)
	}
}

func TestExecute_LocalScheduleWithoutReporter(t *testing.T) {
	f := newWorkerFixture(t, 0, 200)
	f.worker.reporter = nil
	e := f.popMonthly(t, "")

	f.worker.Execute(context.Background(), e)

	runs := f.runs.snapshot()
	if len(runs) != 1 || runs[0].ScheduleKey != e.Key || runs[0].ScheduleID != "" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRetryDelay(t *testing.T) {
	base := 30 * time.Second

	if d := retryDelay(BackoffLinear, base, 2); d != 90*time.Second {
		t.Errorf("linear = %v, want 90s", d)
	}
	if d := retryDelay("", base, 5); d != base {
		t.Errorf("default = %v, want %v", d, base)
	}
	for retry := 0; retry < 10; retry++ {
		d := retryDelay(BackoffExponential, base, retry)
		want := min(time.Duration(float64(base)*float64(int(1)<<retry)), time.Hour)
		if d < want*3/4 || d > want*5/4 {
			t.Errorf("exponential retry %d = %v, want within 25%% of %v", retry, d, want)
		}
	}
}
