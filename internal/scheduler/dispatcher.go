package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/metrics"
	"github.com/ErlanBelekov/backup-agent/internal/queue"
	"github.com/benbjohnson/clock"
)

// Dispatcher polls the queue and hands due schedules to the worker.
type Dispatcher struct {
	queue    *queue.Queue
	worker   *Worker
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration
}

func NewDispatcher(q *queue.Queue, worker *Worker, clk clock.Clock, logger *slog.Logger, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		queue:    q,
		worker:   worker,
		clock:    clk,
		logger:   logger.With("component", "dispatcher"),
		interval: interval,
	}
}

// Start blocks until ctx is done, then waits for running backups to finish.
func (d *Dispatcher) Start(ctx context.Context) {
	metrics.AgentStartTime.Set(float64(d.clock.Now().Unix()))

	ticker := d.clock.Ticker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "interval", d.interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping, waiting for running backups")
			d.worker.Wait()
			d.logger.Info("dispatcher shut down")
			return
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context) int {
	defer d.observe()

	free := d.worker.Available()
	if free == 0 {
		return 0
	}
	due := d.queue.PopDue(d.clock.Now(), free)
	for _, e := range due {
		d.worker.Dispatch(ctx, e)
	}
	if len(due) > 0 {
		d.logger.Info("dispatched backups", "count", len(due), "slots_free", free-len(due))
	}
	return len(due)
}

func (d *Dispatcher) observe() {
	metrics.SchedulesRegistered.Set(float64(d.queue.Len()))
	metrics.SchedulesRunnable.Set(float64(d.queue.Runnable()))
	if head, ok := d.queue.Peek(); ok {
		metrics.NextRunTimestamp.Set(float64(head.Schedule.NextRun().Unix()))
	} else {
		metrics.NextRunTimestamp.Set(0)
	}
}
