package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/metrics"
	"github.com/ErlanBelekov/backup-agent/internal/repository"
	"github.com/benbjohnson/clock"
)

const pruneBatch = 500

// Reaper deletes run history older than the retention window.
type Reaper struct {
	runs      repository.RunRepository
	clock     clock.Clock
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
}

func NewReaper(runs repository.RunRepository, clk clock.Clock, logger *slog.Logger, interval, retention time.Duration) *Reaper {
	return &Reaper{
		runs:      runs,
		clock:     clk,
		logger:    logger.With("component", "reaper"),
		interval:  interval,
		retention: retention,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "retention", r.retention)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) int {
	cutoff := r.clock.Now().Add(-r.retention)

	total := 0
	for {
		n, err := r.runs.PruneBefore(ctx, cutoff, pruneBatch)
		if err != nil {
			r.logger.Error("prune run history", "error", err)
			break
		}
		total += n
		if n < pruneBatch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		metrics.RunsPrunedTotal.Add(float64(total))
		r.logger.Info("pruned run history", "count", total, "cutoff", cutoff)
	}
	return total
}
