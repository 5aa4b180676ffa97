package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/ErlanBelekov/backup-agent/internal/metrics"
	"github.com/ErlanBelekov/backup-agent/internal/queue"
	"github.com/ErlanBelekov/backup-agent/internal/source"
	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
)

// Source delivers the full current set of schedule definitions.
type Source interface {
	Fetch(ctx context.Context) ([]source.Record, error)
}

type SyncResult struct {
	Added    int
	Updated  int
	Replaced int
	Removed  int
	Rejected int
}

// Syncer reconciles the queue against a Source. Each sync is a full-state
// replace: definitions missing from the source are removed, but only those
// with a remote ID; local schedules created through the admin API stay.
type Syncer struct {
	source Source
	queue  *queue.Queue
	clock  clock.Clock
	logger *slog.Logger
	mu     sync.Mutex
}

func NewSyncer(src Source, q *queue.Queue, clk clock.Clock, logger *slog.Logger) *Syncer {
	return &Syncer{
		source: src,
		queue:  q,
		clock:  clk,
		logger: logger.With("component", "syncer"),
	}
}

// Start runs Sync on the cron spec (e.g. "@every 1m") until ctx is done.
func (s *Syncer) Start(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { s.syncAndLog(ctx) }); err != nil {
		return fmt.Errorf("invalid sync spec %q: %w", spec, err)
	}
	c.Start()
	s.logger.Info("syncer started", "spec", spec)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("syncer shut down")
	return nil
}

// Trigger runs a sync now, for file change events.
func (s *Syncer) Trigger(ctx context.Context) {
	s.syncAndLog(ctx)
}

func (s *Syncer) syncAndLog(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		s.logger.ErrorContext(ctx, "sync schedules", "error", err)
	}
}

// Sync fetches definitions and applies them. A fetch failure leaves the queue
// untouched. Invalid definitions are rejected one by one; the schedule they
// would have replaced keeps its previous state.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SyncResult
	recs, err := s.source.Fetch(ctx)
	if err != nil {
		metrics.SyncTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("fetch schedules: %w", err)
	}

	now := s.clock.Now()
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		id := string(rec.ID)
		if id == "" {
			s.reject(ctx, &res, id, errors.New("definition has no id"))
			continue
		}
		if seen[id] {
			s.reject(ctx, &res, id, errors.New("duplicate id"))
			continue
		}
		seen[id] = true

		def, err := rec.ToDefinition()
		if err != nil {
			s.reject(ctx, &res, id, err)
			continue
		}
		if err := s.apply(id, def, now, &res); err != nil {
			s.reject(ctx, &res, id, err)
		}
	}

	for _, key := range s.queue.RemoteKeys() {
		if seen[key] {
			continue
		}
		if s.queue.Remove(key) {
			res.Removed++
			metrics.SyncChangesTotal.WithLabelValues("removed").Inc()
			s.logger.InfoContext(ctx, "schedule removed", "schedule_id", key)
		}
	}

	metrics.SyncTotal.WithLabelValues("success").Inc()
	if res != (SyncResult{}) {
		s.logger.InfoContext(ctx, "schedules synced",
			"added", res.Added,
			"updated", res.Updated,
			"replaced", res.Replaced,
			"removed", res.Removed,
			"rejected", res.Rejected,
		)
	}
	return res, nil
}

func (s *Syncer) apply(id string, def domain.Definition, now time.Time, res *SyncResult) error {
	existing, ok := s.queue.Get(id)
	if !ok {
		sched, err := domain.NewSchedule(def, now)
		if err != nil {
			return err
		}
		if _, err := s.queue.Add(sched); err != nil {
			return err
		}
		res.Added++
		metrics.SyncChangesTotal.WithLabelValues("added").Inc()
		return nil
	}

	if sameDefinition(existing.Schedule.Definition(), def) {
		return nil
	}

	err := s.queue.Update(id, def, now)
	switch {
	case err == nil:
		res.Updated++
		metrics.SyncChangesTotal.WithLabelValues("updated").Inc()
		return nil
	case errors.Is(err, domain.ErrKindChanged):
		if err := s.queue.Replace(id, def, now); err != nil {
			return err
		}
		res.Replaced++
		metrics.SyncChangesTotal.WithLabelValues("replaced").Inc()
		return nil
	default:
		return err
	}
}

func (s *Syncer) reject(ctx context.Context, res *SyncResult, id string, err error) {
	res.Rejected++
	metrics.RulesRejectedTotal.Inc()
	s.logger.WarnContext(ctx, "schedule definition rejected", "schedule_id", id, "error", err)
}

func sameDefinition(a, b domain.Definition) bool {
	return a.ID == b.ID &&
		a.Time == b.Time &&
		a.Rule == b.Rule &&
		slices.Equal(a.Files, b.Files) &&
		slices.Equal(a.Databases, b.Databases)
}
