package usecase

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/ErlanBelekov/backup-agent/internal/queue"
	"github.com/ErlanBelekov/backup-agent/internal/repository"
	"github.com/ErlanBelekov/backup-agent/internal/source"
	"github.com/benbjohnson/clock"
)

// ScheduleUsecase is what the admin API can do to the running agent.
type ScheduleUsecase struct {
	queue *queue.Queue
	runs  repository.RunRepository
	clock clock.Clock
}

func NewScheduleUsecase(q *queue.Queue, runs repository.RunRepository, clk clock.Clock) *ScheduleUsecase {
	return &ScheduleUsecase{queue: q, runs: runs, clock: clk}
}

func (u *ScheduleUsecase) ListSchedules(_ context.Context) []queue.Entry {
	return u.queue.List()
}

func (u *ScheduleUsecase) GetSchedule(_ context.Context, key string) (queue.Entry, error) {
	e, ok := u.queue.Get(key)
	if !ok {
		return queue.Entry{}, fmt.Errorf("get schedule %s: %w", key, domain.ErrScheduleNotFound)
	}
	return e, nil
}

// CreateSchedule registers a local schedule. It has no remote ID, so sync
// never touches it.
func (u *ScheduleUsecase) CreateSchedule(_ context.Context, rec source.Record) (queue.Entry, error) {
	rec.ID = ""
	def, err := rec.ToDefinition()
	if err != nil {
		return queue.Entry{}, err
	}
	s, err := domain.NewSchedule(def, u.clock.Now())
	if err != nil {
		return queue.Entry{}, err
	}
	key, err := u.queue.Add(s)
	if err != nil {
		return queue.Entry{}, fmt.Errorf("create schedule: %w", err)
	}
	e, _ := u.queue.Get(key)
	return e, nil
}

func (u *ScheduleUsecase) DeleteSchedule(_ context.Context, key string) error {
	if !u.queue.Remove(key) {
		return fmt.Errorf("delete schedule %s: %w", key, domain.ErrScheduleNotFound)
	}
	return nil
}

// SetExcluded applies the external exclusion policy: excluded schedules stay
// registered but are never dispatched.
func (u *ScheduleUsecase) SetExcluded(_ context.Context, key string, excluded bool) error {
	return u.queue.SetExcluded(key, excluded)
}

// ListRuns returns the newest runs of a schedule. History outlives the
// schedule, so a removed schedule with recorded runs is not an error.
func (u *ScheduleUsecase) ListRuns(ctx context.Context, key string, limit int) ([]*domain.BackupRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	runs, err := u.runs.ListBySchedule(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		if _, ok := u.queue.Get(key); !ok {
			return nil, fmt.Errorf("list runs %s: %w", key, domain.ErrScheduleNotFound)
		}
	}
	return runs, nil
}
