package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
)

// RunRepository stores the local backup run history. Both the Postgres and
// the SQLite implementation satisfy it; the worker and admin API only see this.
type RunRepository interface {
	// CreateRun opens a run record at the moment an attempt starts, so a crash
	// mid-backup leaves a visible record with completed_at = NULL.
	CreateRun(ctx context.Context, run *domain.BackupRun) (*domain.BackupRun, error)

	// CompleteRun closes an open run with its outcome. errMsg is nil on success.
	CompleteRun(ctx context.Context, id string, status domain.RunStatus, errMsg *string, durationMS int64) error

	// ListBySchedule returns the newest runs of a schedule first.
	ListBySchedule(ctx context.Context, scheduleKey string, limit int) ([]*domain.BackupRun, error)

	// PruneBefore deletes up to limit completed runs started before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)

	Ping(ctx context.Context) error
}
