package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
)

type RunRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db, now: time.Now}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *domain.BackupRun) (*domain.BackupRun, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backup_runs (id, schedule_key, schedule_id, attempt, status, started_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?)`,
		run.ID, run.ScheduleKey, run.ScheduleID, run.Attempt, string(run.Status), run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	created := *run
	return &created, nil
}

func (r *RunRepository) CompleteRun(ctx context.Context, id string, status domain.RunStatus, errMsg *string, durationMS int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE backup_runs
		SET completed_at = ?, status = ?, error = ?, duration_ms = ?
		WHERE id = ?`,
		r.now().UnixMilli(), string(status), errMsg, durationMS, id,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete run %s: no such run", id)
	}
	return nil
}

func (r *RunRepository) ListBySchedule(ctx context.Context, scheduleKey string, limit int) ([]*domain.BackupRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, schedule_key, COALESCE(schedule_id, ''), attempt, status,
		       started_at, completed_at, error, duration_ms
		FROM backup_runs
		WHERE schedule_key = ?
		ORDER BY started_at DESC
		LIMIT ?`, scheduleKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.BackupRun
	for rows.Next() {
		var (
			run         domain.BackupRun
			status      string
			startedAt   int64
			completedAt sql.NullInt64
			errMsg      sql.NullString
			durationMS  sql.NullInt64
		)
		if err := rows.Scan(
			&run.ID, &run.ScheduleKey, &run.ScheduleID, &run.Attempt, &status,
			&startedAt, &completedAt, &errMsg, &durationMS,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = domain.RunStatus(status)
		run.StartedAt = time.UnixMilli(startedAt)
		if completedAt.Valid {
			t := time.UnixMilli(completedAt.Int64)
			run.CompletedAt = &t
		}
		if errMsg.Valid {
			run.Error = &errMsg.String
		}
		if durationMS.Valid {
			run.DurationMS = &durationMS.Int64
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (r *RunRepository) PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM backup_runs
		WHERE id IN (
			SELECT id FROM backup_runs
			WHERE started_at < ? AND completed_at IS NOT NULL
			ORDER BY started_at ASC
			LIMIT ?
		)`, cutoff.UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return int(n), nil
}

func (r *RunRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *RunRepository) Close() error {
	return r.db.Close()
}
