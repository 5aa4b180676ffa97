package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/backup-agent/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *domain.BackupRun) (*domain.BackupRun, error) {
	query := `
		INSERT INTO backup_runs (id, schedule_key, schedule_id, attempt, status, started_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		RETURNING id, schedule_key, COALESCE(schedule_id, ''), attempt, status,
		          started_at, completed_at, error, duration_ms`

	row := r.pool.QueryRow(ctx, query,
		run.ID, run.ScheduleKey, run.ScheduleID, run.Attempt, run.Status, run.StartedAt,
	)
	return scanRun(row)
}

func (r *RunRepository) CompleteRun(ctx context.Context, id string, status domain.RunStatus, errMsg *string, durationMS int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE backup_runs
		SET completed_at = NOW(),
		    status       = $2,
		    error        = $3,
		    duration_ms  = $4
		WHERE id = $1`,
		id, status, errMsg, durationMS,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: no such run", id)
	}
	return nil
}

func (r *RunRepository) ListBySchedule(ctx context.Context, scheduleKey string, limit int) ([]*domain.BackupRun, error) {
	query := `
		SELECT id, schedule_key, COALESCE(schedule_id, ''), attempt, status,
		       started_at, completed_at, error, duration_ms
		FROM backup_runs
		WHERE schedule_key = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, scheduleKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.BackupRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (r *RunRepository) PruneBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM backup_runs
		WHERE id IN (
			SELECT id FROM backup_runs
			WHERE started_at < $1 AND completed_at IS NOT NULL
			ORDER BY started_at ASC
			LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RunRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.BackupRun, error) {
	var run domain.BackupRun
	err := row.Scan(
		&run.ID, &run.ScheduleKey, &run.ScheduleID, &run.Attempt, &run.Status,
		&run.StartedAt, &run.CompletedAt, &run.Error, &run.DurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &run, nil
}
