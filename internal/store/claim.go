package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

// ClaimNextQueued exclusively claims the oldest queued job for a worker,
// per spec.md §4.6: SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// claimers never contend on the same row and never double-claim one.
// Returns sql.ErrNoRows if no queued job is available.
func (s *Store) ClaimNextQueued(ctx context.Context) (jobs.Job, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return jobs.Job{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status=$1
ORDER BY created_at ASC
FOR UPDATE SKIP LOCKED
LIMIT 1`, jobs.StatusQueued)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return jobs.Job{}, sql.ErrNoRows
		}
		return jobs.Job{}, fmt.Errorf("claim next queued: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
UPDATE jobs SET status=$2, started_at=COALESCE(started_at, $3), updated_at=now(), last_heartbeat=now()
WHERE id=$1`, j.ID, jobs.StatusRunning, now); err != nil {
		return jobs.Job{}, fmt.Errorf("mark claimed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return jobs.Job{}, err
	}

	j.Status = jobs.StatusRunning
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	return j, nil
}
