package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepresearch/orchestrator/internal/budget"
	"github.com/deepresearch/orchestrator/internal/jobs"
)

// StaleJob is one running job the Rescue Sweeper decided has gone quiet.
type StaleJob struct {
	ID          string
	HasSteps    bool
	SilentFor   time.Duration
}

// ListStaleRunning finds running jobs whose worker has gone quiet, using
// spec.md §4.5's two-branch detection: a job that claimed but never
// inserted its first step is judged against startThresholdSeconds measured
// from started_at (a worker can die before ever heartbeating); a job that
// has steps is judged against its heartbeat staleness, capped to whichever
// is tighter between heartbeatThresholdSeconds and the job's own
// max_duration_seconds budget plus graceSeconds.
func (s *Store) ListStaleRunning(ctx context.Context, startThresholdSeconds, heartbeatThresholdSeconds, graceSeconds int) ([]StaleJob, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT j.id, j.options, j.started_at, j.updated_at, j.last_heartbeat,
       EXISTS (SELECT 1 FROM steps st WHERE st.job_id = j.id) AS has_steps
FROM jobs j
WHERE j.status = $1`, jobs.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []StaleJob
	for rows.Next() {
		var (
			id                             string
			optsBytes                      []byte
			startedAt, updatedAt, heartbeat time.Time
			hasSteps                       bool
		)
		if err := rows.Scan(&id, &optsBytes, &startedAt, &updatedAt, &heartbeat, &hasSteps); err != nil {
			return nil, err
		}

		if !hasSteps {
			silentFor := now.Sub(startedAt)
			if silentFor > time.Duration(startThresholdSeconds)*time.Second {
				out = append(out, StaleJob{ID: id, HasSteps: false, SilentFor: silentFor})
			}
			continue
		}

		lastSeen := heartbeat
		if updatedAt.After(lastSeen) {
			lastSeen = updatedAt
		}
		if startedAt.After(lastSeen) {
			lastSeen = startedAt
		}

		threshold := heartbeatThresholdSeconds
		var opts jobs.Options
		if len(optsBytes) > 0 {
			_ = json.Unmarshal(optsBytes, &opts)
		}
		if jobBudget := jobTimeBudget(opts); jobBudget != nil {
			budgetThreshold := int(*jobBudget) + graceSeconds
			if budgetThreshold < threshold {
				threshold = budgetThreshold
			}
		}

		silentFor := now.Sub(lastSeen)
		if silentFor > time.Duration(threshold)*time.Second {
			out = append(out, StaleJob{ID: id, HasSteps: true, SilentFor: silentFor})
		}
	}
	return out, rows.Err()
}

// jobTimeBudget converts a job's max_duration_seconds option into the
// Rescue Sweeper's time ceiling via the same budget.Config shape the rest
// of the engine uses for cost/token guardrails, rather than a bare int.
// A job with no duration cap, or one that fails Config.Validate, has no
// time budget and falls back to the sweeper's plain heartbeat threshold.
func jobTimeBudget(opts jobs.Options) *int64 {
	if opts.MaxDurationSeconds <= 0 {
		return nil
	}
	seconds := opts.MaxDurationSeconds
	cfg := budget.Config{MaxTimeSeconds: &seconds}
	if err := cfg.Validate(); err != nil {
		return nil
	}
	return cfg.MaxTimeSeconds
}

// RescueJobs flips a batch of stale running jobs back to queued and resets
// their running steps so the next claimer resumes cleanly from the last
// completed step. Idempotent: rows already out of status=running are
// silently skipped by the WHERE clause.
func (s *Store) RescueJobs(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range jobIDs {
		if _, err := tx.ExecContext(ctx, `
UPDATE jobs SET status=$2, started_at=NULL, updated_at=now(), last_heartbeat=now()
WHERE id=$1 AND status=$3`, id, jobs.StatusQueued, jobs.StatusRunning); err != nil {
			return fmt.Errorf("rescue job %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return s.ResetRunningSteps(ctx, jobIDs)
}
