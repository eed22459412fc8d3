// Package store is the durable authority for jobs, steps, notes, sources,
// the citation ledger, and section drafts. It is backed by PostgreSQL and
// exposes the transactional "claim one queued row" and array-valued update
// semantics the pipeline executor, claimer, and rescue sweeper depend on.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

// Store wraps a *sql.DB with the durable-store operations the engine needs.
type Store struct {
	DB *sql.DB
}

// New constructs a Store around an already-opened database handle.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// CreateJob inserts a new job row. Per the intake contract (spec.md §6), a
// job missing any required clarification key is created with
// status=clarification_required rather than queued.
func (s *Store) CreateJob(ctx context.Context, question string, opts jobs.Options, metadata map[string]interface{}) (jobs.Job, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	status := jobs.StatusQueued
	if missing := jobs.MissingClarificationKeys(metadata); len(missing) > 0 {
		status = jobs.StatusClarificationRequired
	}

	optsBytes, err := marshalJSON(opts)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("marshal options: %w", err)
	}
	metaBytes, err := marshalJSON(metadata)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("marshal metadata: %w", err)
	}

	id := uuid.NewString()
	var createdAt, updatedAt, heartbeat time.Time
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO jobs (id, question, options, metadata, status)
VALUES ($1,$2,$3,$4,$5)
RETURNING created_at, updated_at, last_heartbeat`,
		id, question, optsBytes, metaBytes, status,
	).Scan(&createdAt, &updatedAt, &heartbeat)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return jobs.Job{
		ID:            id,
		Question:      question,
		Options:       opts,
		Metadata:      metadata,
		Status:        status,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		LastHeartbeat: heartbeat,
	}, nil
}

func scanJob(row interface{ Scan(...interface{}) error }) (jobs.Job, error) {
	var (
		j                      jobs.Job
		optsBytes, metaBytes   []byte
		assetsBytes            []byte
		startedAt, completedAt sql.NullTime
		finalReport, jobErr    sql.NullString
	)
	if err := row.Scan(
		&j.ID, &j.Question, &optsBytes, &metaBytes, &j.Status,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt, &j.LastHeartbeat,
		&finalReport, &assetsBytes, &jobErr,
	); err != nil {
		return jobs.Job{}, err
	}
	if len(optsBytes) > 0 {
		_ = json.Unmarshal(optsBytes, &j.Options)
	}
	if len(metaBytes) > 0 {
		_ = json.Unmarshal(metaBytes, &j.Metadata)
	}
	if len(assetsBytes) > 0 {
		_ = json.Unmarshal(assetsBytes, &j.ReportAssets)
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if finalReport.Valid {
		v := finalReport.String
		j.FinalReport = &v
	}
	if jobErr.Valid {
		v := jobErr.String
		j.Error = &v
	}
	return j, nil
}

const jobColumns = `id, question, options, metadata, status, created_at, updated_at, started_at, completed_at, last_heartbeat, final_report, report_assets, error`

// GetJob loads a job by id. Used by every phase boundary's cooperative
// control check (spec.md §4.1).
func (s *Store) GetJob(ctx context.Context, id string) (jobs.Job, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return jobs.Job{}, fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Touch bumps updated_at and last_heartbeat on a job. Every durable write
// the Pipeline Executor performs heartbeats the job per spec.md §3.
func (s *Store) Touch(ctx context.Context, jobID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE jobs SET updated_at=now(), last_heartbeat=now() WHERE id=$1`, jobID)
	return err
}

// SetStatus transitions a job's status without touching timestamps beyond
// updated_at/last_heartbeat.
func (s *Store) SetStatus(ctx context.Context, jobID, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE jobs SET status=$2, updated_at=now(), last_heartbeat=now() WHERE id=$1`, jobID, status)
	return err
}

// SetError marks a job as errored with a captured error message. Storage
// errors are the only fatal case in spec.md §7's error taxonomy.
func (s *Store) SetError(ctx context.Context, jobID, message string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE jobs SET status=$2, error=$3, updated_at=now(), last_heartbeat=now() WHERE id=$1`, jobID, jobs.StatusError, message)
	return err
}

// Publish finalizes a completed job: final_report, report_assets, status,
// and completed_at are all set atomically per spec.md §3's invariant that
// these three fields are non-null iff status=completed.
func (s *Store) Publish(ctx context.Context, jobID, report string, assets map[string]interface{}) error {
	assetBytes, err := marshalJSON(assets)
	if err != nil {
		return fmt.Errorf("marshal report assets: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
UPDATE jobs SET final_report=$2, report_assets=$3, status=$4, completed_at=now(), updated_at=now(), last_heartbeat=now()
WHERE id=$1`, jobID, report, assetBytes, jobs.StatusCompleted)
	return err
}

// Requeue is the control-plane operation that returns a paused or cancelled
// job to queued, clearing prior report state for a clean resume (spec.md
// §5).
func (s *Store) Requeue(ctx context.Context, jobID string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE jobs SET status=$2, final_report=NULL, report_assets=NULL, completed_at=NULL, started_at=NULL, updated_at=now(), last_heartbeat=now()
WHERE id=$1`, jobID, jobs.StatusQueued)
	return err
}

// ResupplyMetadata merges new clarification metadata into a job and, if all
// required keys are now present, transitions it back to queued.
func (s *Store) ResupplyMetadata(ctx context.Context, jobID string, patch map[string]interface{}) (jobs.Job, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return jobs.Job{}, err
	}
	if j.Metadata == nil {
		j.Metadata = map[string]interface{}{}
	}
	for k, v := range patch {
		j.Metadata[k] = v
	}
	metaBytes, err := marshalJSON(j.Metadata)
	if err != nil {
		return jobs.Job{}, err
	}
	status := j.Status
	if len(jobs.MissingClarificationKeys(j.Metadata)) == 0 && status == jobs.StatusClarificationRequired {
		status = jobs.StatusQueued
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE jobs SET metadata=$2, status=$3, updated_at=now() WHERE id=$1`, jobID, metaBytes, status)
	if err != nil {
		return jobs.Job{}, err
	}
	j.Status = status
	return j, nil
}

// --- Steps ---------------------------------------------------------------

// InsertSteps persists the planner's ordered step list at the given
// iteration. step_order is assigned densely starting at the current max+1
// within the job.
func (s *Store) InsertSteps(ctx context.Context, jobID string, iteration int, titles, toolHints, themes []string) ([]jobs.Step, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var maxOrder int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(step_order),0) FROM steps WHERE job_id=$1`, jobID).Scan(&maxOrder); err != nil {
		return nil, fmt.Errorf("max step order: %w", err)
	}

	out := make([]jobs.Step, 0, len(titles))
	for i, title := range titles {
		hint := ""
		if i < len(toolHints) {
			hint = toolHints[i]
		}
		theme := ""
		if i < len(themes) {
			theme = themes[i]
		}
		id := uuid.NewString()
		order := maxOrder + i + 1
		var createdAt, updatedAt time.Time
		err := tx.QueryRowContext(ctx, `
INSERT INTO steps (id, job_id, title, tool_hint, status, step_order, theme, iteration)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING created_at, updated_at`,
			id, jobID, title, hint, jobs.StepStatusPending, order, theme, iteration,
		).Scan(&createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert step: %w", err)
		}
		out = append(out, jobs.Step{
			ID: id, JobID: jobID, Title: title, ToolHint: hint, Status: jobs.StepStatusPending,
			StepOrder: order, Theme: theme, Iteration: iteration, CreatedAt: createdAt, UpdatedAt: updatedAt,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSteps returns a job's steps ordered by step_order.
func (s *Store) ListSteps(ctx context.Context, jobID string) ([]jobs.Step, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, job_id, title, tool_hint, status, step_order, theme, iteration, result, created_at, updated_at
FROM steps WHERE job_id=$1 ORDER BY step_order ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Step
	for rows.Next() {
		var st jobs.Step
		var resultBytes []byte
		if err := rows.Scan(&st.ID, &st.JobID, &st.Title, &st.ToolHint, &st.Status, &st.StepOrder, &st.Theme, &st.Iteration, &resultBytes, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if len(resultBytes) > 0 {
			_ = json.Unmarshal(resultBytes, &st.Result)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SetStepStatus updates a step's status and, optionally, its structured
// result payload.
func (s *Store) SetStepStatus(ctx context.Context, stepID, status string, result map[string]interface{}) error {
	resultBytes, err := marshalJSON(result)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `UPDATE steps SET status=$2, result=$3, updated_at=now() WHERE id=$1`, stepID, status, resultBytes)
	return err
}

// ResetRunningSteps flips every running step of the given jobs back to
// pending. Used by the Rescue Sweeper (spec.md §4.5) and array-valued so a
// single sweep tick can touch every stale job at once.
func (s *Store) ResetRunningSteps(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
UPDATE steps SET status=$3, updated_at=now()
WHERE status=$2 AND job_id = ANY($1)`, pq.Array(jobIDs), jobs.StepStatusRunning, jobs.StepStatusPending)
	return err
}

// --- Notes & Sources -------------------------------------------------------

// InsertNote appends a note, clamping importance into [1,5].
func (s *Store) InsertNote(ctx context.Context, n jobs.Note) (jobs.Note, error) {
	n.Importance = jobs.ClampImportance(n.Importance)
	id := uuid.NewString()
	var stepID interface{}
	if n.StepID != nil {
		stepID = *n.StepID
	}
	var createdAt time.Time
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO notes (id, job_id, step_id, role, importance, token_count, content, source_url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING created_at`,
		id, n.JobID, stepID, n.Role, n.Importance, n.TokenCount, n.Content, n.SourceURL,
	).Scan(&createdAt)
	if err != nil {
		return jobs.Note{}, fmt.Errorf("insert note: %w", err)
	}
	n.ID = id
	n.CreatedAt = createdAt
	return n, nil
}

// ListNotes returns every note for a job in creation order.
func (s *Store) ListNotes(ctx context.Context, jobID string) ([]jobs.Note, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, job_id, step_id, role, importance, token_count, content, source_url, created_at
FROM notes WHERE job_id=$1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Note
	for rows.Next() {
		var n jobs.Note
		var stepID sql.NullString
		if err := rows.Scan(&n.ID, &n.JobID, &stepID, &n.Role, &n.Importance, &n.TokenCount, &n.Content, &n.SourceURL, &n.CreatedAt); err != nil {
			return nil, err
		}
		if stepID.Valid {
			v := stepID.String
			n.StepID = &v
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// InsertSource attaches a source to the note that produced it.
func (s *Store) InsertSource(ctx context.Context, src jobs.Source) (jobs.Source, error) {
	id := uuid.NewString()
	var createdAt time.Time
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO sources (id, note_id, url, title, snippet, raw_storage_url)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING created_at`,
		id, src.NoteID, src.URL, src.Title, src.Snippet, src.RawStorageURL,
	).Scan(&createdAt)
	if err != nil {
		return jobs.Source{}, fmt.Errorf("insert source: %w", err)
	}
	src.ID = id
	src.CreatedAt = createdAt
	return src, nil
}

// ListSourcesForJob returns every source attached to any note of a job, in
// note-creation order — the fallback citation ordering spec.md §4.2 names.
func (s *Store) ListSourcesForJob(ctx context.Context, jobID string) ([]jobs.Source, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT s.id, s.note_id, s.url, s.title, s.snippet, s.raw_storage_url, s.created_at
FROM sources s
JOIN notes n ON n.id = s.note_id
WHERE n.job_id=$1
ORDER BY n.created_at ASC, s.created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.Source
	for rows.Next() {
		var src jobs.Source
		if err := rows.Scan(&src.ID, &src.NoteID, &src.URL, &src.Title, &src.Snippet, &src.RawStorageURL, &src.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
