package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Checkpoint statuses, mirrored by internal/executor's StoreCheckpointManager.
const (
	CheckpointStatusDispatched = "dispatched"
	CheckpointStatusCompleted  = "completed"
	CheckpointStatusFailed     = "failed"
)

// Checkpoint is one (run, stage) progress marker for the generic DAG
// executor the Pipeline Executor's Execute phase drives (spec.md §4.1).
type Checkpoint struct {
	RunID           string
	Stage           string
	Status          string
	CheckpointToken string
	Payload         map[string]interface{}
	Retries         int
}

// UpsertCheckpoint writes or replaces the checkpoint for a (run_id, stage).
func (s *Store) UpsertCheckpoint(ctx context.Context, cp Checkpoint) error {
	payloadBytes, err := marshalJSON(cp.Payload)
	if err != nil {
		return fmt.Errorf("marshal checkpoint payload: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO queue_checkpoints (run_id, stage, checkpoint_token, status, payload, retries)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id, stage) DO UPDATE
SET checkpoint_token=EXCLUDED.checkpoint_token, status=EXCLUDED.status,
    payload=EXCLUDED.payload, retries=EXCLUDED.retries, updated_at=now()`,
		cp.RunID, cp.Stage, cp.CheckpointToken, cp.Status, payloadBytes, cp.Retries)
	return err
}

// GetCheckpoint loads the checkpoint for a (run_id, stage), if any.
func (s *Store) GetCheckpoint(ctx context.Context, runID, stage string) (Checkpoint, bool, error) {
	var cp Checkpoint
	var payloadBytes []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT run_id, stage, checkpoint_token, status, payload, retries
FROM queue_checkpoints WHERE run_id=$1 AND stage=$2`, runID, stage,
	).Scan(&cp.RunID, &cp.Stage, &cp.CheckpointToken, &cp.Status, &payloadBytes, &cp.Retries)
	if err == sql.ErrNoRows {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("get checkpoint: %w", err)
	}
	if len(payloadBytes) > 0 {
		_ = json.Unmarshal(payloadBytes, &cp.Payload)
	}
	return cp, true, nil
}

// ListCheckpointsByStatus returns every checkpoint for a run in a given
// status. Nothing in the engine calls it; the Execute phase resumes by
// step status instead.
func (s *Store) ListCheckpointsByStatus(ctx context.Context, runID, status string) ([]Checkpoint, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, stage, checkpoint_token, status, payload, retries
FROM queue_checkpoints WHERE run_id=$1 AND status=$2`, runID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var payloadBytes []byte
		if err := rows.Scan(&cp.RunID, &cp.Stage, &cp.CheckpointToken, &cp.Status, &payloadBytes, &cp.Retries); err != nil {
			return nil, err
		}
		if len(payloadBytes) > 0 {
			_ = json.Unmarshal(payloadBytes, &cp.Payload)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// MarkCheckpointStatus transitions a checkpoint's status in place.
func (s *Store) MarkCheckpointStatus(ctx context.Context, runID, stage, status string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE queue_checkpoints SET status=$3, updated_at=now() WHERE run_id=$1 AND stage=$2`, runID, stage, status)
	return err
}
