package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

// UpsertSectionDraft writes or replaces a job's draft for one section key.
func (s *Store) UpsertSectionDraft(ctx context.Context, d jobs.SectionDraft) (jobs.SectionDraft, error) {
	citationBytes, err := json.Marshal(d.CitationMap)
	if err != nil {
		return jobs.SectionDraft{}, fmt.Errorf("marshal citation map: %w", err)
	}
	var id string
	var updatedAt = d.UpdatedAt
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO section_drafts (job_id, section_key, status, tokens, content, citation_map)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (job_id, section_key) DO UPDATE
SET status=EXCLUDED.status, tokens=EXCLUDED.tokens, content=EXCLUDED.content,
    citation_map=EXCLUDED.citation_map, updated_at=now()
RETURNING id, updated_at`,
		d.JobID, d.SectionKey, d.Status, d.Tokens, d.Content, citationBytes,
	).Scan(&id, &updatedAt)
	if err != nil {
		return jobs.SectionDraft{}, fmt.Errorf("upsert section draft: %w", err)
	}
	d.ID = id
	d.UpdatedAt = updatedAt
	return d, nil
}

// GetSectionDraft loads a single section draft, if one exists yet.
func (s *Store) GetSectionDraft(ctx context.Context, jobID, sectionKey string) (jobs.SectionDraft, bool, error) {
	var d jobs.SectionDraft
	var citationBytes []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT id, job_id, section_key, status, tokens, content, citation_map, updated_at
FROM section_drafts WHERE job_id=$1 AND section_key=$2`, jobID, sectionKey,
	).Scan(&d.ID, &d.JobID, &d.SectionKey, &d.Status, &d.Tokens, &d.Content, &citationBytes, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return jobs.SectionDraft{}, false, nil
	}
	if err != nil {
		return jobs.SectionDraft{}, false, fmt.Errorf("get section draft: %w", err)
	}
	if len(citationBytes) > 0 {
		_ = json.Unmarshal(citationBytes, &d.CitationMap)
	}
	return d, true, nil
}

// ListSectionDrafts returns every drafted section for a job, in
// jobs.SectionKeys report order.
func (s *Store) ListSectionDrafts(ctx context.Context, jobID string) ([]jobs.SectionDraft, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, job_id, section_key, status, tokens, content, citation_map, updated_at
FROM section_drafts WHERE job_id=$1`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySectionKey := map[string]jobs.SectionDraft{}
	for rows.Next() {
		var d jobs.SectionDraft
		var citationBytes []byte
		if err := rows.Scan(&d.ID, &d.JobID, &d.SectionKey, &d.Status, &d.Tokens, &d.Content, &citationBytes, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if len(citationBytes) > 0 {
			_ = json.Unmarshal(citationBytes, &d.CitationMap)
		}
		bySectionKey[d.SectionKey] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]jobs.SectionDraft, 0, len(bySectionKey))
	for _, key := range jobs.SectionKeys {
		if d, ok := bySectionKey[key]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}
