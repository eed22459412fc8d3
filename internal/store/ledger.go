package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/lib/pq"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

// SourceHash is the dense citation key spec.md §4.2 dedups on: a SHA-1
// digest over the canonical URL, title, and the raw storage URL the
// fetched document was archived under. A repeat citation with all three
// fields equal reuses one ledger entry; the same page re-archived under a
// different raw storage URL (e.g. by another step) gets its own entry.
func SourceHash(canonicalURL, title, rawStorageURL string) string {
	sum := sha1.Sum([]byte(canonicalURL + "|" + title + "|" + rawStorageURL))
	return hex.EncodeToString(sum[:])
}

// AssignCitation returns the existing ledger entry for a source hash, or
// assigns the next dense citation number for the job and inserts one. A
// unique-violation on citation_number (concurrent assignment racing on the
// same job) is retried against the now-advanced max.
func (s *Store) AssignCitation(ctx context.Context, jobID, canonicalURL, title, url, rawStorageURL string) (jobs.CitationLedgerEntry, error) {
	hash := SourceHash(canonicalURL, title, rawStorageURL)

	if entry, ok, err := s.lookupCitation(ctx, jobID, hash); err != nil {
		return jobs.CitationLedgerEntry{}, err
	} else if ok {
		return entry, nil
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		entry, err := s.insertCitation(ctx, jobID, hash, title, url)
		if err == nil {
			return entry, nil
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			if existing, found, lookupErr := s.lookupCitation(ctx, jobID, hash); lookupErr == nil && found {
				return existing, nil
			}
			continue
		}
		return jobs.CitationLedgerEntry{}, err
	}
	return jobs.CitationLedgerEntry{}, fmt.Errorf("assign citation: exhausted retries for job %s", jobID)
}

func (s *Store) lookupCitation(ctx context.Context, jobID, hash string) (jobs.CitationLedgerEntry, bool, error) {
	var e jobs.CitationLedgerEntry
	err := s.DB.QueryRowContext(ctx, `
SELECT id, job_id, source_hash, citation_number, title, url, accessed_at
FROM citation_ledger_entries WHERE job_id=$1 AND source_hash=$2`, jobID, hash,
	).Scan(&e.ID, &e.JobID, &e.SourceHash, &e.CitationNumber, &e.Title, &e.URL, &e.AccessedAt)
	if err == sql.ErrNoRows {
		return jobs.CitationLedgerEntry{}, false, nil
	}
	if err != nil {
		return jobs.CitationLedgerEntry{}, false, fmt.Errorf("lookup citation: %w", err)
	}
	return e, true, nil
}

func (s *Store) insertCitation(ctx context.Context, jobID, hash, title, url string) (jobs.CitationLedgerEntry, error) {
	var e jobs.CitationLedgerEntry
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO citation_ledger_entries (job_id, source_hash, citation_number, title, url)
SELECT $1, $2, COALESCE(MAX(citation_number), 0) + 1, $3, $4
FROM citation_ledger_entries WHERE job_id=$1
RETURNING id, job_id, source_hash, citation_number, title, url, accessed_at`,
		jobID, hash, title, url,
	).Scan(&e.ID, &e.JobID, &e.SourceHash, &e.CitationNumber, &e.Title, &e.URL, &e.AccessedAt)
	if err != nil {
		return jobs.CitationLedgerEntry{}, err
	}
	return e, nil
}

// ListCitations returns a job's ledger entries ordered by citation_number,
// the rendering order for the final report's reference list.
func (s *Store) ListCitations(ctx context.Context, jobID string) ([]jobs.CitationLedgerEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, job_id, source_hash, citation_number, title, url, accessed_at
FROM citation_ledger_entries WHERE job_id=$1 ORDER BY citation_number ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobs.CitationLedgerEntry
	for rows.Next() {
		var e jobs.CitationLedgerEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.SourceHash, &e.CitationNumber, &e.Title, &e.URL, &e.AccessedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
