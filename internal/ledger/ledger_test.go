package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

type stubStore struct {
	byHash map[string]jobs.CitationLedgerEntry
	byJob  map[string][]jobs.CitationLedgerEntry
}

func newStubStore() *stubStore {
	return &stubStore{byHash: map[string]jobs.CitationLedgerEntry{}, byJob: map[string][]jobs.CitationLedgerEntry{}}
}

func (s *stubStore) AssignCitation(ctx context.Context, jobID, canonicalURL, title, url, rawStorageURL string) (jobs.CitationLedgerEntry, error) {
	key := jobID + "|" + canonicalURL + "|" + title + "|" + rawStorageURL
	if e, ok := s.byHash[key]; ok {
		return e, nil
	}
	e := jobs.CitationLedgerEntry{
		JobID: jobID, CitationNumber: len(s.byJob[jobID]) + 1, Title: title, URL: url, AccessedAt: time.Now().UTC(),
	}
	s.byHash[key] = e
	s.byJob[jobID] = append(s.byJob[jobID], e)
	return e, nil
}

func (s *stubStore) ListCitations(ctx context.Context, jobID string) ([]jobs.CitationLedgerEntry, error) {
	return s.byJob[jobID], nil
}

func TestCiteDedupesSameSourceAcrossTwoSteps(t *testing.T) {
	st := newStubStore()
	mgr := New(st)
	ctx := context.Background()

	first, err := mgr.Cite(ctx, "job-1", "https://example.com/a", "Title A", "https://example.com/a", "raw/job-1/1-0.json")
	if err != nil {
		t.Fatalf("cite: %v", err)
	}
	second, err := mgr.Cite(ctx, "job-1", "https://example.com/a", "Title A", "https://example.com/a", "raw/job-1/1-0.json")
	if err != nil {
		t.Fatalf("cite: %v", err)
	}
	if first.CitationNumber != second.CitationNumber {
		t.Fatalf("expected same citation number for the same source, got %d and %d", first.CitationNumber, second.CitationNumber)
	}

	third, err := mgr.Cite(ctx, "job-1", "https://example.com/b", "Title B", "https://example.com/b", "raw/job-1/2-0.json")
	if err != nil {
		t.Fatalf("cite: %v", err)
	}
	if third.CitationNumber == first.CitationNumber {
		t.Fatalf("expected a distinct citation number for a different source")
	}
}

func TestLinkifyMarkersRewritesBareMarkers(t *testing.T) {
	entries := []jobs.CitationLedgerEntry{
		{CitationNumber: 1},
		{CitationNumber: 2},
	}
	body := "The market grew [1] while inflation fell [2]."
	got := LinkifyMarkers(body, entries)
	want := "The market grew [1](#ref-1) while inflation fell [2](#ref-2)."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderReferencesProducesAnchoredList(t *testing.T) {
	entries := []jobs.CitationLedgerEntry{
		{CitationNumber: 1, Title: "Example Title", URL: "https://example.com/a"},
	}
	out := RenderReferences(entries)
	if !contains(out, `<a id="ref-1"></a>[1] Example Title`) {
		t.Fatalf("expected anchored reference entry, got %q", out)
	}
	if !contains(out, "https://example.com/a") {
		t.Fatalf("expected url in reference entry, got %q", out)
	}
}

func TestRenderReferencesEmptyLedger(t *testing.T) {
	if out := RenderReferences(nil); out != "" {
		t.Fatalf("expected empty string for empty ledger, got %q", out)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
