// Package ledger owns the Citation Ledger Manager: dense, per-job,
// deduplicated citation numbering and rendering of the final report's
// reference list (spec.md §4.2).
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

// Store is the subset of internal/store the ledger manager needs.
type Store interface {
	AssignCitation(ctx context.Context, jobID, canonicalURL, title, url, rawStorageURL string) (jobs.CitationLedgerEntry, error)
	ListCitations(ctx context.Context, jobID string) ([]jobs.CitationLedgerEntry, error)
}

// Manager wraps the durable store with citation-specific semantics.
type Manager struct {
	store Store
}

// New constructs a Manager around a durable store.
func New(st Store) *Manager {
	return &Manager{store: st}
}

// Cite assigns (or reuses) a dense citation number for a source. Callers
// pass the source's canonicalized URL (internal/helpers.CanonicalURL) so
// tracking-parameter variants of the same URL dedupe to one entry.
func (m *Manager) Cite(ctx context.Context, jobID, canonicalURL, title, url, rawStorageURL string) (jobs.CitationLedgerEntry, error) {
	return m.store.AssignCitation(ctx, jobID, canonicalURL, title, url, rawStorageURL)
}

// Entries returns a job's ledger in citation_number order, for callers
// that render their own markup, e.g. the Finalize phase's anchored
// references via RenderReferences.
func (m *Manager) Entries(ctx context.Context, jobID string) ([]jobs.CitationLedgerEntry, error) {
	return m.store.ListCitations(ctx, jobID)
}

// InlineMarker is the [n] marker inserted into section drafts at the point
// a note's citation is referenced, before Finalize links it to its anchor.
func InlineMarker(citationNumber int) string {
	return "[" + strconv.Itoa(citationNumber) + "]"
}

// LinkifyMarkers rewrites every bare [n] inline marker in body into the
// anchored [n](#ref-n) form the Finalize phase publishes, for every
// citation number present in the job's ledger.
func LinkifyMarkers(body string, entries []jobs.CitationLedgerEntry) string {
	for _, e := range entries {
		marker := InlineMarker(e.CitationNumber)
		anchored := fmt.Sprintf("[%d](#ref-%d)", e.CitationNumber, e.CitationNumber)
		body = strings.ReplaceAll(body, marker, anchored)
	}
	return body
}

// RenderReferences renders a job's ledger as the anchored "## References"
// section spec.md §4.1's Finalize phase appends: one entry per citation,
// addressable by the #ref-n targets LinkifyMarkers points at.
func RenderReferences(entries []jobs.CitationLedgerEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## References\n\n")
	for _, e := range entries {
		label := e.Title
		if label == "" {
			label = e.URL
		}
		fmt.Fprintf(&b, "<a id=\"ref-%d\"></a>[%d] %s", e.CitationNumber, e.CitationNumber, label)
		if e.URL != "" && e.Title != "" {
			fmt.Fprintf(&b, " <%s>", e.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}
