package pipeline

import (
	"context"
	"fmt"

	"github.com/deepresearch/orchestrator/internal/artifact"
	"github.com/deepresearch/orchestrator/internal/jobs"
	"github.com/deepresearch/orchestrator/internal/ledger"
	"github.com/deepresearch/orchestrator/internal/packer"
)

// finalize runs the Finalize phase: it links every [n] marker in the draft
// to its #ref-n anchor, appends the anchored References section, renders
// and stores the report, and publishes the job. It also records a
// cross-job summary note so future jobs' Plan phase can warm-start from
// this one (spec.md §4.1 Finalize, §9).
func (p *Executor) finalize(ctx context.Context, job jobs.Job, draft synthesizeResult) error {
	entries, err := p.ledger.Entries(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("finalize: list citations: %w", err)
	}
	if len(entries) == 0 {
		entries, err = p.fallbackLedgerFromSources(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("finalize: fallback ledger: %w", err)
		}
	}

	report := draft.Report
	if len(entries) > 0 {
		report = ledger.LinkifyMarkers(report, entries)
		report = report + "\n\n" + ledger.RenderReferences(entries)
	}

	assets, err := p.renderAndStore(ctx, job.ID, report)
	if err != nil {
		return fmt.Errorf("finalize: render and store: %w", err)
	}

	if err := p.store.Publish(ctx, job.ID, report, assets); err != nil {
		return fmt.Errorf("finalize: publish: %w", err)
	}

	p.recordCrossJobSummary(ctx, job, report)
	return nil
}

// fallbackLedgerFromSources derives ledger entries in note-creation order
// when Synthesize produced a report but no citation was ever assigned
// (spec.md §4.2's documented fallback path).
func (p *Executor) fallbackLedgerFromSources(ctx context.Context, jobID string) ([]jobs.CitationLedgerEntry, error) {
	sources, err := p.store.ListSourcesForJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	entries := make([]jobs.CitationLedgerEntry, 0, len(sources))
	for i, src := range sources {
		entries = append(entries, jobs.CitationLedgerEntry{
			JobID:          jobID,
			CitationNumber: i + 1,
			Title:          src.Title,
			URL:            src.URL,
			AccessedAt:     src.CreatedAt,
		})
	}
	return entries, nil
}

func (p *Executor) renderAndStore(ctx context.Context, jobID, report string) (map[string]interface{}, error) {
	rendered, err := p.renderer.Render(ctx, report, artifact.FormatMarkdown)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	key := artifact.ReportKey(jobID, artifact.FormatMarkdown)
	url, err := p.artifact.Put(ctx, key, rendered.Data, rendered.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	return map[string]interface{}{
		"markdown": map[string]interface{}{
			"url":      url,
			"checksum": rendered.Checksum,
		},
	}, nil
}

// recordCrossJobSummary inserts a cross_job_summary note and indexes it
// into the vector collaborator so a future job's Plan phase can surface it
// as warm context (spec.md §4.1's post-publication recording step).
func (p *Executor) recordCrossJobSummary(ctx context.Context, job jobs.Job, report string) {
	summary := report
	if len(summary) > 2000 {
		summary = summary[:2000]
	}
	content := fmt.Sprintf(`{"question":%q,"summary":%q}`, job.Question, summary)
	note, err := p.store.InsertNote(ctx, jobs.Note{
		JobID:      job.ID,
		Role:       jobs.RoleCrossJobSummary,
		Importance: 4,
		TokenCount: packer.EstimateTokens(content),
		Content:    content,
	})
	if err != nil {
		p.logger.Printf("job %s insert cross-job summary failed: %v", job.ID, err)
		return
	}
	if p.embed != nil && p.vectors != nil {
		p.indexWarmNote(ctx, job.ID, note)
	}
}
