package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deepresearch/orchestrator/internal/artifact"
	"github.com/deepresearch/orchestrator/internal/executor"
	"github.com/deepresearch/orchestrator/internal/gateway"
	"github.com/deepresearch/orchestrator/internal/helpers"
	"github.com/deepresearch/orchestrator/internal/jobs"
	"github.com/deepresearch/orchestrator/internal/metrics"
	"github.com/deepresearch/orchestrator/internal/packer"
)

const fetchTopN = 3

// pageNote is one entry of the summarizer LLM's page_notes array.
type pageNote struct {
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

type summarizerOutput struct {
	PageNotes   []pageNote `json:"page_notes"`
	StepSummary string     `json:"step_summary"`
}

// execute runs the Execute phase: it drives one internal/executor.Task per
// pending step, chained N+1-depends-on-N so the generic DAG executor walks
// them in step_order (spec.md §4.1 Execute(i)).
func (p *Executor) execute(ctx context.Context, job jobs.Job, steps []jobs.Step) error {
	g := executor.Graph{Tasks: map[string]executor.Task{}}
	var prevInGraph string
	for _, st := range steps {
		if st.Status == jobs.StepStatusCompleted || st.Status == jobs.StepStatusPartial {
			continue
		}
		task := executor.Task{ID: st.ID, Stage: "execute_step"}
		if prevInGraph != "" {
			task.DependsOn = []string{prevInGraph}
		}
		g.Tasks[st.ID] = task
		prevInGraph = st.ID
	}
	if len(g.Tasks) == 0 {
		return nil
	}

	runner := &stepRunner{p: p, job: job, stepsByID: indexSteps(steps)}
	_, err := p.exec.Execute(ctx, job.ID, g, runner)
	return err
}

func indexSteps(steps []jobs.Step) map[string]jobs.Step {
	out := make(map[string]jobs.Step, len(steps))
	for _, st := range steps {
		out[st.ID] = st
	}
	return out
}

// stepRunner adapts one pipeline step to internal/executor.TaskRunner.
type stepRunner struct {
	p         *Executor
	job       jobs.Job
	stepsByID map[string]jobs.Step
}

func (r *stepRunner) RunTask(ctx context.Context, runID string, task executor.Task) error {
	if err := r.p.checkControl(ctx, r.job.ID); err != nil {
		return err
	}
	step := r.stepsByID[task.ID]
	return r.p.runStep(ctx, r.job, step)
}

// runStep executes one investigative step end to end. Tool and parse
// failures degrade the step to partial or completed-with-fewer-sources;
// only a durable-store error is returned, which is fatal per spec.md §7.
func (p *Executor) runStep(ctx context.Context, job jobs.Job, step jobs.Step) error {
	if err := p.store.SetStepStatus(ctx, step.ID, jobs.StepStatusRunning, nil); err != nil {
		return fmt.Errorf("mark step running: %w", err)
	}
	if err := p.store.Touch(ctx, job.ID); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	objective := step.Title
	if step.Theme != "" {
		objective = step.Theme
	}
	query := job.Question + " :: " + objective

	results, err := p.search.Search(ctx, query, p.cfg.SearchResultsPerHit)
	if err != nil {
		p.logger.Printf("job %s step %s search failed: %v", job.ID, step.ID, err)
		results = nil
	}
	if len(results) == 0 {
		return p.completeStep(ctx, job, step, jobs.StepStatusPartial, 0, "No search results")
	}

	top := results
	if len(top) > fetchTopN {
		top = top[:fetchTopN]
	}

	sourceCount := 0
	for i, r := range top {
		if err := p.checkControl(ctx, job.ID); err != nil {
			return err
		}
		fetched, err := p.fetch.Fetch(ctx, r.URL)
		if err != nil {
			p.logger.Printf("job %s step %s fetch failed for %s: %v", job.ID, step.ID, r.URL, err)
			continue
		}

		rawKey := artifact.RawDocumentKey(job.ID, step.StepOrder, i)
		rawBytes, _ := json.Marshal(map[string]string{"url": fetched.URL, "title": fetched.Title, "content": fetched.Content})
		rawURL, err := p.artifact.Put(ctx, rawKey, rawBytes, "application/json")
		if err != nil {
			return fmt.Errorf("store raw document: %w", err)
		}

		note, src, err := p.summarizeAndRecord(ctx, job, step, r, fetched, rawURL)
		if err != nil {
			p.logger.Printf("job %s step %s summarize failed for %s: %v", job.ID, step.ID, r.URL, err)
			continue
		}
		_ = note
		_ = src
		sourceCount++

		if err := p.store.Touch(ctx, job.ID); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
	}

	if sourceCount == 0 {
		return p.completeStep(ctx, job, step, jobs.StepStatusPartial, 0, "No pages could be fetched or summarized")
	}
	return p.completeStep(ctx, job, step, jobs.StepStatusCompleted, sourceCount, "")
}

// summarizeAndRecord calls the summarizer LLM on one fetched page, records
// its page note and source, and indexes the note into the vector
// collaborator for future warm-start retrieval.
func (p *Executor) summarizeAndRecord(ctx context.Context, job jobs.Job, step jobs.Step, hit gateway.SearchResult, fetched gateway.FetchResult, rawURL string) (jobs.Note, jobs.Source, error) {
	prompt := fmt.Sprintf("Question: %s\nStep: %s\nPage title: %s\nPage content:\n%s\n\nRespond with JSON: {\"page_notes\":[{\"content\":...,\"importance\":1-5}],\"step_summary\":\"...\"}",
		job.Question, step.Title, fetched.Title, fetched.Content)
	text, err := p.chat.Chat(ctx, []gateway.ChatMessage{
		{Role: "system", Content: "You summarize research pages into structured notes. Respond with JSON only."},
		{Role: "user", Content: prompt},
	}, gateway.ChatOptions{MaxTokens: p.cfg.MaxLLMTokens, Temperature: p.cfg.Temperature})
	if err != nil {
		return jobs.Note{}, jobs.Source{}, fmt.Errorf("summarizer call: %w", err)
	}

	var out summarizerOutput
	if raw, extractErr := helpers.ExtractJSON(text); extractErr == nil {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	if len(out.PageNotes) == 0 {
		out.PageNotes = []pageNote{{Content: fetched.Content, Importance: 3}}
	}

	canonicalURL, err := helpers.CanonicalURL(hit.URL)
	if err != nil {
		canonicalURL = hit.URL
	}

	var lastNote jobs.Note
	var lastSource jobs.Source
	for _, pn := range out.PageNotes {
		stepID := step.ID
		note, err := p.store.InsertNote(ctx, jobs.Note{
			JobID:      job.ID,
			StepID:     &stepID,
			Role:       jobs.RolePageSummary,
			Importance: jobs.ClampImportance(pn.Importance),
			TokenCount: packer.EstimateTokens(pn.Content),
			Content:    pn.Content,
			SourceURL:  canonicalURL,
		})
		if err != nil {
			return jobs.Note{}, jobs.Source{}, fmt.Errorf("insert page note: %w", err)
		}
		src, err := p.store.InsertSource(ctx, jobs.Source{
			NoteID:        note.ID,
			URL:           canonicalURL,
			Title:         fetched.Title,
			Snippet:       hit.Snippet,
			RawStorageURL: rawURL,
		})
		if err != nil {
			return jobs.Note{}, jobs.Source{}, fmt.Errorf("insert source: %w", err)
		}
		if _, err := p.ledger.Cite(ctx, job.ID, canonicalURL, fetched.Title, canonicalURL, rawURL); err != nil {
			p.logger.Printf("job %s cite failed for %s: %v", job.ID, canonicalURL, err)
		} else {
			metrics.RecordCitationAdded(ctx)
		}
		if p.embed != nil && p.vectors != nil {
			p.indexWarmNote(ctx, job.ID, note)
		}
		lastNote, lastSource = note, src
	}

	if out.StepSummary != "" {
		stepID := step.ID
		if _, err := p.store.InsertNote(ctx, jobs.Note{
			JobID:      job.ID,
			StepID:     &stepID,
			Role:       jobs.RoleStepSummary,
			Importance: jobs.ClampImportance(4),
			TokenCount: packer.EstimateTokens(out.StepSummary),
			Content:    out.StepSummary,
		}); err != nil {
			p.logger.Printf("job %s insert step summary failed: %v", job.ID, err)
		}
	}

	return lastNote, lastSource, nil
}

// indexWarmNote embeds and indexes a note for cross-job retrieval,
// degrading silently on failure per spec.md §9's "warm context degrades
// gracefully" guidance.
func (p *Executor) indexWarmNote(ctx context.Context, jobID string, note jobs.Note) {
	clamped := packer.ClampForEmbedding(note.Content)
	vec, err := p.embed.Embed(ctx, clamped)
	if err != nil {
		p.logger.Printf("job %s warm-note embedding failed for note %s: %v", jobID, note.ID, err)
		return
	}
	meta := map[string]string{
		"job_id":     jobID,
		"role":       note.Role,
		"importance": fmt.Sprintf("%d", note.Importance),
		"content":    note.Content,
	}
	if err := p.vectors.Index(ctx, note.ID, note.Content, vec, meta); err != nil {
		p.logger.Printf("job %s warm-note index failed for note %s: %v", jobID, note.ID, err)
	}
}

func (p *Executor) completeStep(ctx context.Context, job jobs.Job, step jobs.Step, status string, sourceCount int, reason string) error {
	result := map[string]interface{}{"source_count": sourceCount}
	if reason != "" {
		result["reason"] = reason
	}
	if err := p.store.SetStepStatus(ctx, step.ID, status, result); err != nil {
		return fmt.Errorf("mark step %s: %w", status, err)
	}
	metrics.RecordStepExecuted(ctx, status)
	return p.store.Touch(ctx, job.ID)
}
