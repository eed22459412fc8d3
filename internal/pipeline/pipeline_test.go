package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/internal/artifact"
	"github.com/deepresearch/orchestrator/internal/gateway"
	"github.com/deepresearch/orchestrator/internal/jobs"
	"github.com/deepresearch/orchestrator/internal/ledger"
)

// fakeStore is an in-memory Store + ledger.Store good enough to drive the
// Pipeline Executor end to end without a database.
type fakeStore struct {
	jobs        map[string]jobs.Job
	steps       map[string][]jobs.Step
	notes       map[string][]jobs.Note
	sources     map[string][]jobs.Source
	sections    map[string]map[string]jobs.SectionDraft
	ledger      map[string][]jobs.CitationLedgerEntry
	ledgerByKey map[string]map[string]jobs.CitationLedgerEntry
	seq         int
}

func newFakeStore(j jobs.Job) *fakeStore {
	return &fakeStore{
		jobs:        map[string]jobs.Job{j.ID: j},
		steps:       map[string][]jobs.Step{},
		notes:       map[string][]jobs.Note{},
		sources:     map[string][]jobs.Source{},
		sections:    map[string]map[string]jobs.SectionDraft{},
		ledger:      map[string][]jobs.CitationLedgerEntry{},
		ledgerByKey: map[string]map[string]jobs.CitationLedgerEntry{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (jobs.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return jobs.Job{}, fmt.Errorf("job %s not found", id)
	}
	return j, nil
}

func (f *fakeStore) Touch(ctx context.Context, jobID string) error {
	j := f.jobs[jobID]
	j.UpdatedAt = time.Now().UTC()
	f.jobs[jobID] = j
	return nil
}

func (f *fakeStore) SetStatus(ctx context.Context, jobID, status string) error {
	j := f.jobs[jobID]
	j.Status = status
	f.jobs[jobID] = j
	return nil
}

func (f *fakeStore) SetError(ctx context.Context, jobID, message string) error {
	j := f.jobs[jobID]
	j.Status = jobs.StatusError
	j.Error = &message
	f.jobs[jobID] = j
	return nil
}

func (f *fakeStore) Publish(ctx context.Context, jobID, report string, assets map[string]interface{}) error {
	j := f.jobs[jobID]
	j.Status = jobs.StatusCompleted
	j.FinalReport = &report
	j.ReportAssets = assets
	f.jobs[jobID] = j
	return nil
}

func (f *fakeStore) InsertSteps(ctx context.Context, jobID string, iteration int, titles, toolHints, themes []string) ([]jobs.Step, error) {
	out := make([]jobs.Step, 0, len(titles))
	base := len(f.steps[jobID])
	for i, title := range titles {
		hint := ""
		if i < len(toolHints) {
			hint = toolHints[i]
		}
		theme := ""
		if i < len(themes) {
			theme = themes[i]
		}
		st := jobs.Step{
			ID: f.nextID("step"), JobID: jobID, Title: title, ToolHint: hint,
			Status: jobs.StepStatusPending, StepOrder: base + i + 1, Theme: theme, Iteration: iteration,
		}
		out = append(out, st)
	}
	f.steps[jobID] = append(f.steps[jobID], out...)
	return out, nil
}

func (f *fakeStore) ListSteps(ctx context.Context, jobID string) ([]jobs.Step, error) {
	return append([]jobs.Step{}, f.steps[jobID]...), nil
}

func (f *fakeStore) SetStepStatus(ctx context.Context, stepID, status string, result map[string]interface{}) error {
	for jobID, sts := range f.steps {
		for i, st := range sts {
			if st.ID == stepID {
				st.Status = status
				st.Result = result
				f.steps[jobID][i] = st
				return nil
			}
		}
	}
	return fmt.Errorf("step %s not found", stepID)
}

func (f *fakeStore) InsertNote(ctx context.Context, n jobs.Note) (jobs.Note, error) {
	n.ID = f.nextID("note")
	n.Importance = jobs.ClampImportance(n.Importance)
	n.CreatedAt = time.Now().UTC()
	f.notes[n.JobID] = append(f.notes[n.JobID], n)
	return n, nil
}

func (f *fakeStore) ListNotes(ctx context.Context, jobID string) ([]jobs.Note, error) {
	return append([]jobs.Note{}, f.notes[jobID]...), nil
}

func (f *fakeStore) InsertSource(ctx context.Context, src jobs.Source) (jobs.Source, error) {
	src.ID = f.nextID("source")
	src.CreatedAt = time.Now().UTC()
	for jobID, notes := range f.notes {
		for _, n := range notes {
			if n.ID == src.NoteID {
				f.sources[jobID] = append(f.sources[jobID], src)
				return src, nil
			}
		}
	}
	f.sources[""] = append(f.sources[""], src)
	return src, nil
}

func (f *fakeStore) ListSourcesForJob(ctx context.Context, jobID string) ([]jobs.Source, error) {
	return append([]jobs.Source{}, f.sources[jobID]...), nil
}

func (f *fakeStore) UpsertSectionDraft(ctx context.Context, d jobs.SectionDraft) (jobs.SectionDraft, error) {
	if f.sections[d.JobID] == nil {
		f.sections[d.JobID] = map[string]jobs.SectionDraft{}
	}
	d.ID = f.nextID("section")
	d.UpdatedAt = time.Now().UTC()
	f.sections[d.JobID][d.SectionKey] = d
	return d, nil
}

func (f *fakeStore) ListSectionDrafts(ctx context.Context, jobID string) ([]jobs.SectionDraft, error) {
	bySectionKey := f.sections[jobID]
	out := make([]jobs.SectionDraft, 0, len(bySectionKey))
	for _, key := range jobs.SectionKeys {
		if d, ok := bySectionKey[key]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// AssignCitation and ListCitations implement ledger.Store.
func (f *fakeStore) AssignCitation(ctx context.Context, jobID, canonicalURL, title, url, rawStorageURL string) (jobs.CitationLedgerEntry, error) {
	hash := canonicalURL + "|" + title + "|" + rawStorageURL
	if f.ledgerByKey[jobID] == nil {
		f.ledgerByKey[jobID] = map[string]jobs.CitationLedgerEntry{}
	}
	if e, ok := f.ledgerByKey[jobID][hash]; ok {
		return e, nil
	}
	e := jobs.CitationLedgerEntry{
		JobID: jobID, SourceHash: hash, CitationNumber: len(f.ledger[jobID]) + 1,
		Title: title, URL: url, AccessedAt: time.Now().UTC(),
	}
	f.ledger[jobID] = append(f.ledger[jobID], e)
	f.ledgerByKey[jobID][hash] = e
	return e, nil
}

func (f *fakeStore) ListCitations(ctx context.Context, jobID string) ([]jobs.CitationLedgerEntry, error) {
	out := append([]jobs.CitationLedgerEntry{}, f.ledger[jobID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CitationNumber < out[j].CitationNumber })
	return out, nil
}

// --- gateway fakes ---------------------------------------------------------

type fakeSearcher struct {
	results []gateway.SearchResult
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int) ([]gateway.SearchResult, error) {
	return f.results, f.err
}

type fakeFetcher struct{}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (gateway.FetchResult, error) {
	return gateway.FetchResult{URL: url, Title: "Title for " + url, Content: "content about " + url}, nil
}

type fakeChat struct {
	planJSON      string
	summarizeJSON string
	synthesisText string
	criticJSON    string
}

func (f *fakeChat) Chat(ctx context.Context, messages []gateway.ChatMessage, opts gateway.ChatOptions) (string, error) {
	last := messages[len(messages)-1].Content
	switch {
	case contains(last, "Plan at most"):
		return f.planJSON, nil
	case contains(last, "page_notes"):
		return f.summarizeJSON, nil
	case contains(last, "Review this research report"):
		return f.criticJSON, nil
	default:
		return f.synthesisText, nil
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeVectorStore struct{}

func (f *fakeVectorStore) Index(ctx context.Context, id, text string, vector []float32, metadata map[string]string) error {
	return nil
}

func (f *fakeVectorStore) Query(ctx context.Context, vector []float32, k int) ([]gateway.VectorHit, error) {
	return nil, nil
}

type fakeArtifactStore struct {
	puts map[string][]byte
}

func (f *fakeArtifactStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return "https://artifacts.test/" + key, nil
}

func (f *fakeArtifactStore) GetSigned(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://artifacts.test/" + key + "?signed=1", nil
}

func testLogger() *log.Logger {
	return log.New(testWriter{}, "[TEST] ", 0)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func baseConfig() Config {
	return Config{
		MaxSteps:            3,
		MaxLLMTokens:        500,
		MaxContext:          8000,
		MaxNotesForSynth:    20,
		WarmNotesLimit:      5,
		WarmImportanceMin:   1,
		SearchResultsPerHit: 5,
	}
}

func newTestExecutor(job jobs.Job, store *fakeStore, chat *fakeChat, search gateway.Searcher) *Executor {
	mgr := ledger.New(store)
	return New(store, mgr, &fakeArtifactStore{}, artifact.NewMarkdownRenderer(),
		search, &fakeFetcher{}, chat, &fakeEmbedder{}, &fakeVectorStore{}, baseConfig(), testLogger())
}

func TestPlanFallsBackToDefaultStepOnUnparseablePlannerOutput(t *testing.T) {
	job := jobs.Job{ID: "job-1", Question: "what is happening in the market", Status: jobs.StatusRunning}
	store := newFakeStore(job)
	chat := &fakeChat{planJSON: "not json at all"}
	exec := newTestExecutor(job, store, chat, &fakeSearcher{})

	steps, err := exec.plan(context.Background(), job)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 1 || steps[0].Title != defaultStepTitle {
		t.Fatalf("expected single default step, got %+v", steps)
	}
}

func TestPlanTruncatesToMaxSteps(t *testing.T) {
	job := jobs.Job{ID: "job-1", Question: "q", Status: jobs.StatusRunning}
	store := newFakeStore(job)
	chat := &fakeChat{planJSON: `{"steps":[{"title":"a"},{"title":"b"},{"title":"c"},{"title":"d"}]}`}
	exec := newTestExecutor(job, store, chat, &fakeSearcher{})
	exec.cfg.MaxSteps = 2

	steps, err := exec.plan(context.Background(), job)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected steps truncated to 2, got %d", len(steps))
	}
}

func TestRunStepMarksPartialWhenNoSearchResults(t *testing.T) {
	job := jobs.Job{ID: "job-1", Question: "q", Status: jobs.StatusRunning}
	store := newFakeStore(job)
	step := jobs.Step{ID: "step-1", JobID: job.ID, Title: "research", StepOrder: 1}
	store.steps[job.ID] = []jobs.Step{step}
	exec := newTestExecutor(job, store, &fakeChat{}, &fakeSearcher{results: nil})

	if err := exec.runStep(context.Background(), job, step); err != nil {
		t.Fatalf("runStep: %v", err)
	}
	if store.steps[job.ID][0].Status != jobs.StepStatusPartial {
		t.Fatalf("expected step partial, got %s", store.steps[job.ID][0].Status)
	}
}

func TestRunStepCompletesAndRecordsNotesAndCitations(t *testing.T) {
	job := jobs.Job{ID: "job-1", Question: "q", Status: jobs.StatusRunning}
	store := newFakeStore(job)
	step := jobs.Step{ID: "step-1", JobID: job.ID, Title: "research", StepOrder: 1}
	store.steps[job.ID] = []jobs.Step{step}
	chat := &fakeChat{summarizeJSON: `{"page_notes":[{"content":"found something","importance":4}],"step_summary":"summary of step"}`}
	search := &fakeSearcher{results: []gateway.SearchResult{{Title: "Result", URL: "https://example.com/a", Snippet: "snip"}}}
	exec := newTestExecutor(job, store, chat, search)

	if err := exec.runStep(context.Background(), job, step); err != nil {
		t.Fatalf("runStep: %v", err)
	}
	if store.steps[job.ID][0].Status != jobs.StepStatusCompleted {
		t.Fatalf("expected step completed, got %s", store.steps[job.ID][0].Status)
	}
	if len(store.notes[job.ID]) != 2 {
		t.Fatalf("expected page note + step summary note, got %d", len(store.notes[job.ID]))
	}
	if len(store.ledger[job.ID]) != 1 {
		t.Fatalf("expected one citation assigned, got %d", len(store.ledger[job.ID]))
	}
}

func TestRunEndToEndPublishesReportWithReferences(t *testing.T) {
	job := jobs.Job{ID: "job-1", Question: "market outlook", Status: jobs.StatusRunning}
	store := newFakeStore(job)
	chat := &fakeChat{
		planJSON:      `{"steps":[{"title":"initial research","tool_hint":"searxng"}]}`,
		summarizeJSON: `{"page_notes":[{"content":"evidence one","importance":5}],"step_summary":"step done"}`,
		synthesisText: "Markets are [1] trending upward.",
		criticJSON:    `{"issues":[],"follow_up":[],"limitations":[]}`,
	}
	search := &fakeSearcher{results: []gateway.SearchResult{{Title: "Result", URL: "https://example.com/a", Snippet: "snip"}}}
	exec := newTestExecutor(job, store, chat, search)

	if err := exec.Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final := store.jobs[job.ID]
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected job completed, got %s", final.Status)
	}
	if final.FinalReport == nil {
		t.Fatalf("expected final report to be set")
	}
	if !contains(*final.FinalReport, "[1](#ref-1)") {
		t.Fatalf("expected linkified citation marker, got %s", *final.FinalReport)
	}
	if !contains(*final.FinalReport, "## References") {
		t.Fatalf("expected references section, got %s", *final.FinalReport)
	}
}

func TestRunHaltsCooperativelyWithoutRecordingError(t *testing.T) {
	job := jobs.Job{ID: "job-1", Question: "q", Status: jobs.StatusPaused}
	store := newFakeStore(job)
	exec := newTestExecutor(job, store, &fakeChat{}, &fakeSearcher{})

	err := exec.Run(context.Background(), job.ID)
	if !isControlSignal(err) {
		t.Fatalf("expected control signal, got %v", err)
	}
	if store.jobs[job.ID].Status != jobs.StatusPaused {
		t.Fatalf("expected status left untouched, got %s", store.jobs[job.ID].Status)
	}
	if store.jobs[job.ID].Error != nil {
		t.Fatalf("expected no error recorded for cooperative halt")
	}
}
