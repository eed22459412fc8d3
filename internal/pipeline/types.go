// Package pipeline implements the Pipeline Executor: the Load, Plan,
// Execute, Synthesize, Finalize phase machine that drives one job from
// queued to completed (spec.md §4.1).
package pipeline

import (
	"context"
	"log"
	"os"

	"github.com/deepresearch/orchestrator/internal/artifact"
	"github.com/deepresearch/orchestrator/internal/executor"
	"github.com/deepresearch/orchestrator/internal/gateway"
	"github.com/deepresearch/orchestrator/internal/jobs"
	"github.com/deepresearch/orchestrator/internal/ledger"
	"github.com/deepresearch/orchestrator/internal/store"
)

// Store is the subset of internal/store.Store the Pipeline Executor needs.
// Keeping it narrow lets tests substitute an in-memory fake without
// depending on *sql.DB.
type Store interface {
	GetJob(ctx context.Context, id string) (jobs.Job, error)
	Touch(ctx context.Context, jobID string) error
	SetStatus(ctx context.Context, jobID, status string) error
	SetError(ctx context.Context, jobID, message string) error
	Publish(ctx context.Context, jobID, report string, assets map[string]interface{}) error

	InsertSteps(ctx context.Context, jobID string, iteration int, titles, toolHints, themes []string) ([]jobs.Step, error)
	ListSteps(ctx context.Context, jobID string) ([]jobs.Step, error)
	SetStepStatus(ctx context.Context, stepID, status string, result map[string]interface{}) error

	InsertNote(ctx context.Context, n jobs.Note) (jobs.Note, error)
	ListNotes(ctx context.Context, jobID string) ([]jobs.Note, error)
	InsertSource(ctx context.Context, src jobs.Source) (jobs.Source, error)
	ListSourcesForJob(ctx context.Context, jobID string) ([]jobs.Source, error)

	UpsertSectionDraft(ctx context.Context, d jobs.SectionDraft) (jobs.SectionDraft, error)
	ListSectionDrafts(ctx context.Context, jobID string) ([]jobs.SectionDraft, error)
}

// Config bounds a single Pipeline Executor instance's run of one job.
type Config struct {
	MaxSteps          int
	MaxLLMTokens      int
	MaxContext        int
	MaxNotesForSynth  int
	WarmNotesLimit    int
	WarmImportanceMin int
	LongformEnabled   bool
	Temperature       float32
	SearchResultsPerHit int
}

// SynthesisBudget mirrors config.JobEngineConfig.SynthesisBudget: the token
// ceiling the Context Packer packs notes under.
func (c Config) SynthesisBudget() int {
	budget := c.MaxContext - 2000 - c.MaxLLMTokens
	if budget < 0 {
		return 0
	}
	return budget
}

// Executor drives a single job through every phase (spec.md §4.1). Each
// instance is safe to run concurrently on distinct jobs only; one instance
// runs one job's Run call to completion before returning.
type Executor struct {
	store    Store
	ledger   *ledger.Manager
	artifact artifact.Store
	renderer artifact.Renderer
	search   gateway.Searcher
	fetch    gateway.Fetcher
	chat     gateway.ChatClient
	embed    gateway.Embedder
	vectors  gateway.VectorStore
	exec     *executor.Executor
	cfg      Config
	logger   *log.Logger
}

// New builds a Pipeline Executor. logger defaults to a [PIPELINE]-tagged
// stdlib logger matching the rest of the engine's tagged-log convention. If
// st also implements executor.NewStoreCheckpointManager's narrow store
// interface (the concrete internal/store.Store always does), the Execute
// phase's generic DAG executor records a checkpoint row for every step
// through it; otherwise it falls back to the no-op manager. Resuming a
// crashed Execute phase does not read these rows: it skips steps whose
// status is already completed or partial.
func New(st Store, lg *ledger.Manager, art artifact.Store, renderer artifact.Renderer,
	search gateway.Searcher, fetch gateway.Fetcher, chat gateway.ChatClient, embed gateway.Embedder,
	vectors gateway.VectorStore, cfg Config, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(os.Stderr, "[PIPELINE] ", log.LstdFlags)
	}
	var execOpts []executor.Option
	if cs, ok := st.(checkpointStore); ok {
		execOpts = append(execOpts, executor.WithCheckpointManager(executor.NewStoreCheckpointManager(cs)))
	}
	return &Executor{
		store:    st,
		ledger:   lg,
		artifact: art,
		renderer: renderer,
		search:   search,
		fetch:    fetch,
		chat:     chat,
		embed:    embed,
		vectors:  vectors,
		exec:     executor.New(execOpts...),
		cfg:      cfg,
		logger:   logger,
	}
}

// checkpointStore mirrors internal/executor's unexported checkpointStore
// interface so New can detect, via a type assertion, whether the injected
// Store also supports checkpoint persistence. The concrete
// internal/store.Store always does; a test fake that only implements the
// narrow pipeline.Store interface does not, and New falls back to the
// executor's no-op checkpoint manager for it.
type checkpointStore interface {
	UpsertCheckpoint(ctx context.Context, cp store.Checkpoint) error
	MarkCheckpointStatus(ctx context.Context, runID, stage, status string) error
}
