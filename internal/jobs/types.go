// Package jobs holds the durable domain model shared by the store, the
// pipeline executor, and the gateway adapters: jobs, steps, notes, sources,
// citation ledger entries, and section drafts.
package jobs

import "time"

// Job status values. See the state machine in internal/pipeline.
const (
	StatusQueued                = "queued"
	StatusRunning                = "running"
	StatusPaused                 = "paused"
	StatusCancelled              = "cancelled"
	StatusCompleted              = "completed"
	StatusError                  = "error"
	StatusClarificationRequired  = "clarification_required"
)

// Step status values.
const (
	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusPartial   = "partial"
	StepStatusError     = "error"
)

// Note roles.
const (
	RoleStepSummary     = "step_summary"
	RolePageSummary     = "page_summary"
	RoleCriticNote      = "critic_note"
	RoleCrossJobSummary = "cross_job_summary"
)

// Section draft keys. Order matters: it is the order sections are
// concatenated in longform synthesis.
const (
	SectionExecutiveSummary = "executive_summary"
	SectionBackground       = "background"
	SectionAnalysis         = "analysis"
	SectionRecommendations  = "recommendations"
)

// SectionKeys lists the fixed set of section drafts in report order.
var SectionKeys = []string{
	SectionExecutiveSummary,
	SectionBackground,
	SectionAnalysis,
	SectionRecommendations,
}

// SectionDraftStatus values.
const (
	SectionDraftPending   = "pending"
	SectionDraftCompleted = "completed"
)

// RequiredClarificationKeys are the metadata keys the intake contract
// (spec.md §6) requires before a job may leave clarification_required.
var RequiredClarificationKeys = []string{
	"time_horizon",
	"region_focus",
	"data_modalities",
	"integration_targets",
	"quality_constraints",
}

// MissingClarificationKeys returns which of RequiredClarificationKeys are
// absent or blank in metadata.
func MissingClarificationKeys(metadata map[string]interface{}) []string {
	var missing []string
	for _, key := range RequiredClarificationKeys {
		v, ok := metadata[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		s, ok := v.(string)
		if ok && s == "" {
			missing = append(missing, key)
			continue
		}
		if v == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// Options captures the recognized per-job knobs from spec.md §3.
type Options struct {
	Depth             string   `json:"depth,omitempty"`
	MaxSteps          int      `json:"max_steps,omitempty"`
	MaxDurationSeconds int64   `json:"max_duration_seconds,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}

// Job is the top-level unit of work driven by the Pipeline Executor.
type Job struct {
	ID            string
	Question      string
	Options       Options
	Metadata      map[string]interface{}
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastHeartbeat time.Time
	FinalReport   *string
	ReportAssets  map[string]interface{}
	Error         *string
}

// Step is one investigative unit within a Job's plan.
type Step struct {
	ID         string
	JobID      string
	Title      string
	ToolHint   string
	Status     string
	StepOrder  int
	Theme      string
	Iteration  int
	Result     map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Note is an append-only unit of evidence or commentary attached to a job
// and, optionally, one of its steps.
type Note struct {
	ID         string
	JobID      string
	StepID     *string
	Role       string
	Importance int
	TokenCount int
	Content    string
	SourceURL  string
	CreatedAt  time.Time
}

// Source is a citable document a Note was derived from.
type Source struct {
	ID             string
	NoteID         string
	URL            string
	Title          string
	Snippet        string
	RawStorageURL  string
	CreatedAt      time.Time
}

// CitationLedgerEntry is a dense, per-job, deduplicated citation slot.
type CitationLedgerEntry struct {
	ID             string
	JobID          string
	SourceHash     string
	CitationNumber int
	Title          string
	URL            string
	AccessedAt     time.Time
}

// SectionCitationMap records which citation numbers a note contributed to a
// section draft.
type SectionCitationMap struct {
	NoteID          string `json:"note_id"`
	CitationNumbers []int  `json:"citation_numbers"`
}

// SectionDraft is a persisted fragment of the final report.
type SectionDraft struct {
	ID          string
	JobID       string
	SectionKey  string
	Status      string
	Tokens      int
	Content     string
	CitationMap []SectionCitationMap
	UpdatedAt   time.Time
}

// ClampImportance enforces the [1,5] invariant from spec.md §3: zero or
// negative values default to 3 and values above 5 are capped at 5.
func ClampImportance(v int) int {
	if v <= 0 {
		return 3
	}
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}
