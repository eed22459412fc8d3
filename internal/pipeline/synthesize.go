package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/deepresearch/orchestrator/internal/gateway"
	"github.com/deepresearch/orchestrator/internal/helpers"
	"github.com/deepresearch/orchestrator/internal/jobs"
	"github.com/deepresearch/orchestrator/internal/packer"
)

// sectionRoleAllowList maps each longform section to the note roles it may
// draw from (spec.md §4.1 Synthesize, longform mode).
var sectionRoleAllowList = map[string][]string{
	jobs.SectionExecutiveSummary: {jobs.RoleStepSummary, jobs.RoleCrossJobSummary},
	jobs.SectionBackground:       {jobs.RolePageSummary, jobs.RoleCrossJobSummary},
	jobs.SectionAnalysis:         {jobs.RolePageSummary, jobs.RoleStepSummary},
	jobs.SectionRecommendations:  {jobs.RoleStepSummary, jobs.RoleCriticNote},
}

type criticOutput struct {
	Issues      []string `json:"issues"`
	FollowUp    []string `json:"follow_up"`
	Limitations []string `json:"limitations"`
}

// synthesizeResult carries the drafted report body out of the Synthesize
// phase for Finalize to linkify and publish.
type synthesizeResult struct {
	Report string
}

// synthesize runs the Synthesize phase: gather every note, pack the
// highest-value subset under the configured budget, draft either a single
// classic-mode report or one longform section per allow-listed theme, then
// run the critic pass over the draft (spec.md §4.1 Synthesize).
func (p *Executor) synthesize(ctx context.Context, job jobs.Job) (synthesizeResult, error) {
	notes, err := p.store.ListNotes(ctx, job.ID)
	if err != nil {
		return synthesizeResult{}, fmt.Errorf("synthesize: list notes: %w", err)
	}

	budget := p.cfg.SynthesisBudget()
	packed := packer.Pack(notes, budget, p.cfg.MaxNotesForSynth)

	var report string
	if p.cfg.LongformEnabled {
		report, err = p.synthesizeLongform(ctx, job, packed)
	} else {
		report, err = p.synthesizeClassic(ctx, job, packed)
	}
	if err != nil {
		return synthesizeResult{}, err
	}

	report = p.runCritic(ctx, job, report, packed)

	if err := p.store.Touch(ctx, job.ID); err != nil {
		return synthesizeResult{}, fmt.Errorf("synthesize: touch: %w", err)
	}
	return synthesizeResult{Report: report}, nil
}

func (p *Executor) synthesizeClassic(ctx context.Context, job jobs.Job, notes []jobs.Note) (string, error) {
	prompt := buildSynthesisPrompt(job.Question, notes)
	text, err := p.chat.Chat(ctx, []gateway.ChatMessage{
		{Role: "system", Content: "You write a thorough research report citing sources with [n] markers that match the numbered notes given."},
		{Role: "user", Content: prompt},
	}, gateway.ChatOptions{MaxTokens: p.cfg.MaxLLMTokens, Temperature: p.cfg.Temperature})
	if err != nil {
		return "", fmt.Errorf("synthesis call: %w", err)
	}
	return text, nil
}

// synthesizeLongform drafts one section per jobs.SectionKeys, each from its
// own allow-listed, ordered, capped note subset, persists it as a
// completed Section Draft, then concatenates sections with a bridging
// blank line (spec.md §4.1 Synthesize, longform mode).
func (p *Executor) synthesizeLongform(ctx context.Context, job jobs.Job, notes []jobs.Note) (string, error) {
	perSection := len(notes)/len(jobs.SectionKeys) + 1

	var sections []string
	for _, key := range jobs.SectionKeys {
		if err := p.checkControl(ctx, job.ID); err != nil {
			return "", err
		}

		allowed := allowListForSection(key, notes, perSection)
		citationMap, numbers := p.citationMapFor(ctx, job.ID, allowed)
		prompt := buildSectionPrompt(job.Question, key, allowed, numbers)
		text, err := p.chat.Chat(ctx, []gateway.ChatMessage{
			{Role: "system", Content: fmt.Sprintf("You draft the %s section of a research report, citing sources with [n] markers.", key)},
			{Role: "user", Content: prompt},
		}, gateway.ChatOptions{MaxTokens: p.cfg.MaxLLMTokens, Temperature: p.cfg.Temperature})
		if err != nil {
			p.logger.Printf("job %s section %s draft failed: %v", job.ID, key, err)
			text = ""
		}
		draft, err := p.store.UpsertSectionDraft(ctx, jobs.SectionDraft{
			JobID:       job.ID,
			SectionKey:  key,
			Status:      jobs.SectionDraftCompleted,
			Tokens:      packer.EstimateTokens(text),
			Content:     text,
			CitationMap: citationMap,
		})
		if err != nil {
			return "", fmt.Errorf("upsert section draft %s: %w", key, err)
		}
		if draft.Content != "" {
			sections = append(sections, fmt.Sprintf("## %s\n\n%s", sectionHeading(key), draft.Content))
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

// allowListForSection selects the notes whose role is in key's allow-list,
// sorts them by (importance desc, token_count desc), and caps the result at
// perSection (spec.md §4.1 Synthesize, longform mode).
func allowListForSection(key string, notes []jobs.Note, perSection int) []jobs.Note {
	allowedRoles := sectionRoleAllowList[key]
	out := make([]jobs.Note, 0, len(notes))
	for _, n := range notes {
		if roleAllowed(n.Role, allowedRoles) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].TokenCount > out[j].TokenCount
	})
	if len(out) > perSection {
		out = out[:perSection]
	}
	return out
}

func roleAllowed(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// citationMapFor assigns each cited note a dense citation number through
// the Ledger Manager, reusing the number already assigned during Execute
// when the note's source was first fetched: it cites with the same URL,
// title and raw storage URL as the note's recorded Source, so the source
// hash matches Execute's. Notes with no source (step summaries,
// critic notes) carry no citation marker. It returns both the persisted
// SectionCitationMap and a note-id -> citation-number lookup for
// buildSectionPrompt to render markers with.
func (p *Executor) citationMapFor(ctx context.Context, jobID string, notes []jobs.Note) ([]jobs.SectionCitationMap, map[string]int) {
	out := make([]jobs.SectionCitationMap, 0, len(notes))
	numbers := make(map[string]int, len(notes))
	sourcesByNote := map[string]jobs.Source{}
	if sources, err := p.store.ListSourcesForJob(ctx, jobID); err != nil {
		p.logger.Printf("job %s list sources for section citations failed: %v", jobID, err)
	} else {
		for _, s := range sources {
			sourcesByNote[s.NoteID] = s
		}
	}
	for _, n := range notes {
		if n.SourceURL == "" {
			continue
		}
		src := sourcesByNote[n.ID]
		entry, err := p.ledger.Cite(ctx, jobID, n.SourceURL, src.Title, n.SourceURL, src.RawStorageURL)
		if err != nil {
			p.logger.Printf("job %s section citation failed for note %s: %v", jobID, n.ID, err)
			continue
		}
		numbers[n.ID] = entry.CitationNumber
		out = append(out, jobs.SectionCitationMap{NoteID: n.ID, CitationNumbers: []int{entry.CitationNumber}})
	}
	return out, numbers
}

func sectionHeading(key string) string {
	switch key {
	case jobs.SectionExecutiveSummary:
		return "Executive Summary"
	case jobs.SectionBackground:
		return "Background"
	case jobs.SectionAnalysis:
		return "Analysis"
	case jobs.SectionRecommendations:
		return "Recommendations"
	default:
		return key
	}
}

func buildSynthesisPrompt(question string, notes []jobs.Note) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n\nNotes:\n", question)
	for i, n := range notes {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, n.Content)
	}
	return b.String()
}

func buildSectionPrompt(question, sectionKey string, notes []jobs.Note, numbers map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\nSection: %s\n\nNotes:\n", question, sectionKey)
	for _, n := range notes {
		if num, ok := numbers[n.ID]; ok {
			fmt.Fprintf(&b, "[%d] %s\n", num, n.Content)
		} else {
			fmt.Fprintf(&b, "- %s\n", n.Content)
		}
	}
	return b.String()
}

// runCritic asks the critic LLM to review the draft and appends a
// "Limitations & Critic Notes" block when it raises anything, regardless
// of synthesis mode (spec.md §4.1).
func (p *Executor) runCritic(ctx context.Context, job jobs.Job, report string, notes []jobs.Note) string {
	prompt := fmt.Sprintf("Review this research report for gaps, unsupported claims, or missing angles.\n\nReport:\n%s\n\nRespond with JSON: {\"issues\":[...],\"follow_up\":[...],\"limitations\":[...]}", report)
	text, err := p.chat.Chat(ctx, []gateway.ChatMessage{
		{Role: "system", Content: "You are a critical reviewer. Respond with JSON only."},
		{Role: "user", Content: prompt},
	}, gateway.ChatOptions{MaxTokens: p.cfg.MaxLLMTokens, Temperature: p.cfg.Temperature})
	if err != nil {
		p.logger.Printf("job %s critic call failed: %v", job.ID, err)
		return report
	}

	var out criticOutput
	if raw, extractErr := helpers.ExtractJSON(text); extractErr == nil {
		if validateErr := jobs.ValidateCriticOutput([]byte(raw)); validateErr != nil {
			p.logger.Printf("job %s critic response failed schema validation, ignoring: %v", job.ID, validateErr)
		} else {
			_ = json.Unmarshal([]byte(raw), &out)
		}
	}

	if len(out.Issues) == 0 && len(out.FollowUp) == 0 && len(out.Limitations) == 0 {
		return report
	}

	if content := criticNoteContent(out); content != "" {
		if _, err := p.store.InsertNote(ctx, jobs.Note{
			JobID:      job.ID,
			Role:       jobs.RoleCriticNote,
			Importance: jobs.ClampImportance(3),
			TokenCount: packer.EstimateTokens(content),
			Content:    content,
		}); err != nil {
			p.logger.Printf("job %s insert critic note failed: %v", job.ID, err)
		}
	}

	var b strings.Builder
	b.WriteString(report)
	b.WriteString("\n\n## Limitations & Critic Notes\n\n")
	for _, issue := range out.Issues {
		fmt.Fprintf(&b, "- Issue: %s\n", issue)
	}
	for _, f := range out.FollowUp {
		fmt.Fprintf(&b, "- Follow-up: %s\n", f)
	}
	for _, l := range out.Limitations {
		fmt.Fprintf(&b, "- Limitation: %s\n", l)
	}
	return b.String()
}

func criticNoteContent(out criticOutput) string {
	if len(out.Issues) == 0 && len(out.FollowUp) == 0 && len(out.Limitations) == 0 {
		return ""
	}
	payload, _ := json.Marshal(out)
	return string(payload)
}
