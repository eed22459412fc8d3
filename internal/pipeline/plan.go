package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/deepresearch/orchestrator/internal/gateway"
	"github.com/deepresearch/orchestrator/internal/helpers"
	"github.com/deepresearch/orchestrator/internal/jobs"
)

// plannedStep is one entry of the planner LLM's step list.
type plannedStep struct {
	Title    string `json:"title"`
	ToolHint string `json:"tool_hint"`
	Theme    string `json:"theme"`
}

type plannerOutput struct {
	Steps []plannedStep `json:"steps"`
}

const defaultStepTitle = "Perform initial web research"
const defaultStepToolHint = "searxng"

// plan runs the Plan phase: it assembles prior context (cross-job warm
// notes plus, on resume, this job's own prior step/cross-job summaries),
// asks the planner LLM for an ordered step list, truncates it to
// max_steps, and persists it. An unparseable planner response degrades to
// a single default research step rather than failing the job (spec.md
// §4.1 Plan, §7, scenario S6).
func (p *Executor) plan(ctx context.Context, job jobs.Job) ([]jobs.Step, error) {
	existing, err := p.store.ListSteps(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("plan: list existing steps: %w", err)
	}
	if len(existing) > 0 {
		p.logger.Printf("job %s already has %d steps, skipping planning", job.ID, len(existing))
		return existing, nil
	}

	priorContext := p.assemblePriorContext(ctx, job)

	titles, hints, themes := p.callPlanner(ctx, job, priorContext)

	if len(titles) > p.cfg.MaxSteps {
		titles = titles[:p.cfg.MaxSteps]
		hints = hints[:p.cfg.MaxSteps]
		themes = themes[:p.cfg.MaxSteps]
	}

	steps, err := p.store.InsertSteps(ctx, job.ID, 1, titles, hints, themes)
	if err != nil {
		return nil, fmt.Errorf("plan: insert steps: %w", err)
	}
	if err := p.store.Touch(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("plan: touch: %w", err)
	}
	return steps, nil
}

// callPlanner invokes the planner LLM and falls back to one default step
// when the response can't be parsed as a step list.
func (p *Executor) callPlanner(ctx context.Context, job jobs.Job, priorContext string) (titles, hints, themes []string) {
	prompt := buildPlannerPrompt(job.Question, priorContext, p.cfg.MaxSteps)
	text, err := p.chat.Chat(ctx, []gateway.ChatMessage{
		{Role: "system", Content: "You are a research planner. Respond with JSON only: {\"steps\":[{\"title\":...,\"tool_hint\":...,\"theme\":...}]}."},
		{Role: "user", Content: prompt},
	}, gateway.ChatOptions{MaxTokens: p.cfg.MaxLLMTokens, Temperature: p.cfg.Temperature})
	if err != nil {
		p.logger.Printf("job %s planner call failed, falling back to default step: %v", job.ID, err)
		return []string{defaultStepTitle}, []string{defaultStepToolHint}, []string{""}
	}

	raw, err := helpers.ExtractJSON(text)
	if err != nil {
		p.logger.Printf("job %s planner response had no JSON, falling back to default step", job.ID)
		return []string{defaultStepTitle}, []string{defaultStepToolHint}, []string{""}
	}
	if err := jobs.ValidatePlannerOutput([]byte(raw)); err != nil {
		p.logger.Printf("job %s planner response failed schema validation, falling back to default step: %v", job.ID, err)
		return []string{defaultStepTitle}, []string{defaultStepToolHint}, []string{""}
	}

	var out plannerOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil || len(out.Steps) == 0 {
		p.logger.Printf("job %s planner response unparseable, falling back to default step", job.ID)
		return []string{defaultStepTitle}, []string{defaultStepToolHint}, []string{""}
	}

	for _, s := range out.Steps {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		titles = append(titles, s.Title)
		hints = append(hints, s.ToolHint)
		themes = append(themes, s.Theme)
	}
	if len(titles) == 0 {
		return []string{defaultStepTitle}, []string{defaultStepToolHint}, []string{""}
	}
	return titles, hints, themes
}

func buildPlannerPrompt(question, priorContext string, maxSteps int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", question)
	fmt.Fprintf(&b, "Plan at most %d investigative steps.\n", maxSteps)
	if priorContext != "" {
		b.WriteString("Prior context:\n")
		b.WriteString(priorContext)
		b.WriteString("\n")
	}
	return b.String()
}

// assemblePriorContext gathers this job's own step/cross-job summaries (on
// resume) and warm notes surfaced from the vector collaborator by
// similarity to the question, degrading gracefully if the vector store is
// unavailable (spec.md §9).
func (p *Executor) assemblePriorContext(ctx context.Context, job jobs.Job) string {
	var b strings.Builder

	notes, err := p.store.ListNotes(ctx, job.ID)
	if err == nil {
		for _, n := range notes {
			if n.Role == jobs.RoleStepSummary || n.Role == jobs.RoleCrossJobSummary {
				fmt.Fprintf(&b, "- %s\n", n.Content)
			}
		}
	}

	if p.embed == nil || p.vectors == nil || p.cfg.WarmNotesLimit <= 0 {
		return b.String()
	}
	vec, err := p.embed.Embed(ctx, job.Question)
	if err != nil {
		p.logger.Printf("job %s warm-note embedding failed, continuing without warm context: %v", job.ID, err)
		return b.String()
	}
	hits, err := p.vectors.Query(ctx, vec, p.cfg.WarmNotesLimit)
	if err != nil {
		p.logger.Printf("job %s warm-note query failed, continuing without warm context: %v", job.ID, err)
		return b.String()
	}
	for _, h := range hits {
		meta := p.metadataFor(h.ID)
		if imp, ok := meta["importance"]; ok {
			if n, convErr := strconv.Atoi(imp); convErr == nil && n < p.cfg.WarmImportanceMin {
				continue
			}
		}
		if content, ok := meta["content"]; ok {
			fmt.Fprintf(&b, "- (warm) %s\n", content)
		}
	}
	return b.String()
}

func (p *Executor) metadataFor(id string) map[string]string {
	type metaLookup interface {
		Metadata(id string) map[string]string
	}
	if m, ok := p.vectors.(metaLookup); ok {
		return m.Metadata(id)
	}
	return nil
}
