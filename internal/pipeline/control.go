package pipeline

import (
	"context"
	"fmt"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

// HaltKind names why a run stopped cooperatively rather than completing
// (spec.md §4.1, §9: cooperative cancellation is a typed signal, not a
// generic exception).
type HaltKind string

const (
	HaltPaused                 HaltKind = "paused"
	HaltCancelled              HaltKind = "cancelled"
	HaltClarificationRequired  HaltKind = "clarification_required"
)

// ControlSignal is raised at a cooperative control check and propagated up
// to the outer Run frame without being treated as a failure.
type ControlSignal struct {
	Kind  HaltKind
	JobID string
}

func (c *ControlSignal) Error() string {
	return fmt.Sprintf("pipeline: job %s halted (%s)", c.JobID, c.Kind)
}

// checkControl loads the current job status and raises a ControlSignal if
// a control-plane actor has paused, cancelled, or clarification-gated the
// job since the last check. Every phase boundary, and the gap between
// steps and between sections, calls this (spec.md §4.1, §5).
func (p *Executor) checkControl(ctx context.Context, jobID string) error {
	j, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("control check: %w", err)
	}
	switch j.Status {
	case jobs.StatusPaused:
		return &ControlSignal{Kind: HaltPaused, JobID: jobID}
	case jobs.StatusCancelled:
		return &ControlSignal{Kind: HaltCancelled, JobID: jobID}
	case jobs.StatusClarificationRequired:
		return &ControlSignal{Kind: HaltClarificationRequired, JobID: jobID}
	}
	return nil
}
