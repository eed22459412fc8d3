package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deepresearch/orchestrator/internal/metrics"
)

// Run drives one job through Load, Plan/Resume, Execute, Synthesize,
// Finalize (spec.md §4.1). It is the only frame that catches a
// ControlSignal: every inner phase propagates one straight up rather than
// treating it as failure, so a paused or cancelled job halts silently with
// no status overwrite and no error recorded (spec.md §5, §7, §9).
func (p *Executor) Run(ctx context.Context, jobID string) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline run: load job: %w", err)
	}

	if err := p.checkControl(ctx, job.ID); err != nil {
		return p.handleHalt(job.ID, err)
	}

	steps, err := p.plan(ctx, job)
	if err != nil {
		return p.fail(ctx, job.ID, err)
	}

	if err := p.checkControl(ctx, job.ID); err != nil {
		return p.handleHalt(job.ID, err)
	}

	if err := p.execute(ctx, job, steps); err != nil {
		if isControlSignal(err) {
			return p.handleHalt(job.ID, err)
		}
		return p.fail(ctx, job.ID, err)
	}

	if err := p.checkControl(ctx, job.ID); err != nil {
		return p.handleHalt(job.ID, err)
	}

	draft, err := p.synthesize(ctx, job)
	if err != nil {
		if isControlSignal(err) {
			return p.handleHalt(job.ID, err)
		}
		return p.fail(ctx, job.ID, err)
	}

	if err := p.checkControl(ctx, job.ID); err != nil {
		return p.handleHalt(job.ID, err)
	}

	if err := p.finalize(ctx, job, draft); err != nil {
		return p.fail(ctx, job.ID, err)
	}

	metrics.RecordJobFinished(ctx, "completed", jobDurationSeconds(job.StartedAt))
	return nil
}

// jobDurationSeconds returns the elapsed time since the job started, or 0
// if the job never recorded a start time.
func jobDurationSeconds(startedAt *time.Time) float64 {
	if startedAt == nil {
		return 0
	}
	return time.Since(*startedAt).Seconds()
}

func isControlSignal(err error) bool {
	var sig *ControlSignal
	return errors.As(err, &sig)
}

// handleHalt logs a cooperative halt and returns it to the caller
// unchanged; it never touches job.status since a pause/cancel/
// clarification transition is the control plane's responsibility, not the
// executor's (spec.md §5's Open Question resolution).
func (p *Executor) handleHalt(jobID string, err error) error {
	var sig *ControlSignal
	if errors.As(err, &sig) {
		p.logger.Printf("job %s halted cooperatively: %s", jobID, sig.Kind)
	}
	return err
}

// fail records a fatal, non-cooperative error as job.status=error — the
// only fatal case in spec.md §7's error taxonomy (durable-store failure).
func (p *Executor) fail(ctx context.Context, jobID string, cause error) error {
	p.logger.Printf("job %s failed: %v", jobID, cause)
	if err := p.store.SetError(ctx, jobID, cause.Error()); err != nil {
		p.logger.Printf("job %s failed to record error status: %v", jobID, err)
	}
	metrics.RecordJobFinished(ctx, "error", 0)
	return cause
}
