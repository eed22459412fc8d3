// Package metrics exposes the job engine's OpenTelemetry instrumentation
// points, grounded on the teacher's queue/streams/metrics.go lazy-meter
// pattern (a package-level sync.Once guarding counter/histogram
// construction so callers never need an explicit Init call).
package metrics

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	once sync.Once

	jobsClaimed    otelmetric.Int64Counter
	jobsCompleted  otelmetric.Int64Counter
	jobsFailed     otelmetric.Int64Counter
	jobsRescued    otelmetric.Int64Counter
	jobDuration    otelmetric.Float64Histogram
	stepsExecuted  otelmetric.Int64Counter
	citationsAdded otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("orchestrator/pipeline")
	var err error

	jobsClaimed, err = meter.Int64Counter("jobs_claimed_total",
		otelmetric.WithDescription("Jobs claimed from the durable store by a worker"))
	logInitErr("jobs_claimed_total", err)

	jobsCompleted, err = meter.Int64Counter("jobs_completed_total",
		otelmetric.WithDescription("Jobs that reached status=completed"))
	logInitErr("jobs_completed_total", err)

	jobsFailed, err = meter.Int64Counter("jobs_failed_total",
		otelmetric.WithDescription("Jobs that reached status=error"))
	logInitErr("jobs_failed_total", err)

	jobsRescued, err = meter.Int64Counter("jobs_rescued_total",
		otelmetric.WithDescription("Jobs requeued by the rescue sweeper"))
	logInitErr("jobs_rescued_total", err)

	jobDuration, err = meter.Float64Histogram("job_duration_seconds",
		otelmetric.WithDescription("Wall-clock duration of a completed or failed job run"),
		otelmetric.WithUnit("s"))
	logInitErr("job_duration_seconds", err)

	stepsExecuted, err = meter.Int64Counter("steps_executed_total",
		otelmetric.WithDescription("Steps the Execute phase ran to completion or partial"))
	logInitErr("steps_executed_total", err)

	citationsAdded, err = meter.Int64Counter("citations_added_total",
		otelmetric.WithDescription("Successful citation assignments in the Execute phase, including reuse of an existing ledger entry"))
	logInitErr("citations_added_total", err)
}

func logInitErr(name string, err error) {
	if err != nil {
		log.Printf("metrics init: %s: %v", name, err)
	}
}

// RecordJobClaimed increments the claimed-job counter.
func RecordJobClaimed(ctx context.Context) {
	once.Do(initMetrics)
	if jobsClaimed != nil {
		jobsClaimed.Add(ctx, 1)
	}
}

// RecordJobFinished increments the completed or failed counter and records
// the run's wall-clock duration, keyed by terminal status.
func RecordJobFinished(ctx context.Context, status string, durationSeconds float64) {
	once.Do(initMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("status", status))
	switch status {
	case "completed":
		if jobsCompleted != nil {
			jobsCompleted.Add(ctx, 1)
		}
	case "error":
		if jobsFailed != nil {
			jobsFailed.Add(ctx, 1)
		}
	}
	if jobDuration != nil {
		jobDuration.Record(ctx, durationSeconds, attrs)
	}
}

// RecordJobRescued increments the rescued-job counter.
func RecordJobRescued(ctx context.Context) {
	once.Do(initMetrics)
	if jobsRescued != nil {
		jobsRescued.Add(ctx, 1)
	}
}

// RecordStepExecuted increments the step counter, keyed by terminal status.
func RecordStepExecuted(ctx context.Context, status string) {
	once.Do(initMetrics)
	if stepsExecuted != nil {
		stepsExecuted.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordCitationAdded increments the citation counter.
func RecordCitationAdded(ctx context.Context) {
	once.Do(initMetrics)
	if citationsAdded != nil {
		citationsAdded.Add(ctx, 1)
	}
}
