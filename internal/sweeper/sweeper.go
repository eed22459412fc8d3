// Package sweeper implements the Rescue Sweeper (spec.md §4.5): a
// periodic scan that requeues jobs whose worker has gone silent, whether it
// died before inserting a single step or stopped heartbeating mid-run.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/deepresearch/orchestrator/internal/metrics"
	"github.com/deepresearch/orchestrator/internal/store"
)

// Store is the subset of internal/store.Store the sweeper needs.
type Store interface {
	ListStaleRunning(ctx context.Context, startThresholdSeconds, heartbeatThresholdSeconds, graceSeconds int) ([]store.StaleJob, error)
	RescueJobs(ctx context.Context, jobIDs []string) error
}

// Notifier is told about every job the sweeper rescues, so a caller can
// publish a job.rescued event (internal/queue/streams) without the sweeper
// itself depending on Redis.
type Notifier interface {
	NotifyRescued(ctx context.Context, jobID string)
}

// Config holds the sweeper's three thresholds, sourced from
// JobEngineConfig.Rescue (config.RescueConfig).
type Config struct {
	StartThresholdSeconds     int
	HeartbeatThresholdSeconds int
	GraceSeconds              int
}

// Sweeper periodically rescues stale running jobs.
type Sweeper struct {
	store    Store
	cfg      Config
	notifier Notifier
	logger   *log.Logger
}

// New constructs a Sweeper. notifier and logger may be nil.
func New(store Store, cfg Config, notifier Notifier, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{store: store, cfg: cfg, notifier: notifier, logger: logger}
}

// Sweep runs one detection-and-rescue pass, returning the ids it requeued.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	stale, err := s.store.ListStaleRunning(ctx, s.cfg.StartThresholdSeconds, s.cfg.HeartbeatThresholdSeconds, s.cfg.GraceSeconds)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(stale))
	for _, j := range stale {
		ids = append(ids, j.ID)
	}
	if err := s.store.RescueJobs(ctx, ids); err != nil {
		return nil, err
	}

	for _, j := range stale {
		reason := "no steps inserted before start threshold"
		if j.HasSteps {
			reason = "no heartbeat before threshold"
		}
		s.logger.Printf("rescued job %s: %s (silent for %s)", j.ID, reason, j.SilentFor.Round(time.Second))
		metrics.RecordJobRescued(ctx)
		if s.notifier != nil {
			s.notifier.NotifyRescued(ctx, j.ID)
		}
	}
	return ids, nil
}

// Run ticks Sweep on the given interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Printf("sweep error: %v", err)
			}
		}
	}
}
