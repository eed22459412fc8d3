// Package claim wraps the durable store's exclusive job-claim query behind
// a small interface so the worker's poll loop and its tests don't depend
// on *sql.DB directly.
package claim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

// Store is the subset of internal/store.Store the Claimer needs.
type Store interface {
	ClaimNextQueued(ctx context.Context) (jobs.Job, error)
}

// ErrNone is returned when no queued job is currently available. Wraps
// sql.ErrNoRows so callers can still errors.Is against the stdlib sentinel.
var ErrNone = fmt.Errorf("claim: no queued job available: %w", sql.ErrNoRows)

// Claimer exclusively hands one queued job at a time to a worker.
type Claimer struct {
	store Store
}

// New constructs a Claimer around a durable store.
func New(store Store) *Claimer {
	return &Claimer{store: store}
}

// Next claims the oldest queued job, or ErrNone if the queue is empty.
func (c *Claimer) Next(ctx context.Context) (jobs.Job, error) {
	j, err := c.store.ClaimNextQueued(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Job{}, ErrNone
		}
		return jobs.Job{}, err
	}
	return j, nil
}
