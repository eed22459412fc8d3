package claim

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/deepresearch/orchestrator/internal/jobs"
)

type stubStore struct {
	job jobs.Job
	err error
}

func (s *stubStore) ClaimNextQueued(ctx context.Context) (jobs.Job, error) {
	return s.job, s.err
}

func TestClaimerNextReturnsJob(t *testing.T) {
	want := jobs.Job{ID: "job-1", Status: jobs.StatusRunning}
	c := New(&stubStore{job: want})

	got, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("got job %q, want %q", got.ID, want.ID)
	}
}

func TestClaimerNextTranslatesNoRows(t *testing.T) {
	c := New(&stubStore{err: sql.ErrNoRows})

	_, err := c.Next(context.Background())
	if !errors.Is(err, ErrNone) {
		t.Fatalf("expected ErrNone, got %v", err)
	}
}

func TestClaimerNextPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	c := New(&stubStore{err: boom})

	_, err := c.Next(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
