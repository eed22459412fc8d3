package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestListStaleRunningFlagsJobWithNoStepsPastStartThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	started := time.Now().UTC().Add(-10 * time.Minute)
	rows := sqlmock.NewRows([]string{"id", "options", "started_at", "updated_at", "last_heartbeat", "has_steps"}).
		AddRow("job-1", []byte(`{}`), started, started, started, false)
	mock.ExpectQuery("SELECT j.id, j.options").WillReturnRows(rows)

	st := New(db)
	stale, err := st.ListStaleRunning(context.Background(), 60, 120, 30)
	if err != nil {
		t.Fatalf("list stale running: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "job-1" || stale[0].HasSteps {
		t.Fatalf("expected job-1 flagged stale with no steps, got %+v", stale)
	}
}

func TestListStaleRunningSkipsJobWithinStartThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	started := time.Now().UTC().Add(-5 * time.Second)
	rows := sqlmock.NewRows([]string{"id", "options", "started_at", "updated_at", "last_heartbeat", "has_steps"}).
		AddRow("job-1", []byte(`{}`), started, started, started, false)
	mock.ExpectQuery("SELECT j.id, j.options").WillReturnRows(rows)

	st := New(db)
	stale, err := st.ListStaleRunning(context.Background(), 60, 120, 30)
	if err != nil {
		t.Fatalf("list stale running: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("expected no stale jobs, got %+v", stale)
	}
}

func TestListStaleRunningUsesBudgetThresholdWhenTighter(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	lastSeen := time.Now().UTC().Add(-100 * time.Second)
	started := lastSeen.Add(-1 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "options", "started_at", "updated_at", "last_heartbeat", "has_steps"}).
		AddRow("job-1", []byte(`{"max_duration_seconds":60}`), started, lastSeen, lastSeen, true)
	mock.ExpectQuery("SELECT j.id, j.options").WillReturnRows(rows)

	st := New(db)
	stale, err := st.ListStaleRunning(context.Background(), 60, 3600, 10)
	if err != nil {
		t.Fatalf("list stale running: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("expected job flagged stale under tighter budget threshold (70s), got %+v", stale)
	}
}

func TestRescueJobsRequeuesAndResetsSteps(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET status").WithArgs("job-1", "queued", "running").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE steps SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	st := New(db)
	if err := st.RescueJobs(context.Background(), []string{"job-1"}); err != nil {
		t.Fatalf("rescue jobs: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRescueJobsNoopOnEmptyInput(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := New(db)
	if err := st.RescueJobs(context.Background(), nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
