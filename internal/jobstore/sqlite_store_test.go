package jobstore

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	job := &Job{
		ID:        "abc123",
		Context:   "records",
		Page:      1,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	got, err := s.GetJob("abc123")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got == nil || got.Status != JobStatusQueued {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.StartedAt != nil || got.FinishedAt != nil {
		t.Error("fresh job should have no start/finish times")
	}

	if err := s.UpdateJobStarted("abc123"); err != nil {
		t.Fatalf("UpdateJobStarted failed: %v", err)
	}
	got, _ = s.GetJob("abc123")
	if got.Status != JobStatusRunning || got.StartedAt == nil {
		t.Errorf("expected running with start time, got %+v", got)
	}

	if err := s.UpdateJobFinished("abc123", JobStatusCompleted, "", 10, 10, 2); err != nil {
		t.Fatalf("UpdateJobFinished failed: %v", err)
	}
	got, _ = s.GetJob("abc123")
	if got.Status != JobStatusCompleted || got.FinishedAt == nil {
		t.Errorf("expected completed with finish time, got %+v", got)
	}
	if got.Records != 10 || got.Stubs != 2 {
		t.Errorf("expected counts (10, 2), got (%d, %d)", got.Records, got.Stubs)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetJob("missing")
	if err != nil {
		t.Fatalf("expected no error for missing job, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing job, got %+v", got)
	}
}

func TestMarkUnfinishedAsFailed(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	s.CreateJob(&Job{ID: "q1", Context: "records", Status: JobStatusQueued, CreatedAt: now})
	s.CreateJob(&Job{ID: "r1", Context: "records", Status: JobStatusQueued, CreatedAt: now})
	s.UpdateJobStarted("r1")
	s.CreateJob(&Job{ID: "c1", Context: "records", Status: JobStatusQueued, CreatedAt: now})
	s.UpdateJobFinished("c1", JobStatusCompleted, "", 1, 0, 0)

	if err := s.MarkUnfinishedAsFailed("server restarted"); err != nil {
		t.Fatalf("MarkUnfinishedAsFailed failed: %v", err)
	}

	for _, id := range []string{"q1", "r1"} {
		got, _ := s.GetJob(id)
		if got.Status != JobStatusFailed {
			t.Errorf("job %s: expected failed, got %s", id, got.Status)
		}
		if got.Error != "server restarted" {
			t.Errorf("job %s: unexpected error %q", id, got.Error)
		}
	}

	got, _ := s.GetJob("c1")
	if got.Status != JobStatusCompleted {
		t.Errorf("completed job should be untouched, got %s", got.Status)
	}
}

func TestDeleteExpiredJobs(t *testing.T) {
	s := newTestStore(t)

	s.CreateJob(&Job{ID: "old", Context: "records", Status: JobStatusQueued, CreatedAt: time.Now()})
	s.UpdateJobFinished("old", JobStatusCompleted, "", 0, 0, 0)

	// Retention of -1 days puts the cutoff in the future, expiring everything
	// finished.
	deleted, err := s.DeleteExpiredJobs(-1)
	if err != nil {
		t.Fatalf("DeleteExpiredJobs failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	got, _ := s.GetJob("old")
	if got != nil {
		t.Error("expected expired job to be gone")
	}
}
