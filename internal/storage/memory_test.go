package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryJobLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	j := &Job{Name: "news", TargetURL: "https://example.com"}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.ID == "" {
		t.Fatal("CreateJob did not assign an ID")
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("new job status = %s, want %s", got.Status, StatusPending)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}

	if err := s.SetJobStatus(ctx, j.ID, StatusRunning, ""); err != nil {
		t.Fatalf("SetJobStatus(running): %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.StartedAt.IsZero() {
		t.Fatal("StartedAt not set on running")
	}

	if err := s.AddPagesFetched(ctx, j.ID, 3); err != nil {
		t.Fatalf("AddPagesFetched: %v", err)
	}

	if err := s.SetJobStatus(ctx, j.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("SetJobStatus(completed): %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.CompletedAt.IsZero() {
		t.Fatal("CompletedAt not set on completion")
	}
	if got.PagesFetched != 3 {
		t.Fatalf("PagesFetched = %d, want 3", got.PagesFetched)
	}

	// Terminal state is frozen.
	if err := s.SetJobStatus(ctx, j.ID, StatusRunning, ""); err == nil {
		t.Fatal("transition out of completed succeeded")
	}
}

func TestMemoryFailedKeepsError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	j := &Job{Name: "broken", TargetURL: "https://example.com"}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.SetJobStatus(ctx, j.ID, StatusRunning, ""); err != nil {
		t.Fatalf("SetJobStatus(running): %v", err)
	}
	if err := s.SetJobStatus(ctx, j.ID, StatusFailed, "fetch timed out"); err != nil {
		t.Fatalf("SetJobStatus(failed): %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Error != "fetch timed out" {
		t.Fatalf("Error = %q, want fetch timed out", got.Error)
	}
}

func TestMemoryNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob = %v, want ErrNotFound", err)
	}
	if err := s.SetJobStatus(ctx, "missing", StatusRunning, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetJobStatus = %v, want ErrNotFound", err)
	}
	if err := s.AddPagesFetched(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddPagesFetched = %v, want ErrNotFound", err)
	}
}

func TestMemoryListNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	for _, name := range []string{"a", "b", "c"} {
		if err := s.CreateJob(ctx, &Job{Name: name, TargetURL: "https://example.com"}); err != nil {
			t.Fatalf("CreateJob(%s): %v", name, err)
		}
	}
	jobs, err := s.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len = %d, want 2 (limit applied)", len(jobs))
	}
}
