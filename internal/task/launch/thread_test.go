package launch

import (
	"context"
	"errors"
	"testing"
	"time"

	"scraperd/internal/storage"
	logx "scraperd/pkg/logx"
)

type fakeRunner struct {
	err     error
	started chan struct{}
	block   bool
}

func (r *fakeRunner) Run(ctx context.Context, _ storage.Job, _ string) error {
	if r.started != nil {
		close(r.started)
	}
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return r.err
}

func newThreadService(t *testing.T, runner *fakeRunner, store storage.Store) *Service {
	t.Helper()
	return New(Config{}, runner, store, logx.Nop())
}

func waitDone(t *testing.T, h Handle) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
		return nil
	}
}

func TestLaunchThreadCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	job := &storage.Job{Name: "t", TargetURL: "https://example.com"}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := store.SetJobStatus(ctx, job.ID, storage.StatusRunning, ""); err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}

	svc := newThreadService(t, &fakeRunner{}, store)
	h, err := svc.Launch(ctx, *job, "tok", ModeThread)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := waitDone(t, h); err != nil {
		t.Fatalf("Wait = %v, want nil", err)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != storage.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestLaunchThreadRecordsFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	job := &storage.Job{Name: "t", TargetURL: "https://example.com"}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := store.SetJobStatus(ctx, job.ID, storage.StatusRunning, ""); err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}

	boom := errors.New("boom")
	svc := newThreadService(t, &fakeRunner{err: boom}, store)
	h, err := svc.Launch(ctx, *job, "tok", ModeThread)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if err := waitDone(t, h); !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want boom", err)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != storage.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error != "boom" {
		t.Fatalf("error = %q, want boom", got.Error)
	}
}

func TestLaunchThreadTerminateCancels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	job := &storage.Job{Name: "t", TargetURL: "https://example.com"}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	runner := &fakeRunner{block: true, started: make(chan struct{})}
	svc := newThreadService(t, runner, store)
	h, err := svc.Launch(ctx, *job, "tok", ModeThread)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	<-runner.started

	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := waitDone(t, h); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
}

func TestLaunchThreadRequiresRunner(t *testing.T) {
	t.Parallel()
	svc := New(Config{}, nil, storage.NewMemory(), logx.Nop())
	if _, err := svc.Launch(context.Background(), storage.Job{ID: "x"}, "tok", ModeThread); err == nil {
		t.Fatal("expected error when no runner is configured")
	}
}
