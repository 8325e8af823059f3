package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scraperd/internal/eventbus"
	"scraperd/internal/storage"
	"scraperd/internal/task/launch"
	logx "scraperd/pkg/logx"
)

type fakeHandle struct {
	done chan struct{}
	once sync.Once
	err  error

	mu         sync.Mutex
	terminated bool
	cleaned    bool
}

func (h *fakeHandle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *fakeHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	h.terminated = true
	h.mu.Unlock()
	h.finish(nil)
	return nil
}

func (h *fakeHandle) Kill() error {
	h.finish(nil)
	return nil
}

func (h *fakeHandle) Cleanup() {
	h.mu.Lock()
	h.cleaned = true
	h.mu.Unlock()
}

type fakeLauncher struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	failErr error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{handles: map[string]*fakeHandle{}}
}

func (l *fakeLauncher) Launch(_ context.Context, job storage.Job, _ string, _ launch.Mode) (launch.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return nil, l.failErr
	}
	h := &fakeHandle{done: make(chan struct{})}
	l.handles[job.ID] = h
	return h, nil
}

func (l *fakeLauncher) handle(jobID string) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[jobID]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestService(t *testing.T, cfg Config, launcher launch.Launcher) (*Service, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 200 * time.Millisecond
	}
	svc := New(cfg, store, launcher, nil, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc, store
}

func createJob(t *testing.T, store storage.Store, name string) string {
	t.Helper()
	j := &storage.Job{Name: name, TargetURL: "https://example.com/" + name}
	if err := store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob(%s): %v", name, err)
	}
	return j.ID
}

func TestDispatchRespectsCapacity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	launcher := newFakeLauncher()
	svc, store := newTestService(t, Config{MaxConcurrent: 2, Tokens: []string{"a", "b", "c"}}, launcher)

	ids := []string{
		createJob(t, store, "j1"),
		createJob(t, store, "j2"),
		createJob(t, store, "j3"),
	}
	for _, id := range ids {
		if ok, msg := svc.StartJob(ctx, id, StartOptions{}); !ok {
			t.Fatalf("StartJob(%s) rejected: %s", id, msg)
		}
	}

	// Equal priority dispatches in enqueue order, so the first two launch.
	waitFor(t, "first two dispatched", func() bool {
		return launcher.handle(ids[0]) != nil && launcher.handle(ids[1]) != nil
	})

	// The third request cycles on the capacity backoff; it must not launch.
	time.Sleep(50 * time.Millisecond)
	if launcher.handle(ids[2]) != nil {
		t.Fatal("third job launched beyond capacity")
	}
	if got := svc.Status().Active; got != 2 {
		t.Fatalf("active = %d with capacity 2, want 2", got)
	}

	// Finishing one frees a slot; the queued job takes its place.
	launcher.handle(ids[0]).finish(nil)
	waitFor(t, "backfill dispatch", func() bool { return launcher.handle(ids[2]) != nil })
	waitFor(t, "finished job recorded", func() bool {
		j, err := store.GetJob(ctx, ids[0])
		return err == nil && j.Status == storage.StatusCompleted
	})
}

func TestStartJobRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	launcher := newFakeLauncher()
	svc, store := newTestService(t, Config{MaxConcurrent: 1, Tokens: []string{"a"}}, launcher)

	if ok, msg := svc.StartJob(ctx, "nope", StartOptions{}); ok || msg != "job not found" {
		t.Fatalf("StartJob(missing) = %v/%q, want rejection with job not found", ok, msg)
	}

	id := createJob(t, store, "dup")
	if ok, _ := svc.StartJob(ctx, id, StartOptions{}); !ok {
		t.Fatal("first StartJob rejected")
	}
	waitFor(t, "job running", func() bool { return svc.IsRunning(id) })
	if ok, msg := svc.StartJob(ctx, id, StartOptions{}); ok || msg != "job already running" {
		t.Fatalf("StartJob(running) = %v/%q, want rejection", ok, msg)
	}

	launcher.handle(id).finish(nil)
	waitFor(t, "job finished", func() bool { return !svc.IsRunning(id) })
	waitFor(t, "terminal status", func() bool {
		j, err := store.GetJob(ctx, id)
		return err == nil && j.Status.Terminal()
	})
	if ok, msg := svc.StartJob(ctx, id, StartOptions{}); ok || msg != "job already finished" {
		t.Fatalf("StartJob(terminal) = %v/%q, want rejection", ok, msg)
	}
}

func TestStopJobReclaimsToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	launcher := newFakeLauncher()
	svc, store := newTestService(t, Config{MaxConcurrent: 1, Tokens: []string{"a"}}, launcher)

	if ok, msg := svc.StopJob(ctx, "nothing"); ok || msg != "not running" {
		t.Fatalf("StopJob(idle) = %v/%q, want not running", ok, msg)
	}

	id := createJob(t, store, "victim")
	if ok, _ := svc.StartJob(ctx, id, StartOptions{}); !ok {
		t.Fatal("StartJob rejected")
	}
	waitFor(t, "job running", func() bool { return svc.IsRunning(id) })

	ok, msg := svc.StopJob(ctx, id)
	if !ok || msg != "stop requested" {
		t.Fatalf("StopJob = %v/%q, want stop requested", ok, msg)
	}

	h := launcher.handle(id)
	h.mu.Lock()
	terminated := h.terminated
	h.mu.Unlock()
	if !terminated {
		t.Fatal("stop did not terminate the worker")
	}

	waitFor(t, "slot reclaimed", func() bool {
		st := svc.Status()
		return !svc.IsRunning(id) && st.FreeTokens == 1
	})
	waitFor(t, "handle cleaned", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.cleaned
	})

	j, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != storage.StatusStopped {
		t.Fatalf("status = %s, want stopped (completion must not overwrite it)", j.Status)
	}
}

func TestLaunchFailureReleasesToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	launcher := newFakeLauncher()
	launcher.failErr = errors.New("spawn failed")
	svc, store := newTestService(t, Config{MaxConcurrent: 1, Tokens: []string{"a"}}, launcher)

	id := createJob(t, store, "doomed")
	if ok, _ := svc.StartJob(ctx, id, StartOptions{}); !ok {
		t.Fatal("StartJob rejected")
	}

	waitFor(t, "job failed", func() bool {
		j, err := store.GetJob(ctx, id)
		return err == nil && j.Status == storage.StatusFailed
	})
	waitFor(t, "token released", func() bool { return svc.Status().FreeTokens == 1 })
	if svc.IsRunning(id) {
		t.Fatal("failed launch left a live slot")
	}

	j, _ := store.GetJob(ctx, id)
	if j.Error == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestQueueStatusEstimate(t *testing.T) {
	t.Parallel()
	launcher := newFakeLauncher()
	svc, _ := newTestService(t, Config{
		MaxConcurrent:  1,
		Tokens:         []string{"a"},
		PerJobEstimate: 30 * time.Second,
	}, launcher)

	qs := svc.QueueStatus()
	if qs.Depth != 0 || qs.EstimatedWait != 0 {
		t.Fatalf("idle queue status = %+v, want zeros", qs)
	}

	// Fill the only slot, then stack requests behind it.
	ctx := context.Background()
	hold := createJob(t, svc.store, "hold")
	if ok, _ := svc.StartJob(ctx, hold, StartOptions{}); !ok {
		t.Fatal("StartJob rejected")
	}
	waitFor(t, "job running", func() bool { return svc.IsRunning(hold) })

	for i := 0; i < 3; i++ {
		id := createJob(t, svc.store, "queued")
		if ok, _ := svc.StartJob(ctx, id, StartOptions{}); !ok {
			t.Fatal("StartJob rejected")
		}
	}

	waitFor(t, "queue depth visible", func() bool {
		qs := svc.QueueStatus()
		// One request may be held by the dispatcher inside its backoff
		// cycle, so accept a depth of 2 or 3.
		return qs.Depth >= 2 && qs.EstimatedWait == time.Duration(qs.Depth)*30*time.Second
	})

	if dropped := svc.ClearQueue(); dropped < 2 {
		t.Fatalf("ClearQueue = %d, want at least 2", dropped)
	}
	if svc.QueueStatus().Depth != 0 {
		t.Fatal("queue not empty after clear")
	}
	if !svc.IsRunning(hold) {
		t.Fatal("ClearQueue touched a running job")
	}
}

func TestCapacityClampedToTokens(t *testing.T) {
	t.Parallel()
	launcher := newFakeLauncher()
	svc, _ := newTestService(t, Config{MaxConcurrent: 5, Tokens: []string{"a", "b"}}, launcher)
	if got := svc.Status().Capacity; got != 2 {
		t.Fatalf("capacity = %d with 2 tokens, want 2", got)
	}
}

func TestShutdownStopsActiveJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	launcher := newFakeLauncher()
	store := storage.NewMemory()
	svc := New(Config{
		MaxConcurrent: 2,
		Tokens:        []string{"a", "b"},
		PollInterval:  10 * time.Millisecond,
		StopGrace:     200 * time.Millisecond,
	}, store, launcher, nil, logx.Nop())
	svc.Start(ctx)

	id := createJob(t, store, "longrun")
	if ok, _ := svc.StartJob(ctx, id, StartOptions{}); !ok {
		t.Fatal("StartJob rejected")
	}
	waitFor(t, "job running", func() bool { return svc.IsRunning(id) })

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.Shutdown(shutCtx)

	if svc.IsRunning(id) {
		t.Fatal("job still active after shutdown")
	}
	if ok, msg := svc.StartJob(ctx, id, StartOptions{}); ok || msg != "scheduler is shutting down" {
		t.Fatalf("StartJob after shutdown = %v/%q, want rejection", ok, msg)
	}
}

func TestEventsPublished(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	launcher := newFakeLauncher()
	store := storage.NewMemory()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	svc := New(Config{
		MaxConcurrent: 1,
		Tokens:        []string{"a"},
		PollInterval:  10 * time.Millisecond,
		StopGrace:     200 * time.Millisecond,
	}, store, launcher, bus, logx.Nop())
	svc.Start(ctx)
	t.Cleanup(func() {
		c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svc.Shutdown(c)
	})

	id := createJob(t, store, "observed")
	if ok, _ := svc.StartJob(ctx, id, StartOptions{}); !ok {
		t.Fatal("StartJob rejected")
	}
	waitFor(t, "job running", func() bool { return svc.IsRunning(id) })
	launcher.handle(id).finish(nil)
	waitFor(t, "job finished", func() bool { return !svc.IsRunning(id) })

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[eventbus.EventJobQueued] && seen[eventbus.EventJobDispatched] && seen[eventbus.EventJobCompleted]) {
		select {
		case e := <-events:
			seen[e.Type] = true
		case <-deadline:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}
