package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scraperd/internal/eventbus"
	rtsup "scraperd/internal/runtime/supervisor"
	"scraperd/internal/storage"
	"scraperd/internal/task/launch"
	"scraperd/internal/task/pool"
	logx "scraperd/pkg/logx"
)

// Caller-visible messages. The public API reports outcomes as
// (accepted, message) pairs rather than errors; real failures are limited
// to "not found", "already running", and launch errors.
const (
	msgNotFound       = "job not found"
	msgAlreadyRunning = "job already running"
	msgFinished       = "job already finished"
	msgNotRunning     = "not running"
	msgStopRequested  = "stop requested"
	msgShuttingDown   = "scheduler is shutting down"
)

type Service struct {
	cfg      Config
	log      logx.Logger
	bus      eventbus.Bus
	store    storage.Store
	launcher launch.Launcher

	// mu guards slots and pool membership. Critical sections stay short:
	// store and launcher calls always happen outside the lock.
	mu    sync.Mutex
	slots map[string]*slot
	pool  *pool.Pool

	queue       *requestQueue
	completions chan string

	sup    *rtsup.Supervisor
	stopCh chan struct{}
}

func New(cfg Config, store storage.Store, launcher launch.Launcher, bus eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	p := pool.New(cfg.Tokens, log)
	// A job cannot run without a token, so extra capacity would only
	// accumulate requests that can never dispatch.
	if cfg.MaxConcurrent > p.Size() {
		log.Warn("max_concurrent_tasks exceeds profile tokens; clamping",
			logx.Int("requested", cfg.MaxConcurrent),
			logx.Int("tokens", p.Size()),
		)
		cfg.MaxConcurrent = p.Size()
	}

	return &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		store:       store,
		launcher:    launcher,
		slots:       map[string]*slot{},
		pool:        p,
		queue:       newRequestQueue(),
		completions: make(chan string, 64),
	}
}

// Start launches the dispatcher and completion-processor loops.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "sched"))),
		// Scheduler loop failures self-heal; they should not kill the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("dispatcher", func(c context.Context) error {
		s.dispatchLoop(c, stopCh)
		return context.Canceled
	})
	sup.GoRestart("completions", func(c context.Context) error {
		s.completionLoop(c, stopCh)
		return context.Canceled
	})

	s.log.Info("scheduler started",
		logx.Int("capacity", s.cfg.MaxConcurrent),
		logx.Int("tokens", s.pool.Size()),
	)
}

// StartJob accepts a run request for an existing job. It never blocks on
// capacity: when no slot or token is free the job is acknowledged as queued
// and dispatch happens later.
func (s *Service) StartJob(ctx context.Context, jobID string, opt StartOptions) (bool, string) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return false, msgShuttingDown
	}
	_, running := s.slots[jobID]
	canDispatchNow := len(s.slots) < s.cfg.MaxConcurrent
	s.mu.Unlock()
	if running {
		return false, msgAlreadyRunning
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return false, msgNotFound
	}
	// Terminal jobs are never re-entered; a re-run needs a fresh record.
	if job.Status.Terminal() {
		return false, msgFinished
	}

	now := time.Now()
	req := RunRequest{
		JobID:       jobID,
		Priority:    opt.Priority,
		UseProcess:  !opt.UseThread,
		MaxRetries:  opt.MaxRetries,
		ScheduledAt: opt.ScheduledAt,
		EnqueuedAt:  now,
	}
	if req.ScheduledAt.IsZero() {
		req.ScheduledAt = now
	}

	// Capacity exhausted: record the queued state so operators see why the
	// job isn't moving. Store failures never block acceptance.
	if !canDispatchNow {
		if err := s.store.SetJobStatus(ctx, jobID, storage.StatusQueued, ""); err != nil {
			s.log.Warn("queued status write failed", logx.String("job", jobID), logx.Err(err))
		}
	}

	s.queue.push(req)
	s.publish(eventbus.EventJobQueued, eventbus.JobEvent{JobID: jobID})

	if canDispatchNow {
		return true, "job accepted"
	}
	return true, fmt.Sprintf("job queued at position %d", s.queue.len())
}

// StopJob stops a running job.
//
// Out-of-process jobs get Terminate, a grace period, then Kill. In-process
// jobs are cancelled cooperatively and may run to completion regardless.
// The requested state is recorded as stopped either way, and a completion
// event is posted so the token is reclaimed even if the worker lingers.
func (s *Service) StopJob(ctx context.Context, jobID string) (bool, string) {
	s.mu.Lock()
	sl, ok := s.slots[jobID]
	s.mu.Unlock()
	if !ok {
		return false, msgNotRunning
	}

	if sl.useProcess {
		if err := sl.handle.Terminate(); err != nil {
			s.log.Warn("terminate failed", logx.String("job", jobID), logx.Err(err))
		}
		select {
		case <-sl.done:
		case <-time.After(s.cfg.StopGrace):
			s.log.Warn("grace period expired; killing worker", logx.String("job", jobID))
			if err := sl.handle.Kill(); err != nil {
				s.log.Warn("kill failed", logx.String("job", jobID), logx.Err(err))
			}
		}
	} else {
		// Cooperative only: a goroutine cannot be forced down safely.
		_ = sl.handle.Terminate()
	}

	if err := s.store.SetJobStatus(ctx, jobID, storage.StatusStopped, ""); err != nil {
		s.log.Warn("stopped status write failed", logx.String("job", jobID), logx.Err(err))
	}
	s.publish(eventbus.EventJobStopped, eventbus.JobEvent{JobID: jobID, Token: sl.token})

	// The monitor also posts on worker exit; completion handling is
	// idempotent, so a duplicate event is harmless. Posting here guarantees
	// reclamation even when a cooperative worker keeps running.
	s.postCompletion(jobID)

	s.log.Info("job stop processed", logx.String("job", jobID))
	return true, msgStopRequested
}

// Status reports scheduler occupancy. All counters are read under the same
// lock the mutation paths use.
func (s *Service) Status() Status {
	s.mu.Lock()
	active := len(s.slots)
	s.mu.Unlock()
	return Status{
		Active:     active,
		Capacity:   s.cfg.MaxConcurrent,
		FreeTokens: s.pool.Free(),
		QueueDepth: s.queue.len(),
	}
}

func (s *Service) IsRunning(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[jobID]
	return ok
}

func (s *Service) QueueStatus() QueueStatus {
	depth := s.queue.len()
	return QueueStatus{
		Depth:         depth,
		EstimatedWait: time.Duration(depth) * s.cfg.PerJobEstimate,
	}
}

// ClearQueue drains pending requests only; active slots are never touched.
func (s *Service) ClearQueue() int {
	n := s.queue.clear()
	if n > 0 {
		s.log.Info("request queue cleared", logx.Int("dropped", n))
	}
	return n
}

// Shutdown stops all active jobs and halts the background loops.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	sup := s.sup
	s.sup = nil
	active := make([]string, 0, len(s.slots))
	for id := range s.slots {
		active = append(active, id)
	}
	s.mu.Unlock()

	if stopCh == nil {
		return
	}

	for _, id := range active {
		if ok, msg := s.StopJob(ctx, id); !ok {
			s.log.Debug("shutdown stop skipped", logx.String("job", id), logx.String("msg", msg))
		}
	}
	s.ClearQueue()

	// Drain completions for the stopped jobs before halting the loops so
	// tokens are accounted for.
	deadline := time.Now().Add(s.cfg.StopGrace)
	for {
		s.mu.Lock()
		remaining := len(s.slots)
		s.mu.Unlock()
		if remaining == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	close(stopCh)
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("scheduler stop incomplete", logx.Err(err))
		}
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) publish(typ string, ev eventbus.JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) postCompletion(jobID string) {
	select {
	case s.completions <- jobID:
	default:
		// The channel is generously buffered; if it is somehow full, spill
		// into a goroutine rather than blocking or dropping the event.
		go func() { s.completions <- jobID }()
	}
}
