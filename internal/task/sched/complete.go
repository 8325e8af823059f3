package sched

import (
	"context"
	"time"

	"scraperd/internal/eventbus"
	"scraperd/internal/storage"
	logx "scraperd/pkg/logx"
)

// monitor waits out one execution. Wait errors are swallowed on purpose:
// the completion event must fire no matter how the worker died, because
// token reclamation matters more than status accuracy.
func (s *Service) monitor(sl *slot) {
	if err := sl.handle.Wait(); err != nil {
		s.log.Warn("worker exited with error", logx.String("job", sl.jobID), logx.Err(err))
	}
	close(sl.done)
	s.postCompletion(sl.jobID)
}

// completionLoop is the single consumer of completion events.
func (s *Service) completionLoop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case jobID := <-s.completions:
			s.finish(jobID)
		}
	}
}

// finish reclaims everything a slot held: token back to the pool, temp
// artifacts removed, slot dropped, and the record marked completed unless
// execution already reached a terminal state on its own.
//
// Duplicate completion events (e.g. a stop racing the natural exit) are
// no-ops: the slot is only present for the first one.
func (s *Service) finish(jobID string) {
	s.mu.Lock()
	sl, ok := s.slots[jobID]
	if ok {
		delete(s.slots, jobID)
		s.pool.Release(sl.token)
	}
	remaining := len(s.slots)
	s.mu.Unlock()
	if !ok {
		return
	}

	sl.handle.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := s.store.GetJob(ctx, jobID)
	switch {
	case err != nil:
		s.log.Warn("completion status check failed", logx.String("job", jobID), logx.Err(err))
	case !job.Status.Terminal():
		// The execution path didn't record an outcome (crashed worker,
		// cooperative stop); close the record out as completed.
		if err := s.store.SetJobStatus(ctx, jobID, storage.StatusCompleted, ""); err != nil {
			s.log.Warn("completed status write failed", logx.String("job", jobID), logx.Err(err))
		}
	}

	elapsed := time.Since(sl.startedAt)
	s.publish(eventbus.EventJobCompleted, eventbus.JobEvent{JobID: jobID, Token: sl.token, Elapsed: elapsed})
	s.log.Info("job finished",
		logx.String("job", jobID),
		logx.String("token", sl.token),
		logx.Duration("elapsed", elapsed),
		logx.Int("active", remaining),
	)

	// Nudge the dispatcher: a token just freed up.
	select {
	case s.queue.wake <- struct{}{}:
	default:
	}
}
