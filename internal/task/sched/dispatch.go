package sched

import (
	"context"
	"time"

	"scraperd/internal/eventbus"
	"scraperd/internal/storage"
	"scraperd/internal/task/launch"
	logx "scraperd/pkg/logx"
)

// Requeue backoff for capacity exhaustion: base 2s per retry, capped at 10s.
const (
	requeueBackoffBase = 2 * time.Second
	requeueBackoffMax  = 10 * time.Second
)

// dispatchLoop is the single queue consumer. It pairs requests with free
// capacity and hands them to the launcher; requests that cannot get a slot
// or token are put back with backoff.
func (s *Service) dispatchLoop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		req, ok := s.queue.pop()
		if !ok {
			// Bounded sleep so shutdown is observed even on an idle queue.
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-s.queue.wake:
			case <-time.After(s.cfg.PollInterval):
			}
			continue
		}

		s.dispatch(ctx, stopCh, req)
	}
}

func (s *Service) dispatch(ctx context.Context, stopCh <-chan struct{}, req RunRequest) {
	s.mu.Lock()
	if len(s.slots) >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		s.requeue(ctx, stopCh, req, "capacity exhausted")
		return
	}
	token, ok := s.pool.Acquire()
	sup := s.sup
	s.mu.Unlock()
	if !ok {
		s.requeue(ctx, stopCh, req, "no free token")
		return
	}

	// Token held from here: every exit path below must either hand it to a
	// slot or release it.

	job, err := s.store.GetJob(ctx, req.JobID)
	if err != nil {
		s.pool.Release(token)
		s.log.Warn("dropping request for missing job", logx.String("job", req.JobID), logx.Err(err))
		return
	}
	if job.Status.Terminal() {
		s.pool.Release(token)
		s.log.Debug("dropping request for finished job", logx.String("job", req.JobID), logx.String("status", string(job.Status)))
		return
	}

	if err := s.store.SetJobStatus(ctx, req.JobID, storage.StatusRunning, ""); err != nil {
		// In-memory accounting stays authoritative even if the record lags.
		s.log.Warn("running status write failed", logx.String("job", req.JobID), logx.Err(err))
	}

	mode := launch.ModeProcess
	if !req.UseProcess {
		mode = launch.ModeThread
	}
	h, err := s.launcher.Launch(ctx, *job, token, mode)
	if err != nil {
		// Launch failures are terminal: the token goes straight back and
		// the request is not retried.
		s.pool.Release(token)
		if serr := s.store.SetJobStatus(ctx, req.JobID, storage.StatusFailed, err.Error()); serr != nil {
			s.log.Warn("failed status write failed", logx.String("job", req.JobID), logx.Err(serr))
		}
		s.publish(eventbus.EventJobFailed, eventbus.JobEvent{JobID: req.JobID, Token: token, Error: err.Error()})
		s.log.Error("job launch failed", logx.String("job", req.JobID), logx.String("mode", mode.String()), logx.Err(err))
		return
	}

	sl := &slot{
		jobID:      req.JobID,
		token:      token,
		handle:     h,
		startedAt:  time.Now(),
		useProcess: req.UseProcess,
		done:       make(chan struct{}),
	}
	s.mu.Lock()
	s.slots[req.JobID] = sl
	active := len(s.slots)
	s.mu.Unlock()

	s.publish(eventbus.EventJobDispatched, eventbus.JobEvent{JobID: req.JobID, Token: token})
	s.log.Info("job dispatched",
		logx.String("job", req.JobID),
		logx.String("token", token),
		logx.String("mode", mode.String()),
		logx.Int("active", active),
		logx.Int("capacity", s.cfg.MaxConcurrent),
	)

	if sup != nil {
		sup.Go0("monitor."+req.JobID, func(context.Context) { s.monitor(sl) })
	}
}

// requeue increments the retry count, sleeps a capped backoff, and puts the
// request back otherwise unchanged.
//
// There is intentionally no MaxRetries check here: under sustained capacity
// exhaustion a request cycles indefinitely. The sleep happens on the
// dispatcher goroutine, so the whole queue waits out the backoff with it.
func (s *Service) requeue(ctx context.Context, stopCh <-chan struct{}, req RunRequest, reason string) {
	req.RetryCount++
	delay := time.Duration(req.RetryCount) * requeueBackoffBase
	if delay > requeueBackoffMax {
		delay = requeueBackoffMax
	}
	s.log.Debug("requeueing run request",
		logx.String("job", req.JobID),
		logx.String("reason", reason),
		logx.Int("retry", req.RetryCount),
		logx.Duration("delay", delay),
	)

	select {
	case <-ctx.Done():
		return
	case <-stopCh:
		return
	case <-time.After(delay):
	}
	s.queue.push(req)
}
