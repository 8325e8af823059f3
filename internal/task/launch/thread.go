package launch

import (
	"context"
	"errors"

	"scraperd/internal/storage"
	logx "scraperd/pkg/logx"
)

func (s *Service) launchThread(_ context.Context, job storage.Job, token string) (Handle, error) {
	if s.runner == nil {
		return nil, errors.New("thread launch requires a runner")
	}

	// Detached from the dispatch context: the job's lifetime is governed by
	// the handle, not by the call that started it.
	runCtx, cancel := context.WithCancel(context.Background())
	h := &threadHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		err := s.runner.Run(runCtx, job, token)
		h.err = err

		// The execution path owns the job's terminal state; the scheduler's
		// completion processor only fills in "completed" if nothing else did.
		status := storage.StatusCompleted
		msg := ""
		if err != nil {
			status = storage.StatusFailed
			msg = err.Error()
		}
		if s.store != nil {
			if serr := s.store.SetJobStatus(context.Background(), job.ID, status, msg); serr != nil {
				// Expected when the job was stopped while running.
				s.log.Debug("worker status write skipped", logx.String("job", job.ID), logx.Err(serr))
			}
		}
	}()

	s.log.Info("worker goroutine started", logx.String("job", job.ID), logx.String("token", token))
	return h, nil
}

// threadHandle wraps an in-process worker goroutine.
//
// There is no forced stop for a goroutine: Terminate and Kill both cancel
// the worker's context, and the contract explicitly allows the worker to
// run to completion if it doesn't observe cancellation.
type threadHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (h *threadHandle) Wait() error {
	<-h.done
	return h.err
}

func (h *threadHandle) Terminate() error {
	h.cancel()
	return nil
}

func (h *threadHandle) Kill() error {
	h.cancel()
	return nil
}

func (h *threadHandle) Cleanup() {}
