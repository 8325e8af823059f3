package sched

import (
	"time"

	"scraperd/internal/task/launch"
)

// Config is consumed once at construction; the scheduler is not resized at
// runtime.
type Config struct {
	// MaxConcurrent caps simultaneously running jobs. It is clamped to the
	// number of profile tokens: a job cannot run without a token.
	MaxConcurrent int

	// Tokens is the browser-profile pool. Empty falls back to a single
	// synthetic token (with a logged warning).
	Tokens []string

	// PollInterval bounds how long the dispatcher sleeps when the queue is
	// empty, so it keeps observing shutdown. Default 1s.
	PollInterval time.Duration

	// StopGrace is how long Stop waits after Terminate before escalating
	// to Kill for out-of-process jobs. Default 5s.
	StopGrace time.Duration

	// PerJobEstimate is the fixed per-job duration used for queue wait
	// estimates. Default 30s.
	PerJobEstimate time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.PerJobEstimate <= 0 {
		c.PerJobEstimate = 30 * time.Second
	}
	return c
}

// RunRequest is one pending ask to run a job. Immutable once enqueued
// except RetryCount, which increments on every capacity-exhausted requeue.
//
// MaxRetries is carried for operator visibility but is not enforced: a
// request requeues indefinitely while capacity stays exhausted.
type RunRequest struct {
	JobID      string
	Priority   int
	UseProcess bool
	RetryCount int
	MaxRetries int

	ScheduledAt time.Time
	EnqueuedAt  time.Time

	seq uint64
}

// slot is the live binding between a running job, its held token, and its
// execution handle.
type slot struct {
	jobID      string
	token      string
	handle     launch.Handle
	startedAt  time.Time
	useProcess bool

	// done is closed by the monitor goroutine once handle.Wait returns,
	// letting Stop wait out the grace period without a second Wait.
	done chan struct{}
}

// StartOptions mirror the public start API: priority defaults to 0 (highest
// by the lower-is-higher convention), execution defaults to out-of-process,
// scheduled time defaults to now.
type StartOptions struct {
	Priority    int
	UseThread   bool
	ScheduledAt time.Time
	MaxRetries  int
}

// Status is the point-in-time scheduler view.
type Status struct {
	Active     int `json:"active"`
	Capacity   int `json:"capacity"`
	FreeTokens int `json:"free_tokens"`
	QueueDepth int `json:"queue_depth"`
}

// QueueStatus estimates how long a newly queued job would wait.
type QueueStatus struct {
	Depth         int           `json:"depth"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}
