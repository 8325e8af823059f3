// Package launch starts job execution and hands the scheduler a uniform
// handle over both execution styles: an out-of-process worker (subprocess)
// or an in-process worker (goroutine).
package launch

import (
	"context"

	"scraperd/internal/storage"
)

// Mode selects the execution variant at launch time.
type Mode int

const (
	ModeProcess Mode = iota
	ModeThread
)

func (m Mode) String() string {
	if m == ModeThread {
		return "thread"
	}
	return "process"
}

// Handle is the live execution of one job.
//
// Wait blocks until the job exits; it is the only intentionally blocking
// call in the scheduler (one monitor goroutine per handle sits in it).
// Terminate asks for a graceful stop, Kill forces one; for in-process jobs
// both are cooperative only. Cleanup removes any temp artifacts and is safe
// to call once the job has exited.
type Handle interface {
	Wait() error
	Terminate() error
	Kill() error
	Cleanup()
}

// Launcher starts a job bound to an exclusive profile token.
type Launcher interface {
	Launch(ctx context.Context, job storage.Job, token string, mode Mode) (Handle, error)
}
