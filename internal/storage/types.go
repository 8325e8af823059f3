package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrDisabled = errors.New("storage disabled")
)

// Status is a scrape job's lifecycle state.
//
// Lifecycle: pending -> queued (if no capacity) -> running -> terminal.
// Terminal states (completed/failed/stopped) never transition again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusQueued:  true,
		StatusRunning: true,
		StatusFailed:  true,
		StatusStopped: true,
	},
	StatusQueued: {
		StatusRunning: true,
		StatusFailed:  true,
		StatusStopped: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusStopped:   true,
	},
}

// ValidateTransition rejects transitions out of terminal states and any
// move not on the lifecycle graph.
func ValidateTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("cannot transition from terminal state %q", from)
	}
	if from == to {
		return nil
	}
	if !allowedTransitions[from][to] {
		return fmt.Errorf("invalid job state transition %q -> %q", from, to)
	}
	return nil
}

// Job is one scrape job record.
type Job struct {
	ID           string
	Name         string
	TargetURL    string
	Status       Status
	Error        string
	PagesFetched int
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default for the daemon)
//   - "memory": volatile in-memory store
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
