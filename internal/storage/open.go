package storage

import (
	"context"
	"errors"
	"strings"

	logx "scraperd/pkg/logx"
)

// Store is the persistence API consumed by the scheduler and the workers.
type Store interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	SetJobStatus(ctx context.Context, id string, status Status, errMsg string) error
	AddPagesFetched(ctx context.Context, id string, n int) error
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
