package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewMemory returns a volatile in-memory store.
// Used by tests and for throwaway runs without persistence.
func NewMemory() Store {
	return &memStore{jobs: map[string]*Job{}}
}

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func (s *memStore) CreateJob(_ context.Context, j *Job) error {
	if j == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	cp := *j
	s.mu.Lock()
	s.jobs[j.ID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) SetJobStatus(_ context.Context, id string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := ValidateTransition(j.Status, status); err != nil {
		return err
	}
	j.Status = status
	if errMsg != "" {
		j.Error = errMsg
	}
	now := time.Now()
	if status == StatusRunning && j.StartedAt.IsZero() {
		j.StartedAt = now
	}
	if status.Terminal() {
		j.CompletedAt = now
	}
	return nil
}

func (s *memStore) AddPagesFetched(_ context.Context, id string, n int) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.PagesFetched += n
	return nil
}

func (s *memStore) ListJobs(_ context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }
