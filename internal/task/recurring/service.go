// Package recurring turns config-defined job definitions into fresh task
// records on a schedule.
//
// Every trigger creates a new record and submits it; finished runs stay in
// the store as history. The scheduler decides when the run actually
// dispatches, so a slow queue simply delays recurring work instead of
// piling up concurrent copies (a definition whose previous run is still
// active is skipped).
package recurring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"scraperd/internal/config"
	"scraperd/internal/storage"
	"scraperd/internal/task/sched"
	logx "scraperd/pkg/logx"
)

const triggerTimeout = 10 * time.Second

// Starter is the slice of the scheduler the cron entries need.
type Starter interface {
	StartJob(ctx context.Context, jobID string, opt sched.StartOptions) (bool, string)
	IsRunning(jobID string) bool
}

type Service struct {
	store storage.Store
	sched Starter
	log   logx.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries []cron.EntryID

	// lastRun maps definition name to the most recent record it created,
	// used to skip a trigger while the previous run is still going.
	lastRun map[string]string
}

func New(store storage.Store, starter Starter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:   store,
		sched:   starter,
		log:     log,
		cron:    cron.New(),
		lastRun: map[string]string{},
	}
}

// Start registers the definitions and starts the cron runner. Invalid
// definitions are logged and skipped; one bad entry does not block the rest.
func (s *Service) Start(defs []config.RecurringJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.register(defs)
	s.cron.Start()
	s.log.Info("recurring jobs started", logx.Int("definitions", len(s.entries)))
}

// Reload replaces the registered definitions. In-flight triggers finish on
// the old set before the swap completes.
func (s *Service) Reload(defs []config.RecurringJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = s.entries[:0]
	s.register(defs)
	s.log.Info("recurring jobs reloaded", logx.Int("definitions", len(s.entries)))
}

// Stop halts the cron runner and waits for in-flight triggers.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (s *Service) register(defs []config.RecurringJob) {
	for _, def := range defs {
		def := def
		if err := s.add(def); err != nil {
			s.log.Error("skipping recurring definition", logx.String("name", def.Name), logx.Err(err))
		}
	}
}

func (s *Service) add(def config.RecurringJob) error {
	if def.Name == "" {
		return fmt.Errorf("name required")
	}
	if def.TargetURL == "" {
		return fmt.Errorf("target_url required")
	}
	spec, err := ParseSchedule(def.Schedule)
	if err != nil {
		return err
	}

	job := cron.FuncJob(func() { s.trigger(def) })
	var id cron.EntryID
	if spec.IsCron() {
		id, err = s.cron.AddJob(spec.Cron, job)
		if err != nil {
			return fmt.Errorf("cron schedule %q: %w", spec.Cron, err)
		}
	} else {
		id = s.cron.Schedule(cron.Every(spec.Every), job)
	}
	s.entries = append(s.entries, id)
	return nil
}

// trigger runs on the cron goroutine.
func (s *Service) trigger(def config.RecurringJob) {
	s.mu.Lock()
	prev := s.lastRun[def.Name]
	s.mu.Unlock()
	if prev != "" && s.sched.IsRunning(prev) {
		s.log.Debug("recurring trigger skipped; previous run still active",
			logx.String("name", def.Name), logx.String("job", prev))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
	defer cancel()

	job := &storage.Job{Name: def.Name, TargetURL: def.TargetURL}
	if err := s.store.CreateJob(ctx, job); err != nil {
		s.log.Error("recurring job create failed", logx.String("name", def.Name), logx.Err(err))
		return
	}

	useProcess := def.UseProcess == nil || *def.UseProcess
	ok, msg := s.sched.StartJob(ctx, job.ID, sched.StartOptions{
		Priority:  def.Priority,
		UseThread: !useProcess,
	})
	if !ok {
		s.log.Warn("recurring job not accepted",
			logx.String("name", def.Name), logx.String("job", job.ID), logx.String("msg", msg))
		return
	}

	s.mu.Lock()
	s.lastRun[def.Name] = job.ID
	s.mu.Unlock()
	s.log.Info("recurring job submitted",
		logx.String("name", def.Name), logx.String("job", job.ID), logx.String("msg", msg))
}
