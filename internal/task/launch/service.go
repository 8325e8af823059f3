package launch

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/time/rate"

	"scraperd/internal/scrape"
	"scraperd/internal/storage"
	logx "scraperd/pkg/logx"
)

type Config struct {
	// WorkerBinary is the fixed out-of-process worker entry point.
	// Empty means "scrape-worker" resolved via PATH.
	WorkerBinary string

	// ArtifactDir is where per-job worker specs are written.
	ArtifactDir string

	// ConfigPath is forwarded to spawned workers so they load the same
	// daemon config (storage, browser API).
	ConfigPath string

	// LaunchesPerMinute paces profile startups against the browser-pool
	// API. 0 disables pacing.
	LaunchesPerMinute int
}

// Service implements Launcher for both execution variants.
type Service struct {
	cfg     Config
	runner  scrape.Runner
	store   storage.Store
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, runner scrape.Runner, store storage.Store, log logx.Logger) *Service {
	if strings.TrimSpace(cfg.WorkerBinary) == "" {
		cfg.WorkerBinary = "scrape-worker"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var lim *rate.Limiter
	if cfg.LaunchesPerMinute > 0 {
		// Allow a small burst so a drained queue doesn't stagger the first
		// couple of dispatches.
		lim = rate.NewLimiter(rate.Limit(float64(cfg.LaunchesPerMinute)/60.0), 2)
	}
	return &Service{cfg: cfg, runner: runner, store: store, limiter: lim, log: log}
}

func (s *Service) Launch(ctx context.Context, job storage.Job, token string, mode Mode) (Handle, error) {
	if strings.TrimSpace(job.ID) == "" {
		return nil, errors.New("job id is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("profile token is required")
	}

	// Every launch opens a browser profile; pace them so the browser-pool
	// API isn't hammered when capacity frees up all at once.
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	switch mode {
	case ModeProcess:
		return s.launchProcess(ctx, job, token)
	case ModeThread:
		return s.launchThread(ctx, job, token)
	default:
		return nil, errors.New("unknown launch mode")
	}
}
