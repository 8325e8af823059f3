package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scraperd/internal/browser"
	"scraperd/internal/config"
	"scraperd/internal/eventbus"
	"scraperd/internal/observability/pprof"
	"scraperd/internal/runtime/supervisor"
	"scraperd/internal/scrape"
	"scraperd/internal/storage"
	"scraperd/internal/task/launch"
	"scraperd/internal/task/recurring"
	"scraperd/internal/task/sched"
	logx "scraperd/pkg/logx"
)

// App wires the daemon together: config, logging, storage, browser client,
// launcher, scheduler, and recurring jobs.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	browser  *browser.Client
	launcher *launch.Service
	sched    *sched.Service
	recur    *recurring.Service
	pprof    *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	// The browser-pool API is optional; without it workers fetch targets
	// directly instead of through a managed profile.
	var bc *browser.Client
	if strings.TrimSpace(cfg.Browser.APIURL) != "" {
		timeout, err := config.ParseDurationOrDefault("browser.timeout", cfg.Browser.Timeout, 15*time.Second)
		if err != nil {
			return nil, err
		}
		bc, err = browser.NewClient(browser.Config{
			APIURL:  cfg.Browser.APIURL,
			Timeout: timeout,
		}, log.With(logx.String("comp", "browser")))
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("browser.api_url not set; jobs run without managed profiles")
	}

	collector := &scrape.Collector{
		Browser: bc,
		Store:   store,
		Log:     log.With(logx.String("comp", "scrape")),
	}

	launcher := launch.New(launch.Config{
		WorkerBinary:      cfg.Launcher.WorkerBinary,
		ArtifactDir:       cfg.Launcher.ArtifactDir,
		ConfigPath:        cfgPath,
		LaunchesPerMinute: cfg.Launcher.LaunchesPerMinute,
	}, collector, store, log.With(logx.String("comp", "launch")))

	schedCfg, err := mapSchedConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := sched.New(schedCfg, store, launcher, bus, log.With(logx.String("comp", "sched")))

	recurSvc := recurring.New(store, schedSvc, log.With(logx.String("comp", "recurring")))

	pprofSvc := pprof.New(pprof.Config{
		Enabled:       cfg.Debug.Pprof.Enabled,
		Addr:          cfg.Debug.Pprof.Addr,
		Token:         cfg.Debug.Pprof.Token,
		AllowInsecure: cfg.Debug.Pprof.AllowInsecure,
	}, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		browser:  bc,
		launcher: launcher,
		sched:    schedSvc,
		recur:    recurSvc,
		pprof:    pprofSvc,
	}, nil
}

// Scheduler exposes the task scheduler for callers embedding the app.
func (a *App) Scheduler() *sched.Service { return a.sched }

func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.sched.Start(a.sup.Context())
	a.recur.Start(a.cfgm.Get().Recurring)
	a.pprof.Start(a.sup.Context())

	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Event tap for debug visibility; components subscribe themselves for
	// anything functional.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Bound each shutdown step so one stuck component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Recurring first so no new jobs land while the scheduler drains.
	step("recurring", 2*time.Second, func(c context.Context) error { a.recur.Stop(c); return nil })
	step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Shutdown(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	path := strings.TrimSpace(cfg.Storage.Path)
	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
}

func mapSchedConfig(cfg *config.Config) (sched.Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, time.Second)
	if err != nil {
		return sched.Config{}, err
	}
	estimate, err := config.ParseDurationOrDefault("scheduler.per_job_estimate", cfg.Scheduler.PerJobEstimate, 30*time.Second)
	if err != nil {
		return sched.Config{}, err
	}
	return sched.Config{
		MaxConcurrent:  cfg.Scheduler.MaxConcurrentTasks,
		Tokens:         cfg.Scheduler.ProfileTokens,
		PollInterval:   poll,
		PerJobEstimate: estimate,
	}, nil
}

func validateConfig(cfg *config.Config) error {
	if cfg.Scheduler.MaxConcurrentTasks < 0 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be >= 0")
	}
	if _, err := config.ParseDurationField("scheduler.poll_interval", cfg.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("scheduler.per_job_estimate", cfg.Scheduler.PerJobEstimate); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("browser.timeout", cfg.Browser.Timeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if cfg.Launcher.LaunchesPerMinute < 0 {
		return fmt.Errorf("launcher.launches_per_minute must be >= 0")
	}
	for i, def := range cfg.Recurring {
		if strings.TrimSpace(def.Name) == "" {
			return fmt.Errorf("recurring[%d].name is required", i)
		}
		if strings.TrimSpace(def.TargetURL) == "" {
			return fmt.Errorf("recurring[%d].target_url is required", i)
		}
		if _, err := recurring.ParseSchedule(def.Schedule); err != nil {
			return fmt.Errorf("recurring[%d] (%s): %w", i, def.Name, err)
		}
	}
	return nil
}
