// scrape-worker is the fixed out-of-process job body. The daemon spawns it
// with a temp spec artifact; it loads the shared config, runs the scrape,
// writes a terminal status, and exits. On SIGTERM it cancels the scrape so
// the browser profile is closed before the grace period runs out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"scraperd/internal/browser"
	"scraperd/internal/config"
	"scraperd/internal/scrape"
	"scraperd/internal/storage"
	"scraperd/internal/task/launch"
	logx "scraperd/pkg/logx"
)

func main() {
	var specPath string
	flag.StringVar(&specPath, "job", "", "path to the worker spec artifact")
	flag.Parse()

	if specPath == "" {
		fmt.Println("fatal: -job is required")
		os.Exit(2)
	}

	spec, err := launch.ReadWorkerSpec(specPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(2)
	}

	cfg, err := config.NewManager(spec.ConfigPath).Load()
	if err != nil {
		fmt.Println("fatal: load config:", err)
		os.Exit(2)
	}

	log := logx.NewConsole(cfg.Logging.Level).With(
		logx.String("comp", "worker"),
		logx.String("job", spec.JobID),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, spec, log); err != nil {
		log.Error("scrape failed", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, spec launch.WorkerSpec, log logx.Logger) error {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var bc *browser.Client
	if strings.TrimSpace(cfg.Browser.APIURL) != "" {
		timeout, err := config.ParseDurationOrDefault("browser.timeout", cfg.Browser.Timeout, 15*time.Second)
		if err != nil {
			return err
		}
		bc, err = browser.NewClient(browser.Config{APIURL: cfg.Browser.APIURL, Timeout: timeout}, log)
		if err != nil {
			return err
		}
	}

	job, err := store.GetJob(ctx, spec.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	collector := &scrape.Collector{Browser: bc, Store: store, Log: log}
	runErr := collector.Run(ctx, *job, spec.Token)

	// Status writes use a fresh context: the signal context is likely already
	// canceled on the stop path. A rejected transition means the daemon
	// recorded stopped first; that record wins.
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()

	switch {
	case runErr == nil:
		if err := store.SetJobStatus(sctx, spec.JobID, storage.StatusCompleted, ""); err != nil {
			log.Debug("completed status write rejected", logx.Err(err))
		}
		return nil
	case errors.Is(runErr, context.Canceled):
		if err := store.SetJobStatus(sctx, spec.JobID, storage.StatusStopped, ""); err != nil {
			log.Debug("stopped status write rejected", logx.Err(err))
		}
		log.Info("scrape canceled")
		return nil
	default:
		if err := store.SetJobStatus(sctx, spec.JobID, storage.StatusFailed, runErr.Error()); err != nil {
			log.Debug("failed status write rejected", logx.Err(err))
		}
		return runErr
	}
}
