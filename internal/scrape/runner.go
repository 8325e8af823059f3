// Package scrape holds the job execution body shared by the in-process
// (thread) launch variant and the scrape-worker binary.
//
// Parsing heuristics intentionally live elsewhere; the collector only opens
// the assigned browser profile, walks the job's target, and records counters.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scraperd/internal/browser"
	"scraperd/internal/storage"
	logx "scraperd/pkg/logx"
)

// Runner executes one scrape job using the browser profile identified by token.
type Runner interface {
	Run(ctx context.Context, job storage.Job, token string) error
}

// Collector is the default Runner. It opens the profile via the browser-pool
// API, fetches the job's target, and records fetch counters to the store.
type Collector struct {
	Browser *browser.Client
	Store   storage.Store
	Log     logx.Logger

	// FetchTimeout bounds a single page fetch. Default 30s.
	FetchTimeout time.Duration
}

func (c *Collector) Run(ctx context.Context, job storage.Job, token string) error {
	log := c.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("job", job.ID), logx.String("token", token))

	if strings.TrimSpace(job.TargetURL) == "" {
		return errors.New("job has no target url")
	}

	if c.Browser != nil {
		ws, err := c.Browser.StartProfile(ctx, token)
		if err != nil {
			return fmt.Errorf("start profile: %w", err)
		}
		log.Debug("profile ready", logx.String("ws", ws))
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.Browser.StopProfile(stopCtx, token); err != nil {
				log.Warn("profile stop failed", logx.Err(err))
			}
			cancel()
		}()
	}

	n, err := c.fetch(ctx, job.TargetURL)
	if n > 0 && c.Store != nil {
		if serr := c.Store.AddPagesFetched(ctx, job.ID, n); serr != nil {
			log.Warn("recording fetch count failed", logx.Err(serr))
		}
	}
	if err != nil {
		return err
	}

	log.Info("scrape finished", logx.Int("pages", n))
	return nil
}

func (c *Collector) fetch(ctx context.Context, target string) (int, error) {
	timeout := c.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused; content analysis is out of scope.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("fetch %s: http %d", target, resp.StatusCode)
	}
	return 1, nil
}
