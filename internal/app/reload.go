package app

import (
	"context"

	"scraperd/internal/config"
	logx "scraperd/pkg/logx"
)

// startConfigReload applies validated config updates published by the
// watcher. Only logging and recurring definitions reload live; storage,
// scheduler sizing, and the browser endpoint need a restart, which is
// logged rather than silently ignored.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})
}

func (a *App) applyConfig(old, cfg *config.Config) {
	if cfg == nil {
		return
	}

	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if old != nil {
		if old.Storage != cfg.Storage {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
		if !schedulerEqual(old.Scheduler, cfg.Scheduler) {
			a.log.Warn("scheduler config changed; restart required for changes to take effect")
		}
		if old.Browser != cfg.Browser {
			a.log.Warn("browser config changed; restart required for changes to take effect")
		}
		if old.Debug != cfg.Debug {
			a.log.Warn("debug config changed; restart required for changes to take effect")
		}
	}

	a.recur.Reload(cfg.Recurring)
	a.log.Info("config reloaded")
}

func schedulerEqual(a, b config.SchedulerConfig) bool {
	if a.MaxConcurrentTasks != b.MaxConcurrentTasks ||
		a.PollInterval != b.PollInterval ||
		a.PerJobEstimate != b.PerJobEstimate ||
		len(a.ProfileTokens) != len(b.ProfileTokens) {
		return false
	}
	for i := range a.ProfileTokens {
		if a.ProfileTokens[i] != b.ProfileTokens[i] {
			return false
		}
	}
	return true
}
