package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"scraperd/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	// Best-effort: no-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopAppStop
	select {
	case <-ctx.Done():
		reason = app.StopSIGTERM
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			fmt.Println("fatal:", err)
		}
		os.Exit(1)
	}
}
