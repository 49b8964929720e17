package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stickerbot/internal/core"
	"stickerbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json/yaml")
	flag.Parse()

	// Bootstrap logger for failures before the configured log service exists.
	boot := logx.NewConsole("info")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := core.NewApp(ctx, cfgPath)
	if err != nil {
		boot.Error("startup failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	reason := core.StopReasonSignal
	select {
	case <-ctx.Done():
	case <-app.Done():
		reason = core.StopReasonFatal
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = app.Stop(stopCtx, reason)

	if reason == core.StopReasonFatal {
		if err := app.Err(); err != nil {
			boot.Error("exiting on fatal error", logx.Err(err))
		}
		os.Exit(1)
	}
}
