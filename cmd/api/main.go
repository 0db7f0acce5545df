package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agentfin/internal/infrastructure"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.Info("starting")
	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}
