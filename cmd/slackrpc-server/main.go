package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"slackrpc/pkg/server"
)

func main() {
	cfg, err := server.LoadConfig(os.Getenv("SLACKRPC_CONFIG"), os.Getenv)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(server.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
