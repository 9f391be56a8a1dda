package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	opscore "github.com/slashforyou/swift-app-sub000"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("OPSCORE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	eng, err := opscore.New(
		opscore.WithLogger(logger),
		opscore.WithVersion(version),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	// Route the agent's own panics through the capture hook so they reach
	// the backend before the process dies.
	defer func() {
		if r := recover(); r != nil {
			eng.Hook().CapturePanic(r)
			eng.FlushAll(5 * time.Second)
			panic(r)
		}
	}()

	eng.Start(ctx)
	eng.Logs().Info("opsagent started", map[string]any{"version": version})

	<-ctx.Done()

	slog.Info("opsagent shutting down")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	eng.Drain(drainCtx)
	return nil
}
