// Command fundingbot runs the funding rate arbitrage bot. It loads and
// validates configuration, then hands control to the mode loop in
// internal/app until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/fundingbot/internal/app"
	"github.com/alanyoungcy/fundingbot/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Bootstrap logger at info so config load failures are visible; replaced
	// below once the configured level is known.
	setLogger(slog.LevelInfo)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := setLogger(parseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("funding bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("funding bot stopped")
	return nil
}

// setLogger installs a JSON logger at the given level as the process default.
func setLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
