package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/mkhaled87/chat-relay/internal/server"
	"github.com/mkhaled87/chat-relay/pkg/config"
	"github.com/mkhaled87/chat-relay/pkg/logging"
	"github.com/mkhaled87/chat-relay/pkg/store/mongostore"
)

func main() {
	logger := logging.New(logging.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger = logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// No degraded no-persistence mode: an unreachable store is fatal.
	st, err := mongostore.New(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("Failed to connect to store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close(context.Background())

	app := server.NewApp(logger, ctx, cfg, st)
	if err := app.Run(); err != nil {
		logger.Error("Server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}
