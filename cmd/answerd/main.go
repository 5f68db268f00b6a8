// EchoMine answer worker - consumes utterances, publishes correlated replies.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sakura-kurt/EchoMine/internal/config"
	"github.com/Sakura-kurt/EchoMine/internal/dispatch"
	"github.com/Sakura-kurt/EchoMine/internal/upstream"
	"github.com/Sakura-kurt/EchoMine/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	fabric, err := dispatch.Connect(cfg.AMQPURL)
	if err != nil {
		slog.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := fabric.Close(); closeErr != nil {
			slog.Error("Failed to close broker connection", "error", closeErr)
		}
	}()
	slog.Info("Dispatch fabric ready")

	answerer := upstream.NewAnswerer(cfg.AnswerURL)
	w := worker.NewAnswerWorker(fabric, answerer, cfg.AnswerTimeout, cfg.MaxJobRetries)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Answer worker started", "queue", dispatch.UtteranceQueue)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Answer worker failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Answer worker stopped")
}
