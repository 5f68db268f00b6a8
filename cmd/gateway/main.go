// EchoMine gateway - streaming voice-chat entry point.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sakura-kurt/EchoMine/internal/api"
	"github.com/Sakura-kurt/EchoMine/internal/auth"
	"github.com/Sakura-kurt/EchoMine/internal/config"
	"github.com/Sakura-kurt/EchoMine/internal/dispatch"
	"github.com/Sakura-kurt/EchoMine/internal/gateway"
	"github.com/Sakura-kurt/EchoMine/internal/middleware"
	"github.com/Sakura-kurt/EchoMine/internal/segment"
	"github.com/Sakura-kurt/EchoMine/internal/store"
	"github.com/Sakura-kurt/EchoMine/internal/upstream"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
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

	slog.Info("Starting gateway", "port", cfg.Port)

	// Initialize dependencies.
	st, err := store.NewRedis(cfg.RedisURL, cfg.SessionTimeout)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	if err := st.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected")

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

	authSvc := auth.NewService(st, cfg.JWTSecret, cfg.TokenTTL)

	engineCfg := segment.Config{
		SampleRate:        cfg.Audio.SampleRate,
		FrameDuration:     cfg.Audio.FrameDuration,
		SilenceCutoff:     cfg.Audio.SilenceCutoff,
		MinUtterance:      cfg.Audio.MinUtterance,
		MaxUtterance:      cfg.Audio.MaxUtterance,
		TranscribeTimeout: cfg.TranscribeTimeout,
	}
	classifier := segment.NewEnergyClassifier(0)
	transcriber := upstream.NewTranscriber(cfg.TranscriberURL)

	// Initialize handlers.
	apiHandler := api.NewHandler(authSvc, st)
	wsHandler := gateway.NewHandler(authSvc, st, fabric, gateway.NewRegistry(), engineCfg, classifier, transcriber, cfg.AllowedOrigin)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{cfg.AllowedOrigin}))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Create server. Streaming connections are long-lived, so no write
	// timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Gateway stopped successfully")
}
