// Neuralterm loopback development server.
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

	"github.com/joho/godotenv"

	"github.com/ashureev/neuralterm/internal/agent"
	"github.com/ashureev/neuralterm/internal/config"
	"github.com/ashureev/neuralterm/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port)

	var responders []agent.Responder
	if cfg.OllamaURL != "" {
		responders = append(responders, agent.NewOllama(cfg.OllamaURL, cfg.OllamaModel, logger))
	}
	if cfg.EchoAI {
		responders = append(responders, agent.Echo{})
	}
	svc := agent.NewService(logger, responders...)
	if len(responders) == 0 {
		slog.Info("AI features disabled (OLLAMA_URL not set and DEV_ECHO_AI off)")
	} else {
		slog.Info("AI responders configured", "responders", svc.Responders())
	}

	registry := server.NewRegistry()
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     server.NewRouter(svc, registry, cfg.AllowedOrigins, logger),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...", "open_channels", registry.Len())
	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
