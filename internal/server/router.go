package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/neuralterm/internal/agent"
	"github.com/ashureev/neuralterm/internal/api"
	"github.com/ashureev/neuralterm/internal/identity"
	"github.com/ashureev/neuralterm/internal/middleware"
)

// AI is the assistant behind both the HTTP and channel chat paths.
type AI interface {
	api.Assistant
}

// NewRouter wires the HTTP API and the channel endpoint.
func NewRouter(ai AI, registry *Registry, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware)

	api.NewHandler(ai).RegisterRoutes(r)
	r.Get("/ws", NewWebSocketHandler(ai, registry, allowedOrigins, logger).ServeHTTP)

	return r
}

var _ AI = (*agent.Service)(nil)
