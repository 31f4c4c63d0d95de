// Package api provides HTTP handlers for the development server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/neuralterm/internal/agent"
	"github.com/ashureev/neuralterm/internal/identity"
)

const maxChatBody = 64 << 10

// Assistant answers chat prompts and reports backend availability.
type Assistant interface {
	Chat(ctx context.Context, prompt string) (string, error)
	Availability(ctx context.Context) agent.Availability
}

// Handler serves the chat and status endpoints.
type Handler struct {
	ai  Assistant
	now func() time.Time
}

// NewHandler creates a Handler backed by ai.
func NewHandler(ai Assistant) *Handler {
	return &Handler{ai: ai, now: time.Now}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Post("/chat", h.Chat)
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

type statusResponse struct {
	agent.Availability
	SessionID  string `json:"session_id"`
	ServerTime string `json:"server_time"`
}

// Chat answers POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "No message provided")
		return
	}

	reply, err := h.ai.Chat(r.Context(), req.Message)
	switch {
	case errors.Is(err, agent.ErrUnavailable):
		Error(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		slog.Warn("Chat request failed", "error", err, "session_id", identity.SessionIDFromContext(r.Context()))
		Error(w, http.StatusBadGateway, err.Error())
		return
	}

	JSON(w, http.StatusOK, chatResponse{Response: reply, Timestamp: h.now().Format(time.RFC3339)})
}

// Status answers GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, statusResponse{
		Availability: h.ai.Availability(r.Context()),
		SessionID:    identity.SessionIDFromContext(r.Context()),
		ServerTime:   h.now().Format(time.RFC3339),
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
