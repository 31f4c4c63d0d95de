// Package agent produces AI replies for the development server.
package agent

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no responder is configured or reachable.
var ErrUnavailable = errors.New("AI unavailable")

// Responder answers a single prompt.
type Responder interface {
	// Name identifies the backend in logs and status reports.
	Name() string

	// Respond returns the reply for prompt.
	Respond(ctx context.Context, prompt string) (string, error)

	// Available reports whether the backend can currently answer.
	Available(ctx context.Context) bool
}

// Availability is the per-backend view served by GET /api/status.
type Availability struct {
	AI     bool `json:"ai_available"`
	OpenAI bool `json:"openai_available"`
	Ollama bool `json:"ollama_available"`
}
