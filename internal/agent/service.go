package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Service routes chat prompts to the first available responder.
type Service struct {
	responders []Responder
	logger     *slog.Logger
}

// NewService creates a service trying responders in order. Nil entries are
// skipped.
func NewService(logger *slog.Logger, responders ...Responder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger.With("component", "agent")}
	for _, r := range responders {
		if r != nil {
			s.responders = append(s.responders, r)
		}
	}
	return s
}

// Chat answers prompt. It returns ErrUnavailable when no responder is up.
func (s *Service) Chat(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	for _, r := range s.responders {
		if !r.Available(ctx) {
			continue
		}
		reply, err := r.Respond(ctx, prompt)
		if err != nil {
			s.logger.Warn("Responder failed", "responder", r.Name(), "error", err)
			return "", err
		}
		s.logger.Debug("Chat answered", "responder", r.Name(), "reply_len", len(reply))
		return reply, nil
	}
	return "", ErrUnavailable
}

// Availability reports which backends can answer right now.
func (s *Service) Availability(ctx context.Context) Availability {
	var a Availability
	for _, r := range s.responders {
		if !r.Available(ctx) {
			continue
		}
		a.AI = true
		switch r.Name() {
		case "ollama":
			a.Ollama = true
		case "openai":
			a.OpenAI = true
		}
	}
	return a
}

// Responders returns the configured backend names, in priority order.
func (s *Service) Responders() []string {
	names := make([]string, 0, len(s.responders))
	for _, r := range s.responders {
		names = append(names, r.Name())
	}
	return names
}
