package agent

import (
	"context"
	"strings"
)

// Echo replies with the prompt itself. It stands in for a model when none
// is running locally.
type Echo struct{}

// Name implements Responder.
func (Echo) Name() string { return "echo" }

// Respond implements Responder.
func (Echo) Respond(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "Echo: " + strings.TrimSpace(prompt), nil
}

// Available implements Responder.
func (Echo) Available(context.Context) bool { return true }
