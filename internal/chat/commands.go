package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/neuralterm/internal/client"
	"github.com/ashureev/neuralterm/internal/session"
)

const helpText = `Available Commands:
/help   - Show this help message
/clear  - Clear chat history
/status - Show system status

Keys:
Ctrl+K  focus chat      Ctrl+T  focus terminal
Ctrl+R  reconnect       F1      toggle help
Ctrl+L  clear terminal  Esc     close dialogs

Tips:
- Use natural language for AI queries
- Ask about programming, systems, or security
- Request code examples or explanations
- Get help with terminal commands`

// Submit runs input as a slash command when it is one and sends it
// otherwise.
func (p *Panel) Submit(ctx context.Context, input string) error {
	if p.Command(ctx, input) {
		return nil
	}
	return p.Send(ctx, input)
}

// Command handles /help, /clear and /status. It reports false for anything
// else, which the caller sends as a normal message.
func (p *Panel) Command(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "/help":
		p.AddSystem(helpText)
	case "/clear":
		p.Clear()
	case "/status":
		status, err := p.fallback.Status(ctx)
		if err != nil {
			p.AddError("Failed to get system status: " + describe(err))
			return true
		}
		p.AddSystem(FormatStatus(p.link.Connected(), status))
	default:
		return false
	}
	return true
}

func describe(err error) string {
	var rf *client.RequestFailure
	if errors.As(err, &rf) {
		return rf.Description()
	}
	return err.Error()
}

// FormatStatus renders the /status report.
func FormatStatus(connected bool, s *client.Status) string {
	var b strings.Builder
	rule := strings.Repeat("━", 40)

	b.WriteString("System Status Report:\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Connection:  %s\n", pick(connected, "ONLINE", "OFFLINE"))
	fmt.Fprintf(&b, "AI Core:     %s\n", pick(s.AIAvailable, "ACTIVE", "INACTIVE"))
	fmt.Fprintf(&b, "OpenAI:      %s\n", pick(s.OpenAIAvailable, "AVAILABLE", "UNAVAILABLE"))
	fmt.Fprintf(&b, "Ollama:      %s\n", pick(s.OllamaAvailable, "AVAILABLE", "UNAVAILABLE"))
	fmt.Fprintf(&b, "Session:     %s\n", session.ShortID(s.SessionID))
	fmt.Fprintf(&b, "Server Time: %s\n", serverTime(s.ServerTime))
	b.WriteString(rule)
	return b.String()
}

func pick(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

var serverTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func serverTime(raw string) string {
	for _, layout := range serverTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02 15:04:05")
		}
	}
	if raw == "" {
		return "UNKNOWN"
	}
	return raw
}
