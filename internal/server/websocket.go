package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/neuralterm/internal/identity"
	"github.com/ashureev/neuralterm/internal/middleware"
	"github.com/ashureev/neuralterm/internal/protocol"
)

const (
	maxFrameBytes   = 1 << 20
	writeTimeout    = 5 * time.Second
	chatTimeout     = 60 * time.Second
	maxChatsPerConn = 4
)

// Chatter answers chat prompts.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// WebSocketHandler serves the real-time channel.
type WebSocketHandler struct {
	ai             Chatter
	registry       *Registry
	allowedOrigins middleware.Origins
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(ai Chatter, registry *Registry, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		ai:             ai,
		registry:       registry,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "ws"),
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("WebSocket connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	sessionID := uuid.NewString()
	h.registry.Register(sessionID, ws)
	defer h.registry.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx = identity.WithSessionID(ctx, sessionID)

	if err := h.write(ctx, ws, protocol.Connected(sessionID)); err != nil {
		h.logger.Warn("Failed to send session acknowledgment", "error", err, "session_id", sessionID)
		return
	}

	chats, chatCtx := errgroup.WithContext(ctx)
	chats.SetLimit(maxChatsPerConn)

	h.readLoop(ctx, ws, chats, chatCtx, sessionID)
	cancel()
	_ = chats.Wait()
	h.logger.Info("Channel session ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if h.allowedOrigins.Allows(origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, chats *errgroup.Group, chatCtx context.Context, sessionID string) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			h.logger.Debug("Dropping malformed frame", "error", err, "session_id", sessionID)
			continue
		}

		switch msg.Type {
		case protocol.EventAIChat:
			chats.Go(func() error {
				h.answer(chatCtx, ws, msg)
				return nil
			})
		case protocol.EventTerminalInput:
			if out := echo(msg.Data); len(out) > 0 {
				if err := h.write(ctx, ws, protocol.Output(out)); err != nil {
					h.logger.Debug("Failed to echo terminal input", "error", err)
					return
				}
			}
		case protocol.EventTerminalResize:
			h.logger.Debug("Terminal resized", "session_id", sessionID, "cols", msg.Cols, "rows", msg.Rows)
		case protocol.EventPing:
			pong := protocol.Message{Type: protocol.EventPong, Timestamp: msg.Timestamp}
			if err := h.write(ctx, ws, pong); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		default:
			h.logger.Debug("Ignoring frame", "type", msg.Type, "session_id", sessionID)
		}
	}
}

// answer replies to one ai_chat. Failures are reported as an error event
// carrying the request id.
func (h *WebSocketHandler) answer(ctx context.Context, ws *websocket.Conn, req protocol.Message) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	reply, err := h.ai.Chat(ctx, req.Message)
	var out protocol.Message
	if err != nil {
		h.logger.Warn("Chat over channel failed", "error", err, "id", req.ID)
		out = protocol.Failure(err.Error())
		out.ID = req.ID
	} else {
		out = protocol.Reply(req.ID, reply, time.Now().UnixMilli())
	}
	if err := h.write(ctx, ws, out); err != nil {
		h.logger.Debug("Failed to send chat reply", "error", err, "id", req.ID)
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

var echoReplacer = strings.NewReplacer(
	"\r", "\r\n",
	"\x7f", "\b \b",
	"\x03", "^C\r\n",
)

// echo renders keystrokes the way a cooked-mode line discipline would
// display them. Nothing is executed.
func echo(data []byte) []byte {
	return []byte(echoReplacer.Replace(string(data)))
}
