// Package protocol defines the JSON frames exchanged over the real-time channel.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Application-level events carried on the wire.
const (
	EventConnected      = "connected"
	EventAIChat         = "ai_chat"
	EventAIResponse     = "ai_response"
	EventTerminalInput  = "terminal_input"
	EventTerminalOutput = "terminal_output"
	EventTerminalResize = "terminal_resize"
	EventPing           = "ping"
	EventPong           = "pong"
	EventError          = "error"
)

// Lifecycle events raised locally by the transport, never sent on the wire.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Message is a single channel frame. Only the fields relevant to Type are set.
// Data holds raw terminal bytes and travels base64-encoded, so chunks that
// split a multibyte rune or carry binary output arrive unchanged.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Response  string `json:"response,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Cols      uint   `json:"cols,omitempty"`
	Rows      uint   `json:"rows,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Encode marshals m for a websocket text frame.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("encode frame: missing type")
	}
	return json.Marshal(m)
}

// Decode parses a frame. Frames without a type are rejected.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("decode frame: missing type")
	}
	return m, nil
}

// Connected builds the session acknowledgment sent by the server.
func Connected(sessionID string) Message {
	return Message{Type: EventConnected, SessionID: sessionID}
}

// Chat builds an ai_chat request.
func Chat(id, text string) Message {
	return Message{Type: EventAIChat, ID: id, Message: text}
}

// Reply builds an ai_response.
func Reply(id, text string, ts int64) Message {
	return Message{Type: EventAIResponse, ID: id, Response: text, Timestamp: ts}
}

// Input builds a terminal_input frame.
func Input(data []byte) Message {
	return Message{Type: EventTerminalInput, Data: data}
}

// Output builds a terminal_output frame.
func Output(data []byte) Message {
	return Message{Type: EventTerminalOutput, Data: data}
}

// Resize builds a terminal_resize frame.
func Resize(cols, rows uint) Message {
	return Message{Type: EventTerminalResize, Cols: cols, Rows: rows}
}

// Ping builds a health probe.
func Ping(ts int64) Message {
	return Message{Type: EventPing, Timestamp: ts}
}

// Failure builds a server-side error event.
func Failure(text string) Message {
	return Message{Type: EventError, Message: text}
}
