// Package client implements the request/response HTTP calls used when the
// real-time channel is unavailable.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SessionHeader carries the channel session id on fallback requests.
const SessionHeader = "X-Neuralterm-Session"

const maxBodyBytes = 1 << 20

// ErrRequestFailure matches every *RequestFailure.
var ErrRequestFailure = errors.New("request failed")

// RequestFailure reports a non-2xx status, an error body, a malformed reply
// or a network failure from a fallback call.
type RequestFailure struct {
	Endpoint   string
	StatusCode int
	// Reason is the server's {"error": ...} text, if it sent one.
	Reason string
	Err    error
}

func (e *RequestFailure) Error() string {
	return e.Endpoint + ": " + e.Description()
}

// Description is the human-readable cause without the endpoint prefix.
func (e *RequestFailure) Description() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	case e.StatusCode != 0:
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	default:
		return "unknown failure"
	}
}

func (e *RequestFailure) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRequestFailure) hold for any RequestFailure.
func (e *RequestFailure) Is(target error) bool { return target == ErrRequestFailure }

// Status is the server's GET /api/status report.
type Status struct {
	AIAvailable     bool   `json:"ai_available"`
	OpenAIAvailable bool   `json:"openai_available"`
	OllamaAvailable bool   `json:"ollama_available"`
	SessionID       string `json:"session_id"`
	ServerTime      string `json:"server_time"`
}

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the POST /api/chat reply. Exactly one field is set.
type ChatResponse struct {
	Response  *string `json:"response,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// Client talks to the server's HTTP API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	mu        sync.RWMutex
	sessionID string
}

// New returns a client for baseURL with the given per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetSessionID sets the session id sent with every request.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// Chat sends one message and returns the assistant's reply.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	const endpoint = "POST /api/chat"

	resp, err := c.postJSON(ctx, "/api/chat", ChatRequest{Message: message})
	if err != nil {
		return "", &RequestFailure{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &RequestFailure{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	var reply ChatResponse
	decodeErr := json.Unmarshal(body, &reply)
	if decodeErr == nil && reply.Error != "" {
		return "", &RequestFailure{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: reply.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RequestFailure{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP error! status: %d", resp.StatusCode)}
	}
	if decodeErr != nil {
		return "", &RequestFailure{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed reply: %w", decodeErr)}
	}
	if reply.Response == nil {
		return "", &RequestFailure{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errors.New("malformed reply: missing response")}
	}
	return *reply.Response, nil
}

// Status fetches the server's AI availability report.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	const endpoint = "GET /api/status"

	resp, err := c.get(ctx, "/api/status")
	if err != nil {
		return nil, &RequestFailure{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(endpoint, resp)
	}
	var status Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&status); err != nil {
		return nil, &RequestFailure{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode status: %w", err)}
	}
	return &status, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	return c.HTTPClient.Do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)
	return c.HTTPClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	id := c.sessionID
	c.mu.RUnlock()
	if id != "" {
		req.Header.Set(SessionHeader, id)
	}
}

func (c *Client) parseError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return &RequestFailure{Endpoint: endpoint, StatusCode: resp.StatusCode, Reason: apiErr.Error}
	}
	return &RequestFailure{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
}
