package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second)
}

func TestChatReturnsResponse(t *testing.T) {
	t.Parallel()

	var got ChatRequest
	var session string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		session = r.Header.Get(SessionHeader)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response":"ls lists files","timestamp":"2024-01-01T00:00:00"}`))
	})
	c.SetSessionID("sess-9")

	reply, err := c.Chat(context.Background(), "what is ls?")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "ls lists files" {
		t.Fatalf("reply = %q", reply)
	}
	if got.Message != "what is ls?" || session != "sess-9" {
		t.Fatalf("request body %+v session %q", got, session)
	}
}

func TestChatErrorBody(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusOK, http.StatusServiceUnavailable} {
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":"AI unavailable"}`))
		})

		_, err := c.Chat(context.Background(), "status?")
		var rf *RequestFailure
		if !errors.As(err, &rf) {
			t.Fatalf("status %d: expected RequestFailure, got %v", code, err)
		}
		if rf.Reason != "AI unavailable" || rf.Description() != "AI unavailable" {
			t.Fatalf("status %d: reason = %q", code, rf.Reason)
		}
		if !errors.Is(err, ErrRequestFailure) {
			t.Fatalf("status %d: errors.Is(ErrRequestFailure) = false", code)
		}
	}
}

func TestChatFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		code   int
	}{
		{name: "non-2xx without error", status: http.StatusBadGateway, body: `oops`, code: http.StatusBadGateway},
		{name: "malformed json", status: http.StatusOK, body: `{"response":`, code: http.StatusOK},
		{name: "missing response", status: http.StatusOK, body: `{}`, code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Chat(context.Background(), "hi")
			var rf *RequestFailure
			if !errors.As(err, &rf) {
				t.Fatalf("expected RequestFailure, got %v", err)
			}
			if rf.StatusCode != tt.code || rf.Reason != "" || rf.Err == nil {
				t.Fatalf("unexpected failure: %+v", rf)
			}
		})
	}
}

func TestChatNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(srv.URL, time.Second)

	_, err := c.Chat(context.Background(), "hi")
	if !errors.Is(err, ErrRequestFailure) {
		t.Fatalf("expected RequestFailure, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ai_available":true,"openai_available":false,"ollama_available":true,"session_id":"abc","server_time":"2024-05-01T10:00:00"}`))
	})

	got, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	want := &Status{AIAvailable: true, OllamaAvailable: true, SessionID: "abc", ServerTime: "2024-05-01T10:00:00"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusErrorBody(t *testing.T) {
	t.Parallel()

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Access denied"}`))
	})

	_, err := c.Status(context.Background())
	var rf *RequestFailure
	if !errors.As(err, &rf) || rf.Reason != "Access denied" || rf.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected error: %v", err)
	}
}
