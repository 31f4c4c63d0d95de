package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOllamaServer(t *testing.T, tagsStatus int, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(tagsStatus)
		case "/api/generate":
			var req generateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.Stream {
				t.Error("stream should be false")
			}
			if req.Model != "codellama" {
				t.Errorf("model = %q", req.Model)
			}
			_ = json.NewEncoder(w).Encode(generateResponse{Response: reply + " <" + req.Prompt + ">"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestServiceNoResponders(t *testing.T) {
	t.Parallel()

	svc := NewService(nil)
	if _, err := svc.Chat(context.Background(), "hi"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Chat error = %v, want ErrUnavailable", err)
	}
	if got := svc.Availability(context.Background()); got != (Availability{}) {
		t.Fatalf("Availability = %+v", got)
	}
	if ErrUnavailable.Error() != "AI unavailable" {
		t.Fatalf("ErrUnavailable text = %q", ErrUnavailable.Error())
	}
}

func TestServiceEcho(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, nil, Echo{})
	got, err := svc.Chat(context.Background(), "  ls -la  ")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got != "Echo: ls -la" {
		t.Fatalf("reply = %q", got)
	}
	if a := svc.Availability(context.Background()); !a.AI || a.Ollama {
		t.Fatalf("Availability = %+v", a)
	}
	if _, err := svc.Chat(context.Background(), "   "); err == nil {
		t.Fatal("blank prompt should fail")
	}
}

func TestOllamaPreferredWhenUp(t *testing.T) {
	t.Parallel()

	srv := newOllamaServer(t, http.StatusOK, "llama says")
	svc := NewService(nil, NewOllama(srv.URL+"/", "codellama", nil), Echo{})

	got, err := svc.Chat(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got != "llama says <hi>" {
		t.Fatalf("reply = %q", got)
	}
	if a := svc.Availability(context.Background()); !a.AI || !a.Ollama {
		t.Fatalf("Availability = %+v", a)
	}
}

func TestOllamaDownFallsThrough(t *testing.T) {
	t.Parallel()

	srv := newOllamaServer(t, http.StatusInternalServerError, "unused")
	svc := NewService(nil, NewOllama(srv.URL, "codellama", nil), Echo{})

	got, err := svc.Chat(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got != "Echo: hi" {
		t.Fatalf("reply = %q", got)
	}
	if a := svc.Availability(context.Background()); a.Ollama {
		t.Fatalf("Availability = %+v", a)
	}
}

func TestOllamaGenerateError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/generate" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "codellama", nil).Respond(context.Background(), "hi")
	if err == nil || err.Error() != "ollama error: 502" {
		t.Fatalf("Respond error = %v", err)
	}
}
