package config

import (
	"testing"
	"time"
)

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("NEURALTERM_SERVER_URL", "http://localhost:8080")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.ConnectTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.RetryBase != time.Second || cfg.RetryMax != 30*time.Second {
		t.Errorf("retry bounds = %v..%v, want 1s..30s", cfg.RetryBase, cfg.RetryMax)
	}
	if cfg.HealthInterval != 30*time.Second {
		t.Errorf("HealthInterval = %v, want 30s", cfg.HealthInterval)
	}
	if cfg.HistoryLimit != 20 {
		t.Errorf("HistoryLimit = %d, want 20", cfg.HistoryLimit)
	}
}

func TestLoadClientRejectsBadURL(t *testing.T) {
	t.Setenv("NEURALTERM_SERVER_URL", "localhost:8080")

	if _, err := LoadClient(); err == nil {
		t.Fatal("expected error for URL without scheme")
	}
}

func TestLoadClientIgnoresUnparsableDurations(t *testing.T) {
	t.Setenv("NEURALTERM_SERVER_URL", "http://localhost:8080")
	t.Setenv("NEURALTERM_CONNECT_TIMEOUT", "soon")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient failed: %v", err)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("expected fallback timeout, got %v", cfg.ConnectTimeout)
	}
}

func TestSessionOptions(t *testing.T) {
	t.Parallel()

	c := &Client{ConnectTimeout: 10 * time.Second, MaxRetries: 3, RetryBase: time.Second, RetryMax: 30 * time.Second, HealthInterval: time.Minute}
	opts := c.SessionOptions()
	if opts.MaxRetries != 3 || opts.ConnectTimeout != 10*time.Second || opts.HealthInterval != time.Minute {
		t.Fatalf("options = %+v", opts)
	}

	c.MaxRetries = 0
	if got := c.SessionOptions().MaxRetries; got != -1 {
		t.Fatalf("MaxRetries 0 maps to %d, want -1 (no automatic retries)", got)
	}
}

func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://deck.lan/", "wss://deck.lan/ws"},
		{"http://10.0.0.2:9000/app", "ws://10.0.0.2:9000/app/ws"},
	}
	for _, tt := range tests {
		c := &Client{ServerURL: tt.server}
		if got := c.WebSocketURL(); got != tt.want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tt.server, got, tt.want)
		}
	}
}

func TestLoadServerOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "http://a.lan, http://b.lan ,")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer failed: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.lan" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadServerRequiresPort(t *testing.T) {
	t.Setenv("PORT", "")

	if _, err := LoadServer(); err == nil {
		t.Fatal("expected error for empty PORT")
	}
}
