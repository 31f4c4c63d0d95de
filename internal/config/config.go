// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/neuralterm/internal/session"
)

// Client holds configuration for the neuralterm client.
type Client struct {
	ServerURL      string
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryBase      time.Duration
	RetryMax       time.Duration
	HealthInterval time.Duration
	StatusInterval time.Duration
	HistoryLimit   int
	HTTPTimeout    time.Duration
	Scrollback     int
	LogFile        string
	LogLevel       string
}

// Server holds configuration for the loopback development server.
type Server struct {
	Port           string
	AllowedOrigins []string
	OllamaURL      string
	OllamaModel    string
	EchoAI         bool
}

// LoadClient reads client configuration from environment variables.
func LoadClient() (*Client, error) {
	cfg := &Client{
		ServerURL:      getEnv("NEURALTERM_SERVER_URL", "http://localhost:8080"),
		ConnectTimeout: getEnvDuration("NEURALTERM_CONNECT_TIMEOUT", 10*time.Second),
		MaxRetries:     getEnvInt("NEURALTERM_MAX_RETRIES", 5),
		RetryBase:      getEnvDuration("NEURALTERM_RETRY_BASE", time.Second),
		RetryMax:       getEnvDuration("NEURALTERM_RETRY_MAX", 30*time.Second),
		HealthInterval: getEnvDuration("NEURALTERM_HEALTH_INTERVAL", 30*time.Second),
		StatusInterval: getEnvDuration("NEURALTERM_STATUS_INTERVAL", 60*time.Second),
		HistoryLimit:   getEnvInt("NEURALTERM_HISTORY_LIMIT", 20),
		HTTPTimeout:    getEnvDuration("NEURALTERM_HTTP_TIMEOUT", 60*time.Second),
		Scrollback:     getEnvInt("NEURALTERM_SCROLLBACK", 1000),
		LogFile:        getEnv("NEURALTERM_LOG_FILE", filepath.Join(os.TempDir(), "neuralterm.log")),
		LogLevel:       getEnv("NEURALTERM_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all client fields are usable.
func (c *Client) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("NEURALTERM_SERVER_URL must be an absolute URL, got %q", c.ServerURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("NEURALTERM_SERVER_URL scheme must be http or https, got %q", u.Scheme)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("NEURALTERM_CONNECT_TIMEOUT must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("NEURALTERM_MAX_RETRIES must be >= 0")
	}
	if c.RetryBase <= 0 || c.RetryMax < c.RetryBase {
		return fmt.Errorf("NEURALTERM_RETRY_BASE must be > 0 and <= NEURALTERM_RETRY_MAX")
	}
	if c.HealthInterval <= 0 || c.StatusInterval <= 0 {
		return fmt.Errorf("health and status intervals must be > 0")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("NEURALTERM_HISTORY_LIMIT must be > 0")
	}
	if c.Scrollback <= 0 {
		return fmt.Errorf("NEURALTERM_SCROLLBACK must be > 0")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SessionOptions maps the retry and timing settings onto controller
// options. MaxRetries 0 disables automatic retries. Clock and Logger are
// left for the caller.
func (c *Client) SessionOptions() session.Options {
	maxRetries := c.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}
	return session.Options{
		ConnectTimeout: c.ConnectTimeout,
		MaxRetries:     maxRetries,
		RetryBase:      c.RetryBase,
		RetryMax:       c.RetryMax,
		HealthInterval: c.HealthInterval,
	}
}

// WebSocketURL derives the channel endpoint from the server URL.
func (c *Client) WebSocketURL() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

// LoadServer reads development server configuration from environment variables.
func LoadServer() (*Server, error) {
	cfg := &Server{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		OllamaURL:      getEnv("OLLAMA_URL", ""),
		OllamaModel:    getEnv("OLLAMA_MODEL", "codellama"),
		EchoAI:         getEnvBool("DEV_ECHO_AI", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required server fields are set.
func (c *Server) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	if c.OllamaURL != "" && c.OllamaModel == "" {
		return fmt.Errorf("OLLAMA_MODEL cannot be empty when OLLAMA_URL is set")
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
