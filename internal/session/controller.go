// Package session owns the lifecycle of the client's single real-time
// channel: connect, health probing, and reconnection with capped backoff.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/neuralterm/internal/listener"
	"github.com/ashureev/neuralterm/internal/protocol"
	"github.com/ashureev/neuralterm/internal/transport"
)

var (
	// ErrConnectionTimeout is returned when no acknowledgment arrives within
	// the connect timeout.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrConnectionFailed is reported once automatic retries are exhausted.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrNotConnected is returned by Emit when no channel is live.
	ErrNotConnected = errors.New("not connected")
	// ErrSuperseded is returned by a connect attempt that was overtaken by a
	// newer one.
	ErrSuperseded = errors.New("connect attempt superseded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// Status is the connection state shown to the user. It is always derived
// from the controller's state.
type Status string

const (
	StatusOffline    Status = "offline"
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusError      Status = "error"
)

// Channel is one live connection as seen by the controller and its
// listeners. *transport.Channel satisfies it.
type Channel interface {
	SessionID() string
	On(event string, fn func(protocol.Message)) (unsubscribe func())
	Emit(ctx context.Context, m protocol.Message) error
	Start()
	Close() error
}

// DialFunc opens a channel. onClose must be called at most once when the
// channel stops after a successful dial.
type DialFunc func(ctx context.Context, onClose transport.CloseFunc) (Channel, error)

// WebSocketDialer adapts a transport.Dialer to a DialFunc.
func WebSocketDialer(d *transport.Dialer) DialFunc {
	return func(ctx context.Context, onClose transport.CloseFunc) (Channel, error) {
		ch, err := d.Dial(ctx, onClose)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Connected  bool
	RetryCount int
	SessionID  string
	LastError  string
	Status     Status
}

// Options configures a Controller. Zero fields take the defaults below; a
// negative MaxRetries disables automatic reconnection.
type Options struct {
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryBase      time.Duration
	RetryMax       time.Duration
	HealthInterval time.Duration
	Clock          Clock
	Logger         *slog.Logger
}

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxRetries     = 5
	DefaultRetryBase      = time.Second
	DefaultRetryMax       = 30 * time.Second
	DefaultHealthInterval = 30 * time.Second

	probeWriteTimeout = 5 * time.Second
)

// Controller establishes the channel and recovers it after unexpected loss.
type Controller struct {
	dial   DialFunc
	opts   Options
	clock  Clock
	logger *slog.Logger

	mu           sync.Mutex
	gen          uint64
	ch           Channel
	connected    bool
	connecting   bool
	retryPending bool
	failed       bool
	closed       bool
	retryCount   int
	sessionID    string
	lastError    string
	retryTimer   Timer
	healthTimer  Timer

	channelListeners listener.Set[Channel]
	statusListeners  listener.Set[Snapshot]
	errorListeners   listener.Set[error]
}

// NewController creates a controller that opens channels with dial.
func NewController(dial DialFunc, opts Options) *Controller {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	switch {
	case opts.MaxRetries == 0:
		opts.MaxRetries = DefaultMaxRetries
	case opts.MaxRetries < 0:
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = DefaultRetryMax
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = DefaultHealthInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = WallClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		dial:   dial,
		opts:   opts,
		clock:  clock,
		logger: logger.With("component", "session"),
	}
}

// OnChannel registers fn to receive every newly connected channel.
func (c *Controller) OnChannel(fn func(Channel)) (unsubscribe func()) {
	return c.channelListeners.Add(fn)
}

// OnStatus registers fn to receive a snapshot after every state change.
func (c *Controller) OnStatus(fn func(Snapshot)) (unsubscribe func()) {
	return c.statusListeners.Add(fn)
}

// OnError registers fn to receive terminal failures.
func (c *Controller) OnError(fn func(error)) (unsubscribe func()) {
	return c.errorListeners.Add(fn)
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Connected reports whether a channel is live.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect opens a new channel, replacing any current one. A failed attempt
// schedules a retry while the retry budget lasts.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.stopRetryLocked()
	c.stopHealthLocked()
	c.gen++
	gen := c.gen
	old := c.ch
	c.ch = nil
	c.connected = false
	c.connecting = true
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.statusListeners.Emit(snap)

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	c.logger.Info("Connecting", "attempt", gen)
	ch, err := c.dial(attemptCtx, func(reason string, err error) {
		c.handleClose(gen, reason, err)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %w", ErrConnectionTimeout, c.opts.ConnectTimeout, err)
		}
		c.handleFailure(gen, err, ctx.Err() != nil)
		return err
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		_ = ch.Close()
		return ErrSuperseded
	}
	c.ch = ch
	c.connected = true
	c.connecting = false
	c.failed = false
	c.retryCount = 0
	c.sessionID = ch.SessionID()
	c.lastError = ""
	c.scheduleHealthLocked(gen)
	snap = c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("Connected", "session_id", snap.SessionID)
	c.channelListeners.Emit(ch)
	c.statusListeners.Emit(snap)
	ch.Start()
	return nil
}

// Refresh closes the current channel and reconnects with a fresh retry
// budget.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.retryCount = 0
	c.failed = false
	c.mu.Unlock()

	c.logger.Info("Refreshing connection")
	return c.Connect(ctx)
}

// Emit sends m on the live channel.
func (c *Controller) Emit(ctx context.Context, m protocol.Message) error {
	c.mu.Lock()
	ch := c.ch
	connected := c.connected
	c.mu.Unlock()
	if ch == nil || !connected {
		return ErrNotConnected
	}
	return ch.Emit(ctx, m)
}

// Close stops all timers and closes the channel. Listeners are not called
// afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.stopRetryLocked()
	c.stopHealthLocked()
	ch := c.ch
	c.ch = nil
	c.connected = false
	c.connecting = false
	c.mu.Unlock()

	c.channelListeners.Reset()
	c.statusListeners.Reset()
	c.errorListeners.Reset()

	if ch != nil {
		return ch.Close()
	}
	return nil
}

func (c *Controller) handleClose(gen uint64, reason string, err error) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.ch = nil
	c.connected = false
	c.stopHealthLocked()

	if reason == transport.ReasonClientClose {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.logger.Info("Channel closed locally")
		c.statusListeners.Emit(snap)
		return
	}

	c.lastError = reason
	c.logger.Warn("Channel lost", "reason", reason, "error", err, "retry_count", c.retryCount)
	failure := c.retryOrFailLocked(gen)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusListeners.Emit(snap)
	if failure != nil {
		c.errorListeners.Emit(failure)
	}
}

func (c *Controller) handleFailure(gen uint64, err error, canceled bool) {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.connecting = false
	c.lastError = err.Error()
	c.logger.Warn("Connect attempt failed", "error", err, "retry_count", c.retryCount)

	var failure error
	if !canceled {
		failure = c.retryOrFailLocked(gen)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusListeners.Emit(snap)
	if failure != nil {
		c.errorListeners.Emit(failure)
	}
}

// retryOrFailLocked schedules the next attempt or, once the budget is spent,
// marks the session failed and returns the error to report.
func (c *Controller) retryOrFailLocked(gen uint64) error {
	if c.retryCount < c.opts.MaxRetries {
		delay := Backoff(c.retryCount, c.opts.RetryBase, c.opts.RetryMax)
		c.retryCount++
		c.retryPending = true
		c.logger.Info("Scheduling reconnect", "attempt", c.retryCount, "max", c.opts.MaxRetries, "delay", delay)
		c.retryTimer = c.clock.AfterFunc(delay, func() { c.fireRetry(gen) })
		return nil
	}

	c.failed = true
	failure := fmt.Errorf("%w: %d retries exhausted (last error: %s)", ErrConnectionFailed, c.retryCount, c.lastError)
	c.lastError = failure.Error()
	c.logger.Error("Giving up on connection", "retries", c.retryCount)
	return failure
}

func (c *Controller) fireRetry(gen uint64) {
	c.mu.Lock()
	if c.closed || c.gen != gen || !c.retryPending {
		c.mu.Unlock()
		return
	}
	c.retryPending = false
	c.retryTimer = nil
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		c.logger.Debug("Reconnect attempt failed", "error", err)
	}
}

func (c *Controller) scheduleHealthLocked(gen uint64) {
	c.healthTimer = c.clock.AfterFunc(c.opts.HealthInterval, func() { c.probe(gen) })
}

// probe sends a liveness ping. Failures are logged only; reconnection is
// driven by close events.
func (c *Controller) probe(gen uint64) {
	c.mu.Lock()
	if c.closed || c.gen != gen || !c.connected || c.ch == nil {
		c.mu.Unlock()
		return
	}
	ch := c.ch
	c.scheduleHealthLocked(gen)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), probeWriteTimeout)
	defer cancel()
	if err := ch.Emit(ctx, protocol.Ping(c.clock.Now().UnixMilli())); err != nil {
		c.logger.Warn("Health probe failed", "error", err)
	}
}

func (c *Controller) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryPending = false
}

func (c *Controller) stopHealthLocked() {
	if c.healthTimer != nil {
		c.healthTimer.Stop()
		c.healthTimer = nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Connected:  c.connected,
		RetryCount: c.retryCount,
		SessionID:  c.sessionID,
		LastError:  c.lastError,
		Status:     c.statusLocked(),
	}
}

func (c *Controller) statusLocked() Status {
	switch {
	case c.connected:
		return StatusOnline
	case c.failed:
		return StatusError
	case c.connecting, c.retryPending:
		return StatusConnecting
	default:
		return StatusOffline
	}
}

// ShortID abbreviates a session id for display.
func ShortID(id string) string {
	if id == "" {
		return "UNKNOWN"
	}
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
