// Package app is the root object of the client: it owns the connection
// controller and wires the chat panel and terminal bridge to it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/neuralterm/internal/chat"
	"github.com/ashureev/neuralterm/internal/client"
	"github.com/ashureev/neuralterm/internal/config"
	"github.com/ashureev/neuralterm/internal/listener"
	"github.com/ashureev/neuralterm/internal/protocol"
	"github.com/ashureev/neuralterm/internal/session"
	"github.com/ashureev/neuralterm/internal/terminal"
)

// Event is delivered to UI subscribers.
type Event interface{ isEvent() }

// StatusChanged carries a new connection snapshot.
type StatusChanged struct{ Snapshot session.Snapshot }

// ChatChanged signals that the chat log or processing indicator changed.
type ChatChanged struct{}

// AIStatusChanged carries the latest server status report or the error
// fetching it.
type AIStatusChanged struct {
	Status *client.Status
	Err    error
}

// Failure is an error the user should see in a dialog.
type Failure struct {
	Title string
	Err   error
}

func (StatusChanged) isEvent()   {}
func (ChatChanged) isEvent()     {}
func (AIStatusChanged) isEvent() {}
func (Failure) isEvent()         {}

// API is the HTTP surface the coordinator needs.
type API interface {
	chat.Fallback
	SetSessionID(id string)
}

// Deps are the collaborators handed to New.
type Deps struct {
	Dial      session.DialFunc
	API       API
	Widget    terminal.Widget
	Clipboard Clipboard // optional
	Clock     session.Clock
	Logger    *slog.Logger
}

// Coordinator owns the single connection and everything bound to it.
type Coordinator struct {
	cfg       *config.Client
	ctrl      *session.Controller
	panel     *chat.Panel
	bridge    *terminal.Bridge
	api       API
	clipboard Clipboard
	clock     session.Clock
	logger    *slog.Logger
	startedAt time.Time

	events listener.Set[Event]
	unsubs []func()

	mu       sync.Mutex
	aiStatus *client.Status
	errSub   func()
	cancel   context.CancelFunc
	group    *errgroup.Group
	closed   bool
}

// New builds the controller, chat panel and terminal bridge.
func New(cfg *config.Client, deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = session.WallClock{}
	}

	opts := cfg.SessionOptions()
	opts.Clock = clock
	opts.Logger = logger
	ctrl := session.NewController(deps.Dial, opts)

	c := &Coordinator{
		cfg:       cfg,
		ctrl:      ctrl,
		api:       deps.API,
		clipboard: deps.Clipboard,
		clock:     clock,
		logger:    logger.With("component", "app"),
		startedAt: clock.Now(),
	}
	c.panel = chat.NewPanel(ctrl, deps.API, chat.Options{HistoryLimit: cfg.HistoryLimit, Logger: logger})
	c.bridge = terminal.NewBridge(ctrl, deps.Widget, logger)

	c.unsubs = []func(){
		ctrl.OnStatus(func(s session.Snapshot) {
			c.guard("status", func() {
				c.api.SetSessionID(s.SessionID)
				c.events.Emit(StatusChanged{Snapshot: s})
			})
		}),
		ctrl.OnError(func(err error) {
			c.guard("error", func() {
				c.events.Emit(Failure{
					Title: "Connection Failed",
					Err:   fmt.Errorf("unable to establish neural interface connection, press Ctrl+R to retry: %w", err),
				})
			})
		}),
		c.panel.OnChange(func() {
			c.guard("chat", func() { c.events.Emit(ChatChanged{}) })
		}),
		ctrl.OnChannel(c.watchErrors),
	}
	return c
}

// watchErrors turns server error events on ch into System Error dialogs.
// Errors carrying a request id belong to the chat panel and are skipped.
func (c *Coordinator) watchErrors(ch session.Channel) {
	unsub := ch.On(protocol.EventError, func(m protocol.Message) {
		if m.ID != "" {
			return
		}
		text := m.Message
		if text == "" {
			text = "unknown server error"
		}
		c.guard("server error", func() {
			c.events.Emit(Failure{Title: "System Error", Err: errors.New(text)})
		})
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return
	}
	old := c.errSub
	c.errSub = unsub
	c.mu.Unlock()
	if old != nil {
		old()
	}
}

// OnEvent registers fn for UI events. fn may be called from any goroutine.
func (c *Coordinator) OnEvent(fn func(Event)) (unsubscribe func()) {
	return c.events.Add(fn)
}

// Start connects, fetches the AI status and starts the status poll. It
// returns once the first connect attempt has finished.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.ErrClosed
	}
	if c.group != nil {
		c.mu.Unlock()
		return errors.New("already started")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	c.cancel = cancel
	c.group = g
	c.mu.Unlock()

	g.Go(func() error {
		c.pollStatus(gctx)
		return nil
	})

	err := c.ctrl.Connect(ctx)
	if err != nil {
		c.logger.Warn("Initial connect failed", "error", err)
	}
	c.CheckStatus(ctx)
	return err
}

// Refresh reconnects with a fresh retry budget and re-reads the AI status.
func (c *Coordinator) Refresh(ctx context.Context) error {
	err := c.ctrl.Refresh(ctx)
	c.CheckStatus(ctx)
	return err
}

// CheckStatus fetches GET /api/status and publishes the result.
func (c *Coordinator) CheckStatus(ctx context.Context) {
	status, err := c.api.Status(ctx)
	if err != nil {
		c.logger.Warn("Failed to get system status", "error", err)
	} else {
		c.mu.Lock()
		c.aiStatus = status
		c.mu.Unlock()
	}
	c.guard("ai status", func() { c.events.Emit(AIStatusChanged{Status: status, Err: err}) })
}

func (c *Coordinator) pollStatus(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckStatus(ctx)
		}
	}
}

// Submit runs a chat command or sends a chat message.
func (c *Coordinator) Submit(ctx context.Context, text string) error {
	return c.panel.Submit(ctx, text)
}

// Paste sends the clipboard contents to the terminal.
func (c *Coordinator) Paste(ctx context.Context) error {
	if c.clipboard == nil {
		return terminal.ErrNoClipboard
	}
	return c.bridge.Paste(ctx, c.clipboard)
}

// CopyLastReply puts the most recent assistant entry on the clipboard.
func (c *Coordinator) CopyLastReply() error {
	if c.clipboard == nil {
		return terminal.ErrNoClipboard
	}
	msgs := c.panel.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			return c.clipboard.WriteAll(msgs[i].Text)
		}
	}
	return errors.New("no reply to copy")
}

// Execute runs cmd in the remote terminal.
func (c *Coordinator) Execute(ctx context.Context, cmd string) error {
	return c.bridge.Execute(ctx, cmd)
}

// ClearTerminal wipes the terminal display.
func (c *Coordinator) ClearTerminal() { c.bridge.Clear() }

// ClearChat resets the chat log to its banner.
func (c *Coordinator) ClearChat() { c.panel.Clear() }

// Snapshot returns the connection state.
func (c *Coordinator) Snapshot() session.Snapshot { return c.ctrl.Snapshot() }

// Messages returns the chat log, banner first.
func (c *Coordinator) Messages() []chat.Message { return c.panel.Messages() }

// Processing reports whether a chat reply is outstanding.
func (c *Coordinator) Processing() bool { return c.panel.Processing() }

// Panel returns the chat panel.
func (c *Coordinator) Panel() *chat.Panel { return c.panel }

// AIStatus returns the last status report, or nil before the first one.
func (c *Coordinator) AIStatus() *client.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aiStatus
}

// HasClipboard reports whether clipboard integration is available.
func (c *Coordinator) HasClipboard() bool { return c.clipboard != nil }

// Uptime is the time since New.
func (c *Coordinator) Uptime() time.Duration { return c.clock.Now().Sub(c.startedAt) }

// Close stops background work, closes the connection and drops all
// subscriptions. Results of in-flight requests are ignored.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, g := c.cancel, c.group
	errSub := c.errSub
	c.errSub = nil
	c.mu.Unlock()

	if errSub != nil {
		errSub()
	}
	if cancel != nil {
		cancel()
		_ = g.Wait()
	}
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.events.Reset()
	c.panel.Close()
	return errors.Join(c.ctrl.Close(), c.bridge.Close())
}

// guard runs fn and turns a panic into a Failure event.
func (c *Coordinator) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Recovered from panic in callback", "callback", name, "panic", r)
			c.events.Emit(Failure{Title: "System Error", Err: fmt.Errorf("%s: %v", name, r)})
		}
	}()
	fn()
}

// FormatUptime renders d as HH:MM:SS.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
