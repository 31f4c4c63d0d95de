// Package terminal bridges the channel's terminal stream to a terminal
// widget.
package terminal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/neuralterm/internal/protocol"
	"github.com/ashureev/neuralterm/internal/session"
	"github.com/ashureev/neuralterm/internal/transport"
)

const (
	inputTimeout = 2 * time.Second
	outboxSize   = 256
)

const (
	bannerWelcome      = "\x1b[36mNEURALTERM :: NEURAL INTERFACE TERMINAL\x1b[0m\r\n\x1b[33mConnecting to neural interface...\x1b[0m\r\n"
	bannerConnected    = "\x1b[32m✓ Neural interface connected\x1b[0m\r\n\r\n"
	bannerDisconnected = "\x1b[31m✗ Neural interface disconnected\x1b[0m\r\n"
	bannerReconnecting = "\x1b[33mAttempting to reconnect...\x1b[0m\r\n"
	bannerCleared      = "\x1b[36m════════════ TERMINAL CLEARED ════════════\x1b[0m\r\n\r\n"
)

// ErrNoClipboard is returned by Paste when no clipboard is available.
var ErrNoClipboard = errors.New("clipboard unavailable")

// Widget is a terminal renderer: it displays bytes and reports local
// keystrokes and size changes.
type Widget interface {
	Write(p []byte) (int, error)
	OnData(fn func([]byte)) (unsubscribe func())
	OnResize(fn func(cols, rows int)) (unsubscribe func())
	Dispose() error
}

// Clearer is implemented by widgets that can wipe their display.
type Clearer interface {
	Clear()
}

// Link is the bridge's view of the connection controller.
type Link interface {
	Connected() bool
	Emit(ctx context.Context, m protocol.Message) error
	OnChannel(fn func(session.Channel)) (unsubscribe func())
}

// Clipboard reads text for pasting.
type Clipboard interface {
	ReadAll() (string, error)
}

// Bridge passes terminal_output to the widget and the widget's input and
// resize events back to the channel. Input typed while disconnected is
// dropped. Widget callbacks only queue frames; a writer goroutine owned by
// the Bridge sends them.
type Bridge struct {
	link   Link
	widget Widget
	logger *slog.Logger

	outbox chan protocol.Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	chanGen  uint64
	chanSubs []func()
	cols     int
	rows     int
	closed   bool
	unsubs   []func()
}

// NewBridge wires widget to link and writes the welcome banner.
func NewBridge(link Link, widget Widget, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		link:   link,
		widget: widget,
		logger: logger.With("component", "terminal"),
		outbox: make(chan protocol.Message, outboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	b.wg.Add(1)
	go b.writeLoop()
	b.write(bannerWelcome)
	b.unsubs = []func(){
		widget.OnData(b.input),
		widget.OnResize(b.resize),
		link.OnChannel(b.attach),
	}
	return b
}

// Execute runs cmd on the remote shell.
func (b *Bridge) Execute(ctx context.Context, cmd string) error {
	return b.send(ctx, protocol.Input([]byte(cmd+"\n")))
}

// Paste sends the clipboard contents as input.
func (b *Bridge) Paste(ctx context.Context, cb Clipboard) error {
	if cb == nil {
		return ErrNoClipboard
	}
	text, err := cb.ReadAll()
	if err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	return b.send(ctx, protocol.Input([]byte(text)))
}

// Clear wipes the widget display when it supports it.
func (b *Bridge) Clear() {
	if c, ok := b.widget.(Clearer); ok {
		c.Clear()
	}
	b.write(bannerCleared)
}

// Close drops every subscription, stops the writer and disposes the widget.
// Queued frames are discarded.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := append(b.chanSubs, b.unsubs...)
	b.chanSubs = nil
	b.unsubs = nil
	b.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	b.cancel()
	b.wg.Wait()
	return b.widget.Dispose()
}

func (b *Bridge) attach(ch session.Channel) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	old := b.chanSubs
	b.chanGen++
	gen := b.chanGen
	cols, rows := b.cols, b.rows
	b.mu.Unlock()

	for _, unsub := range old {
		unsub()
	}
	subs := []func(){
		ch.On(protocol.EventTerminalOutput, func(m protocol.Message) {
			if b.current(gen) {
				b.writeBytes(m.Data)
			}
		}),
		ch.On(protocol.EventDisconnect, func(m protocol.Message) {
			if !b.current(gen) {
				return
			}
			b.write(bannerDisconnected)
			if m.Message != transport.ReasonClientClose {
				b.write(bannerReconnecting)
			}
		}),
		ch.On(protocol.EventError, func(m protocol.Message) {
			if b.current(gen) {
				b.write("\x1b[31m✗ Terminal error: " + m.Message + "\x1b[0m\r\n")
			}
		}),
	}

	b.mu.Lock()
	if b.closed || b.chanGen != gen {
		b.mu.Unlock()
		for _, unsub := range subs {
			unsub()
		}
		return
	}
	b.chanSubs = subs
	b.mu.Unlock()

	b.write(bannerConnected)
	if cols > 0 && rows > 0 {
		ctx, cancel := context.WithTimeout(b.ctx, inputTimeout)
		defer cancel()
		if err := ch.Emit(ctx, protocol.Resize(uint(cols), uint(rows))); err != nil {
			b.logger.Warn("Failed to send terminal size", "error", err)
		}
	}
}

func (b *Bridge) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && b.chanGen == gen
}

func (b *Bridge) input(data []byte) {
	if len(data) == 0 {
		return
	}
	b.enqueue(protocol.Input(data))
}

func (b *Bridge) resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	b.mu.Lock()
	b.cols, b.rows = cols, rows
	b.mu.Unlock()
	b.enqueue(protocol.Resize(uint(cols), uint(rows)))
}

// enqueue never blocks. Frames are dropped while disconnected, after Close,
// or when the writer has fallen outboxSize frames behind.
func (b *Bridge) enqueue(m protocol.Message) {
	if b.ctx.Err() != nil || !b.link.Connected() {
		return
	}
	select {
	case b.outbox <- m:
	default:
		b.logger.Warn("Terminal outbox full, dropping frame", "type", m.Type)
	}
}

func (b *Bridge) writeLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case m := <-b.outbox:
			ctx, cancel := context.WithTimeout(b.ctx, inputTimeout)
			err := b.send(ctx, m)
			cancel()
			if err != nil && !errors.Is(err, session.ErrNotConnected) && b.ctx.Err() == nil {
				b.logger.Warn("Failed to forward terminal frame", "type", m.Type, "error", err)
			}
		}
	}
}

func (b *Bridge) send(ctx context.Context, m protocol.Message) error {
	if !b.link.Connected() {
		return session.ErrNotConnected
	}
	return b.link.Emit(ctx, m)
}

func (b *Bridge) write(s string) { b.writeBytes([]byte(s)) }

func (b *Bridge) writeBytes(p []byte) {
	if _, err := b.widget.Write(p); err != nil {
		b.logger.Debug("Widget write failed", "error", err)
	}
}
