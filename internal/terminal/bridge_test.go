package terminal

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/neuralterm/internal/listener"
	"github.com/ashureev/neuralterm/internal/protocol"
	"github.com/ashureev/neuralterm/internal/session"
	"github.com/ashureev/neuralterm/internal/transport"
)

type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]*listener.Set[protocol.Message]
	emitted  []protocol.Message
}

func (f *fakeChannel) SessionID() string { return "sess" }

func (f *fakeChannel) On(event string, fn func(protocol.Message)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]*listener.Set[protocol.Message])
	}
	set, ok := f.handlers[event]
	if !ok {
		set = &listener.Set[protocol.Message]{}
		f.handlers[event] = set
	}
	return set.Add(fn)
}

func (f *fakeChannel) deliver(m protocol.Message) {
	f.mu.Lock()
	set := f.handlers[m.Type]
	f.mu.Unlock()
	if set != nil {
		set.Emit(m)
	}
}

func (f *fakeChannel) Emit(_ context.Context, m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, m)
	return nil
}

func (f *fakeChannel) Start()       {}
func (f *fakeChannel) Close() error { return nil }

type fakeLink struct {
	mu        sync.Mutex
	connected bool
	emitted   []protocol.Message
	channels  listener.Set[session.Channel]
	// block, when set, makes Emit wait for ctx to end.
	block bool
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Emit(ctx context.Context, m protocol.Message) error {
	l.mu.Lock()
	block := l.block
	l.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emitted = append(l.emitted, m)
	return nil
}

func (l *fakeLink) OnChannel(fn func(session.Channel)) func() { return l.channels.Add(fn) }

func (l *fakeLink) connect() *fakeChannel {
	ch := &fakeChannel{}
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	l.channels.Emit(ch)
	return ch
}

func (l *fakeLink) frames() []protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Message(nil), l.emitted...)
}

// waitFrames polls until the link has seen n frames.
func waitFrames(t *testing.T, l *fakeLink, n int) []protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := l.frames()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeClipboard struct {
	text string
	err  error
}

func (c fakeClipboard) ReadAll() (string, error) { return c.text, c.err }

func paneText(p *Pane) string { return strings.Join(p.Lines(0), "\n") }

func TestBridgeForwardsOutputAndInput(t *testing.T) {
	t.Parallel()

	link := &fakeLink{}
	pane := NewPane(100)
	b := NewBridge(link, pane, nil)
	defer b.Close()

	pane.Input([]byte("dropped"))
	if got := link.frames(); len(got) != 0 {
		t.Fatalf("input forwarded while disconnected: %+v", got)
	}

	ch := link.connect()
	if !strings.Contains(paneText(pane), "Neural interface connected") {
		t.Fatalf("missing connect banner:\n%s", paneText(pane))
	}

	ch.deliver(protocol.Output([]byte("$ whoami\r\nneo\r\n")))
	lines := pane.Lines(2)
	if diff := cmp.Diff([]string{"$ whoami", "neo"}, lines); diff != "" {
		t.Fatalf("pane lines (-want +got):\n%s", diff)
	}

	pane.Input([]byte("ls\r"))
	want := []protocol.Message{protocol.Input([]byte("ls\r"))}
	if diff := cmp.Diff(want, waitFrames(t, link, 1)); diff != "" {
		t.Fatalf("input frames (-want +got):\n%s", diff)
	}
}

func TestBridgeInputDoesNotBlockOnStalledLink(t *testing.T) {
	t.Parallel()

	link := &fakeLink{block: true}
	pane := NewPane(100)
	b := NewBridge(link, pane, nil)
	link.connect()

	start := time.Now()
	for i := 0; i < 2*outboxSize; i++ {
		pane.Input([]byte("x"))
	}
	pane.Resize(100, 30)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("input and resize blocked for %v", elapsed)
	}

	done := make(chan struct{})
	go func() {
		_ = b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close waited on the stalled writer")
	}
}

func TestBridgeResendsSizeOnReconnect(t *testing.T) {
	t.Parallel()

	link := &fakeLink{}
	pane := NewPane(100)
	b := NewBridge(link, pane, nil)
	defer b.Close()

	pane.Resize(120, 40)
	first := link.connect()
	if diff := cmp.Diff([]protocol.Message{protocol.Resize(120, 40)}, first.emitted); diff != "" {
		t.Fatalf("first channel frames (-want +got):\n%s", diff)
	}

	second := link.connect()
	if diff := cmp.Diff([]protocol.Message{protocol.Resize(120, 40)}, second.emitted); diff != "" {
		t.Fatalf("second channel frames (-want +got):\n%s", diff)
	}

	before := paneText(pane)
	first.deliver(protocol.Output([]byte("stale\n")))
	if paneText(pane) != before {
		t.Fatal("output from superseded channel rendered")
	}
}

func TestBridgeDisconnectBanners(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason    string
		reconnect bool
	}{
		{reason: transport.ReasonTransportClose, reconnect: true},
		{reason: transport.ReasonClientClose, reconnect: false},
	}
	for _, tt := range tests {
		link := &fakeLink{}
		pane := NewPane(100)
		b := NewBridge(link, pane, nil)

		ch := link.connect()
		ch.deliver(protocol.Message{Type: protocol.EventDisconnect, Message: tt.reason})
		text := paneText(pane)
		if !strings.Contains(text, "Neural interface disconnected") {
			t.Fatalf("%s: missing disconnect banner:\n%s", tt.reason, text)
		}
		if got := strings.Contains(text, "Attempting to reconnect"); got != tt.reconnect {
			t.Fatalf("%s: reconnect banner shown = %v, want %v", tt.reason, got, tt.reconnect)
		}
		_ = b.Close()
	}
}

func TestBridgeExecuteAndPaste(t *testing.T) {
	t.Parallel()

	link := &fakeLink{}
	pane := NewPane(100)
	b := NewBridge(link, pane, nil)
	defer b.Close()
	ctx := context.Background()

	if err := b.Execute(ctx, "uptime"); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("Execute while offline = %v, want ErrNotConnected", err)
	}

	link.connect()
	if err := b.Execute(ctx, "uptime"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := b.Paste(ctx, fakeClipboard{text: "echo hi"}); err != nil {
		t.Fatalf("Paste failed: %v", err)
	}
	if err := b.Paste(ctx, nil); !errors.Is(err, ErrNoClipboard) {
		t.Fatalf("Paste without clipboard = %v", err)
	}

	want := []protocol.Message{
		protocol.Input([]byte("uptime\n")),
		protocol.Input([]byte("echo hi")),
	}
	if diff := cmp.Diff(want, link.frames()); diff != "" {
		t.Fatalf("frames (-want +got):\n%s", diff)
	}
}

func TestBridgeClearAndClose(t *testing.T) {
	t.Parallel()

	link := &fakeLink{}
	pane := NewPane(100)
	b := NewBridge(link, pane, nil)
	ch := link.connect()
	ch.deliver(protocol.Output([]byte("noise\n")))

	b.Clear()
	if strings.Contains(paneText(pane), "noise") || !strings.Contains(paneText(pane), "TERMINAL CLEARED") {
		t.Fatalf("unexpected pane after clear:\n%s", paneText(pane))
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	ch.deliver(protocol.Output([]byte("after close\n")))
	if strings.Contains(paneText(pane), "after close") {
		t.Fatal("output rendered after Close")
	}
	if link.channels.Len() != 0 {
		t.Fatal("bridge still subscribed to new channels")
	}
}

func TestTTYForwardsUntilEscape(t *testing.T) {
	t.Parallel()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()

	var out strings.Builder
	tty := NewTTY(r, &out)
	got := make(chan []byte, 4)
	tty.OnData(func(b []byte) { got <- b })
	if err := tty.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, _ = w.Write([]byte("pwd\r"))
	select {
	case b := <-got:
		if string(b) != "pwd\r" {
			t.Fatalf("data = %q", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("input not forwarded")
	}

	_, _ = w.Write([]byte{'x', EscapeByte, 'y'})
	select {
	case <-tty.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("escape byte did not end the session")
	}
	if b := <-got; string(b) != "x" {
		t.Fatalf("bytes before escape = %q", b)
	}
	_ = w.Close()

	if _, err := tty.Write([]byte("bye")); err != nil || out.String() != "bye" {
		t.Fatalf("Write = %v, out = %q", err, out.String())
	}
	if err := tty.Dispose(); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
}
