package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/neuralterm/internal/app"
	"github.com/ashureev/neuralterm/internal/chat"
	"github.com/ashureev/neuralterm/internal/client"
	"github.com/ashureev/neuralterm/internal/listener"
	"github.com/ashureev/neuralterm/internal/session"
)

type fakeCoord struct {
	mu        sync.Mutex
	submitted []string
	cleared   int
	chatClear int
	snapshot  session.Snapshot
	messages  []chat.Message
	panic     bool
}

func (f *fakeCoord) Start(context.Context) error   { return nil }
func (f *fakeCoord) Refresh(context.Context) error { return nil }
func (f *fakeCoord) Paste(context.Context) error   { return errors.New("no clipboard") }
func (f *fakeCoord) CopyLastReply() error          { return nil }
func (f *fakeCoord) AIStatus() *client.Status      { return nil }
func (f *fakeCoord) Uptime() time.Duration         { return 0 }
func (f *fakeCoord) Snapshot() session.Snapshot    { return f.snapshot }
func (f *fakeCoord) Messages() []chat.Message      { return f.messages }

func (f *fakeCoord) Processing() bool {
	if f.panic {
		panic("boom")
	}
	return false
}

func (f *fakeCoord) ClearTerminal() { f.cleared++ }
func (f *fakeCoord) ClearChat()     { f.chatClear++ }

func (f *fakeCoord) Submit(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return nil
}

type fakePane struct {
	input [][]byte
	cols  int
	rows  int
}

func (p *fakePane) Input(b []byte)         { p.input = append(p.input, b) }
func (p *fakePane) Resize(cols, rows int)  { p.cols, p.rows = cols, rows }
func (p *fakePane) Lines(int) []string     { return []string{"$ ls", "README.md"} }
func (p *fakePane) OnChange(func()) func() { return func() {} }

func newModel(t *testing.T) (Model, *fakeCoord, *fakePane) {
	t.Helper()
	coord := &fakeCoord{snapshot: session.Snapshot{Status: session.StatusOnline, SessionID: "0123456789abcdef"}}
	pane := &fakePane{}
	m := New(coord, pane, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model), coord, pane
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestKeyBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  tea.KeyMsg
		want []byte
	}{
		{"runes", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ls")}, []byte("ls")},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, []byte{'\r'}},
		{"backspace", tea.KeyMsg{Type: tea.KeyBackspace}, []byte{0x7f}},
		{"tab", tea.KeyMsg{Type: tea.KeyTab}, []byte{'\t'}},
		{"ctrl+d", tea.KeyMsg{Type: tea.KeyCtrlD}, []byte{0x04}},
		{"space", tea.KeyMsg{Type: tea.KeySpace}, []byte{' '}},
		{"up", tea.KeyMsg{Type: tea.KeyUp}, []byte("\x1b[A")},
		{"delete", tea.KeyMsg{Type: tea.KeyDelete}, []byte("\x1b[3~")},
		{"alt+b", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b"), Alt: true}, []byte("\x1bb")},
		{"unmapped", tea.KeyMsg{Type: tea.KeyF7}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, keyBytes(tt.key)); diff != "" {
				t.Errorf("keyBytes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCtrlCDependsOnFocus(t *testing.T) {
	t.Parallel()

	m, _, pane := newModel(t)
	if _, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC}); !isQuit(cmd) {
		t.Fatal("ctrl+c in chat should quit")
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if isQuit(cmd) {
		t.Fatal("ctrl+c in terminal should not quit")
	}
	if diff := cmp.Diff([][]byte{{0x03}}, pane.input); diff != "" {
		t.Fatalf("terminal input mismatch (-want +got):\n%s", diff)
	}

	_, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if len(pane.input) != 2 || string(pane.input[1]) != "x" {
		t.Fatalf("typed keys not forwarded: %q", pane.input)
	}
}

func TestSubmitSendsInput(t *testing.T) {
	t.Parallel()

	m, coord, _ := newModel(t)
	for _, r := range "hello" {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	if done, ok := cmd().(actionDoneMsg); !ok || done.err != nil {
		t.Fatalf("command result = %#v", done)
	}
	if diff := cmp.Diff([]string{"hello"}, coord.submitted); diff != "" {
		t.Fatalf("submitted mismatch (-want +got):\n%s", diff)
	}
	if m.input.Value() != "" {
		t.Fatalf("input not reset: %q", m.input.Value())
	}

	if _, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatal("blank input should not be sent")
	}
}

func TestFailureDialog(t *testing.T) {
	t.Parallel()

	m, _, _ := newModel(t)
	m, _ = update(t, m, eventMsg{event: app.Failure{Title: "Connection Failed", Err: session.ErrConnectionFailed}})
	if m.dialog == nil {
		t.Fatal("dialog not shown")
	}
	view := m.View()
	if !strings.Contains(view, "Connection Failed") {
		t.Fatalf("dialog title missing from view:\n%s", view)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.dialog != nil {
		t.Fatal("esc did not dismiss dialog")
	}
}

func TestClipboardFailureShowsDialog(t *testing.T) {
	t.Parallel()

	m, _, _ := newModel(t)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlV})
	m, _ = update(t, m, cmd())
	if m.dialog == nil || m.dialog.title != "Clipboard" {
		t.Fatalf("dialog = %+v", m.dialog)
	}
}

func TestStatusBar(t *testing.T) {
	t.Parallel()

	m, _, _ := newModel(t)
	m, _ = update(t, m, eventMsg{event: app.StatusChanged{Snapshot: session.Snapshot{
		Status:     session.StatusConnecting,
		SessionID:  "0123456789abcdef",
		RetryCount: 2,
	}}})
	bar := m.renderStatus()
	for _, want := range []string{"CONNECTING", "AI INACTIVE", "01234567...", "00:00:00", "RETRY 2"} {
		if !strings.Contains(bar, want) {
			t.Errorf("status bar %q missing %q", bar, want)
		}
	}

	m, _ = update(t, m, eventMsg{event: app.AIStatusChanged{Status: &client.Status{AIAvailable: true}}})
	if !strings.Contains(m.renderStatus(), "AI ACTIVE") {
		t.Error("AI status not reflected")
	}
}

func TestClearFollowsFocus(t *testing.T) {
	t.Parallel()

	m, coord, _ := newModel(t)
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if coord.chatClear != 1 || coord.cleared != 0 {
		t.Fatalf("chat focus: chat cleared %d, terminal cleared %d", coord.chatClear, coord.cleared)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	_, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if coord.cleared != 1 {
		t.Fatalf("terminal focus: terminal cleared %d", coord.cleared)
	}
}

func TestViewRecoversFromPanic(t *testing.T) {
	t.Parallel()

	m, coord, _ := newModel(t)
	coord.panic = true
	view := m.View()
	if !strings.Contains(view, "render failed: boom") {
		t.Fatalf("view = %q", view)
	}
}

func TestViewRendersChatAndTerminal(t *testing.T) {
	t.Parallel()

	m, coord, pane := newModel(t)
	coord.messages = []chat.Message{
		{ID: chat.BannerID, Role: chat.RoleSystem, Text: chat.WelcomeText, Timestamp: time.Now()},
		{ID: 0, Role: chat.RoleAssistant, Text: "Try ls -la", Timestamp: time.Now()},
	}
	m, _ = update(t, m, eventMsg{event: app.ChatChanged{}})
	view := m.View()
	for _, want := range []string{"AI CHAT", "TERMINAL", "Try ls -la", "README.md"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if pane.cols == 0 || pane.rows == 0 {
		t.Errorf("pane not sized: %dx%d", pane.cols, pane.rows)
	}
}

type fakeEvents struct{ set listener.Set[app.Event] }

func (f *fakeEvents) OnEvent(fn func(app.Event)) func() { return f.set.Add(fn) }

type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
	got  chan struct{}
}

func (r *recordingSender) Send(msg tea.Msg) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func TestAttachForwardsEvents(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	sender := &recordingSender{got: make(chan struct{}, 4)}
	stop := Attach(sender, events, &fakePane{})

	events.set.Emit(app.ChatChanged{})
	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}
	stop()
	stop()

	if events.set.Len() != 0 {
		t.Fatal("subscription not removed")
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if _, ok := sender.msgs[0].(eventMsg); !ok {
		t.Fatalf("forwarded %T", sender.msgs[0])
	}
}
