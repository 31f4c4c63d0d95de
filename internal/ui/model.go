// Package ui is the bubbletea shell: chat on the left, terminal on the
// right, connection status along the bottom.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/neuralterm/internal/app"
	"github.com/ashureev/neuralterm/internal/chat"
	"github.com/ashureev/neuralterm/internal/client"
	"github.com/ashureev/neuralterm/internal/session"
)

// Coordinator is what the shell drives. *app.Coordinator satisfies it.
type Coordinator interface {
	Start(ctx context.Context) error
	Refresh(ctx context.Context) error
	Submit(ctx context.Context, text string) error
	Paste(ctx context.Context) error
	CopyLastReply() error
	ClearTerminal()
	ClearChat()
	Snapshot() session.Snapshot
	AIStatus() *client.Status
	Messages() []chat.Message
	Processing() bool
	Uptime() time.Duration
}

// Pane is the terminal widget the shell renders and feeds.
type Pane interface {
	Input(b []byte)
	Resize(cols, rows int)
	Lines(n int) []string
}

// RenderError wraps a panic raised while rendering.
type RenderError struct {
	Value any
	Stack []byte
}

func (e *RenderError) Error() string { return fmt.Sprintf("render failed: %v", e.Value) }

type focus int

const (
	focusChat focus = iota
	focusTerminal
)

const actionTimeout = 90 * time.Second

type (
	eventMsg      struct{ event app.Event }
	tickMsg       time.Time
	actionDoneMsg struct {
		op  string
		err error
	}
)

type dialog struct {
	title string
	body  string
}

// Model is the root tea.Model.
type Model struct {
	coord  Coordinator
	pane   Pane
	keys   KeyMap
	logger *slog.Logger

	help     help.Model
	chatView viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	focus    focus
	width    int
	height   int
	snapshot session.Snapshot
	ai       *client.Status
	uptime   time.Duration
	dialog   *dialog
	showHelp bool
}

// New creates the shell model.
func New(coord Coordinator, pane Pane, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.Default()
	}
	in := textinput.New()
	in.Placeholder = "Ask the neural interface..."
	in.Prompt = "❯ "
	in.CharLimit = 4000
	in.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(Magenta)

	m := Model{
		coord:    coord,
		pane:     pane,
		keys:     DefaultKeyMap(),
		logger:   logger.With("component", "ui"),
		help:     help.New(),
		chatView: viewport.New(40, 10),
		input:    in,
		spinner:  sp,
		width:    80,
		height:   24,
		snapshot: coord.Snapshot(),
	}
	m.layout()
	return m
}

// Init starts the connection, the uptime clock and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.run("connect", m.coord.Start),
		tick(),
		m.spinner.Tick,
		textinput.Blink,
		tea.WindowSize(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) run(op string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{op: op, err: fn(ctx)}
	}
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
		m.layout()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(v)
	case eventMsg:
		return m.handleEvent(v.event)
	case dirtyFunc:
		v()
		return m, nil
	case tickMsg:
		m.uptime = m.coord.Uptime()
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(v)
		return m, cmd
	case actionDoneMsg:
		return m.handleAction(v)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(k tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.dialog != nil || m.showHelp {
		if key.Matches(k, m.keys.Escape, m.keys.Submit, m.keys.Help) {
			m.dialog = nil
			m.showHelp = false
		}
		if key.Matches(k, m.keys.Quit) {
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(k, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(k, m.keys.Interrupt):
		if m.focus == focusTerminal {
			m.pane.Input([]byte{0x03})
			return m, nil
		}
		return m, tea.Quit
	case key.Matches(k, m.keys.FocusChat):
		m.focus = focusChat
		return m, m.input.Focus()
	case key.Matches(k, m.keys.FocusTerminal):
		m.focus = focusTerminal
		m.input.Blur()
		return m, nil
	case key.Matches(k, m.keys.Refresh):
		return m, m.run("refresh", m.coord.Refresh)
	case key.Matches(k, m.keys.Help):
		m.showHelp = true
		return m, nil
	case key.Matches(k, m.keys.Clear):
		if m.focus == focusTerminal {
			m.coord.ClearTerminal()
		} else {
			m.coord.ClearChat()
		}
		return m, nil
	case key.Matches(k, m.keys.Paste):
		return m, m.run("paste", m.coord.Paste)
	case key.Matches(k, m.keys.CopyReply):
		return m, m.run("copy", func(context.Context) error { return m.coord.CopyLastReply() })
	}

	if m.focus == focusTerminal {
		if b := keyBytes(k); len(b) > 0 {
			m.pane.Input(b)
		}
		return m, nil
	}

	switch {
	case key.Matches(k, m.keys.Submit):
		text := m.input.Value()
		m.input.Reset()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		return m, m.run("send", func(ctx context.Context) error { return m.coord.Submit(ctx, text) })
	case key.Matches(k, m.keys.PageUp, m.keys.PageDown):
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(k)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(k)
	return m, cmd
}

func (m Model) handleEvent(e app.Event) (tea.Model, tea.Cmd) {
	switch ev := e.(type) {
	case app.StatusChanged:
		m.snapshot = ev.Snapshot
	case app.ChatChanged:
		m.refreshChat()
	case app.AIStatusChanged:
		if ev.Err == nil {
			m.ai = ev.Status
		}
	case app.Failure:
		m.dialog = &dialog{title: ev.Title, body: ev.Err.Error()}
	}
	return m, nil
}

func (m Model) handleAction(a actionDoneMsg) (tea.Model, tea.Cmd) {
	if a.err == nil {
		return m, nil
	}
	m.logger.Warn("Action failed", "op", a.op, "error", a.err)
	switch a.op {
	case "paste", "copy":
		m.dialog = &dialog{title: "Clipboard", body: a.err.Error()}
	case "connect", "refresh":
		// Retries and terminal failures arrive as events.
		if errors.Is(a.err, session.ErrClosed) {
			m.dialog = &dialog{title: "System Error", body: a.err.Error()}
		}
	default:
		m.dialog = &dialog{title: "System Error", body: a.err.Error()}
	}
	return m, nil
}

// layout sizes the panes: chat takes ~45% of the width, the terminal the
// rest; the status bar and help line take the last two rows.
func (m *Model) layout() {
	bodyH := max(m.height-2, 6)
	chatW := max(m.width*45/100, 24)
	termW := max(m.width-chatW, 20)

	m.chatView.Width = chatW - 2
	m.chatView.Height = max(bodyH-2-2, 1)
	m.input.Width = max(chatW-6, 10)
	m.help.Width = m.width
	m.pane.Resize(termW-2, bodyH-2)
	m.refreshChat()
}

func (m *Model) refreshChat() {
	m.chatView.SetContent(renderMessages(m.coord.Messages(), m.chatView.Width))
	m.chatView.GotoBottom()
}

// View renders the screen. A panic while rendering is reported in place of
// the screen instead of crashing the program.
func (m Model) View() (out string) {
	defer func() {
		if r := recover(); r != nil {
			err := &RenderError{Value: r, Stack: debug.Stack()}
			m.logger.Error("Recovered from render panic", "error", err, "stack", string(err.Stack))
			out = dialogStyle.Render(errorLabel.Render("System Error") + "\n\n" + err.Error())
		}
	}()

	bodyH := max(m.height-2, 6)
	chatW := max(m.width*45/100, 24)
	termW := max(m.width-chatW, 20)

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderChat(chatW, bodyH),
		m.renderTerminal(termW, bodyH),
	)
	screen := lipgloss.JoinVertical(lipgloss.Left,
		body,
		m.renderStatus(),
		m.help.View(m.keys),
	)

	switch {
	case m.dialog != nil:
		return m.overlay(dialogStyle.Render(errorLabel.Render(m.dialog.title) + "\n\n" + m.dialog.body + "\n\n" + faintStyle.Render("esc to close")))
	case m.showHelp:
		return m.overlay(helpDialogStyle.Render(titleStyle.Render("Keys") + "\n\n" + m.help.FullHelpView(m.keys.FullHelp())))
	}
	return screen
}

func (m Model) overlay(box string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) renderChat(w, h int) string {
	style := paneStyle
	if m.focus == focusChat {
		style = focusedPaneStyle
	}
	footer := m.input.View()
	if m.coord.Processing() {
		footer = m.spinner.View() + " Neural networks processing..."
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("AI CHAT"),
		m.chatView.View(),
		footer,
	)
	return style.Width(w - 2).Height(h - 2).Render(content)
}

func (m Model) renderTerminal(w, h int) string {
	style := paneStyle
	if m.focus == focusTerminal {
		style = focusedPaneStyle
	}
	rows := max(h-3, 1)
	lines := m.pane.Lines(rows)
	for i, l := range lines {
		lines[i] = truncate(l, w-2)
	}
	content := titleStyle.Render("TERMINAL") + "\n" + strings.Join(lines, "\n")
	return style.Width(w - 2).Height(h - 2).Render(content)
}

func (m Model) renderStatus() string {
	status := string(m.snapshot.Status)
	statusText := lipgloss.NewStyle().Foreground(statusColors[status]).Bold(true).Render(strings.ToUpper(status))

	ai := "INACTIVE"
	if m.ai != nil && m.ai.AIAvailable {
		ai = "ACTIVE"
	}
	parts := []string{
		"STATUS " + statusText,
		"AI " + ai,
		"SESSION " + session.ShortID(m.snapshot.SessionID),
		"UPTIME " + app.FormatUptime(m.uptime),
	}
	if m.snapshot.RetryCount > 0 && m.snapshot.Status == session.StatusConnecting {
		parts = append(parts, fmt.Sprintf("RETRY %d", m.snapshot.RetryCount))
	}
	return statusBar.Width(m.width).Render(strings.Join(parts, "  │  "))
}

func renderMessages(msgs []chat.Message, width int) string {
	wrap := lipgloss.NewStyle().Width(max(width, 10))
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label, text := labelFor(msg.Role), msg.Text
		if msg.Role == chat.RoleError {
			text = errorText.Render(text)
		}
		b.WriteString(label + " " + faintStyle.Render(msg.Timestamp.Format("15:04:05")) + "\n")
		b.WriteString(wrap.Render(text))
	}
	return b.String()
}

func labelFor(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return userLabel.Render("YOU")
	case chat.RoleAssistant:
		return assistantLabel.Render("AI")
	case chat.RoleError:
		return errorLabel.Render("ERROR")
	default:
		return systemLabel.Render("SYSTEM")
	}
}

func truncate(s string, w int) string {
	if w <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= w {
		return s
	}
	return string(r[:w])
}
