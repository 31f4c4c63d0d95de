// Package chat keeps the chat log and routes user messages over the live
// channel or, when it is down, through the HTTP fallback.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/neuralterm/internal/client"
	"github.com/ashureev/neuralterm/internal/listener"
	"github.com/ashureev/neuralterm/internal/protocol"
	"github.com/ashureev/neuralterm/internal/session"
)

// Role identifies who authored a chat entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

const (
	// BannerID is the id of the pinned system banner.
	BannerID = -1

	DefaultHistoryLimit = 20

	WelcomeText = "Neural interface online. Ask anything, or type /help for commands."
	ClearedText = "Neural interface cleared. Ready for new queries."
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("chat panel closed")

// Message is one rendered chat entry.
type Message struct {
	ID        int
	Role      Role
	Text      string
	Timestamp time.Time
}

// Turn is one history entry kept as conversation context.
type Turn struct {
	Role Role
	Text string
}

// Link is the panel's view of the connection controller.
type Link interface {
	Connected() bool
	Emit(ctx context.Context, m protocol.Message) error
	OnChannel(fn func(session.Channel)) (unsubscribe func())
}

// Fallback issues request/response calls when no channel is live.
type Fallback interface {
	Chat(ctx context.Context, message string) (string, error)
	Status(ctx context.Context) (*client.Status, error)
}

// Options configures a Panel.
type Options struct {
	HistoryLimit int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Panel is the chat log plus the dispatch logic behind it. All methods are
// safe for concurrent use.
type Panel struct {
	link     Link
	fallback Fallback
	limit    int
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	banner     Message
	log        []Message
	history    []Turn
	nextID     int
	pending    []string
	inflight   int
	chanGen    uint64
	chanSubs   []func()
	unlink     func()
	closed     bool
	changeSubs listener.Set[struct{}]
}

// NewPanel creates a panel bound to link and registers for new channels.
func NewPanel(link Link, fallback Fallback, opts Options) *Panel {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Panel{
		link:     link,
		fallback: fallback,
		limit:    opts.HistoryLimit,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "chat"),
	}
	p.banner = Message{ID: BannerID, Role: RoleSystem, Text: WelcomeText, Timestamp: p.now()}
	p.unlink = link.OnChannel(p.attach)
	return p
}

// OnChange registers fn to run after every change to the log or the
// processing indicator.
func (p *Panel) OnChange(fn func()) (unsubscribe func()) {
	return p.changeSubs.Add(func(struct{}) { fn() })
}

// Send dispatches text. Empty or whitespace-only text is ignored. Failures
// of the fallback call are recorded in the log as error entries.
func (p *Panel) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.appendLocked(RoleUser, text)
	p.addToHistoryLocked(RoleUser, text)
	p.mu.Unlock()
	p.changed()

	if p.link.Connected() {
		id := uuid.NewString()
		p.mu.Lock()
		p.pending = append(p.pending, id)
		p.mu.Unlock()
		p.changed()

		err := p.link.Emit(ctx, protocol.Chat(id, text))
		if err == nil {
			return nil
		}
		p.logger.Warn("Channel send failed, using HTTP fallback", "error", err)
		p.mu.Lock()
		p.removePendingLocked(id)
		p.mu.Unlock()
	}

	p.sendFallback(ctx, text)
	return nil
}

func (p *Panel) sendFallback(ctx context.Context, text string) {
	p.mu.Lock()
	p.inflight++
	p.mu.Unlock()
	p.changed()

	reply, err := p.fallback.Chat(ctx, text)

	p.mu.Lock()
	p.inflight--
	if p.closed {
		p.mu.Unlock()
		p.logger.Debug("Dropping fallback result after close")
		return
	}
	if err != nil {
		p.logger.Warn("Fallback chat failed", "error", err)
		p.appendLocked(RoleError, failureText(err))
	} else {
		p.appendLocked(RoleAssistant, reply)
		p.addToHistoryLocked(RoleAssistant, reply)
	}
	p.mu.Unlock()
	p.changed()
}

func failureText(err error) string {
	var rf *client.RequestFailure
	if errors.As(err, &rf) {
		if rf.Reason != "" {
			return rf.Reason
		}
		return "Failed to get AI response: " + rf.Description()
	}
	return "Failed to get AI response: " + err.Error()
}

// AddToHistory appends a turn, evicting the oldest beyond the limit.
func (p *Panel) AddToHistory(role Role, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addToHistoryLocked(role, text)
}

// AddSystem appends a system entry to the log.
func (p *Panel) AddSystem(text string) {
	p.add(RoleSystem, text)
}

// AddError appends an error entry to the log.
func (p *Panel) AddError(text string) {
	p.add(RoleError, text)
}

func (p *Panel) add(role Role, text string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.appendLocked(role, text)
	p.mu.Unlock()
	p.changed()
}

// Clear empties the log and history, leaving only the system banner, and
// restarts message ids at 0.
func (p *Panel) Clear() {
	p.mu.Lock()
	p.log = nil
	p.history = nil
	p.nextID = 0
	p.banner = Message{ID: BannerID, Role: RoleSystem, Text: ClearedText, Timestamp: p.now()}
	p.mu.Unlock()
	p.changed()
}

// Messages returns the banner followed by the log.
func (p *Panel) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, 0, len(p.log)+1)
	out = append(out, p.banner)
	return append(out, p.log...)
}

// History returns the rolling conversation context.
func (p *Panel) History() []Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Turn(nil), p.history...)
}

// Processing reports whether a reply is outstanding.
func (p *Panel) Processing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processingLocked()
}

// Close detaches the panel. Results arriving afterwards are ignored.
func (p *Panel) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.chanSubs
	p.chanSubs = nil
	p.pending = nil
	unlink := p.unlink
	p.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	if unlink != nil {
		unlink()
	}
	p.changeSubs.Reset()
}

// attach re-subscribes to a newly connected channel. Requests sent on the
// previous channel are abandoned.
func (p *Panel) attach(ch session.Channel) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	old := p.chanSubs
	p.chanGen++
	gen := p.chanGen
	p.pending = nil
	p.mu.Unlock()

	for _, unsub := range old {
		unsub()
	}
	subs := []func(){
		ch.On(protocol.EventAIResponse, func(m protocol.Message) { p.onReply(gen, m) }),
		ch.On(protocol.EventDisconnect, func(protocol.Message) { p.onDisconnect(gen) }),
		ch.On(protocol.EventError, func(m protocol.Message) { p.onError(gen, m) }),
	}

	p.mu.Lock()
	if p.closed || p.chanGen != gen {
		p.mu.Unlock()
		for _, unsub := range subs {
			unsub()
		}
		return
	}
	p.chanSubs = subs
	p.mu.Unlock()
	p.changed()
}

func (p *Panel) onReply(gen uint64, m protocol.Message) {
	p.mu.Lock()
	if p.closed || p.chanGen != gen {
		p.mu.Unlock()
		return
	}
	id := m.ID
	switch {
	case id == "" && len(p.pending) > 0:
		id = p.pending[0]
	case id == "":
		p.mu.Unlock()
		p.logger.Debug("Ignoring unsolicited reply")
		return
	}
	if !p.removePendingLocked(id) {
		p.mu.Unlock()
		p.logger.Debug("Ignoring reply with unknown id", "id", id)
		return
	}
	p.appendLocked(RoleAssistant, m.Response)
	p.addToHistoryLocked(RoleAssistant, m.Response)
	p.mu.Unlock()
	p.changed()
}

func (p *Panel) onDisconnect(gen uint64) {
	p.mu.Lock()
	if p.closed || p.chanGen != gen {
		p.mu.Unlock()
		return
	}
	p.pending = nil
	p.mu.Unlock()
	p.changed()
}

func (p *Panel) onError(gen uint64, m protocol.Message) {
	p.mu.Lock()
	if p.closed || p.chanGen != gen {
		p.mu.Unlock()
		return
	}
	p.appendLocked(RoleError, "Connection error: "+m.Message)
	if m.ID != "" {
		p.removePendingLocked(m.ID)
	} else {
		p.pending = nil
	}
	p.mu.Unlock()
	p.changed()
}

func (p *Panel) appendLocked(role Role, text string) {
	p.log = append(p.log, Message{ID: p.nextID, Role: role, Text: text, Timestamp: p.now()})
	p.nextID++
}

func (p *Panel) addToHistoryLocked(role Role, text string) {
	p.history = append(p.history, Turn{Role: role, Text: text})
	if over := len(p.history) - p.limit; over > 0 {
		p.history = append(p.history[:0:0], p.history[over:]...)
	}
}

func (p *Panel) removePendingLocked(id string) bool {
	for i, pid := range p.pending {
		if pid == id {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Panel) processingLocked() bool {
	return len(p.pending) > 0 || p.inflight > 0
}

func (p *Panel) changed() {
	p.changeSubs.Emit(struct{}{})
}
