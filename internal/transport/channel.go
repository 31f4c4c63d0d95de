// Package transport wraps a websocket connection as an event channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/ashureev/neuralterm/internal/listener"
	"github.com/ashureev/neuralterm/internal/protocol"
)

// Disconnect reasons reported to the close callback and to "disconnect" handlers.
const (
	ReasonClientClose    = "io client disconnect"
	ReasonServerClose    = "io server disconnect"
	ReasonTransportClose = "transport close"
	ReasonTransportError = "transport error"
)

const readLimit = 1 << 20

var (
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrClosed is returned when emitting on a closed channel.
	ErrClosed = errors.New("channel closed")
)

// TransportError reports a lower-level failure of the websocket connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold for any TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// CloseFunc is called exactly once when a channel stops, with the reason and
// the underlying error if any.
type CloseFunc func(reason string, err error)

// Dialer opens channels to one endpoint.
type Dialer struct {
	URL        string
	HTTPClient *http.Client
	Header     http.Header
	Logger     *slog.Logger
}

// Dial connects and waits for the server's "connected" acknowledgment. The
// deadline of ctx bounds both the handshake and the wait. Frames that arrive
// before the acknowledgment are delivered once Start is called.
func (d *Dialer) Dial(ctx context.Context, onClose CloseFunc) (*Channel, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", d.URL, ctx.Err())
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(readLimit)

	var backlog []protocol.Message
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			_ = conn.CloseNow()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("await %s: %w", protocol.EventConnected, ctx.Err())
			}
			return nil, &TransportError{Op: "handshake", Err: err}
		}
		m, err := protocol.Decode(data)
		if err != nil {
			logger.Debug("Dropping malformed frame during handshake", "error", err)
			continue
		}
		if m.Type == protocol.EventConnected {
			logger.Info("Channel established", "session_id", m.SessionID, "url", d.URL)
			return newChannel(conn, m.SessionID, backlog, onClose, logger), nil
		}
		backlog = append(backlog, m)
	}
}

// Channel is one live websocket connection. Handlers run on the read
// goroutine, one frame at a time.
type Channel struct {
	conn      *websocket.Conn
	sessionID string
	logger    *slog.Logger
	onClose   CloseFunc

	mu       sync.Mutex
	handlers map[string]*listener.Set[protocol.Message]
	backlog  []protocol.Message

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	closing atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func newChannel(conn *websocket.Conn, sessionID string, backlog []protocol.Message, onClose CloseFunc, logger *slog.Logger) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		conn:      conn,
		sessionID: sessionID,
		logger:    logger,
		onClose:   onClose,
		handlers:  make(map[string]*listener.Set[protocol.Message]),
		backlog:   backlog,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// SessionID returns the identifier carried by the "connected" acknowledgment.
func (c *Channel) SessionID() string { return c.sessionID }

// Done is closed once the channel has stopped.
func (c *Channel) Done() <-chan struct{} { return c.done }

// On registers fn for frames of the given event type. Local lifecycle events
// ("disconnect") are delivered the same way.
func (c *Channel) On(event string, fn func(protocol.Message)) (unsubscribe func()) {
	c.mu.Lock()
	set, ok := c.handlers[event]
	if !ok {
		set = &listener.Set[protocol.Message]{}
		c.handlers[event] = set
	}
	c.mu.Unlock()
	return set.Add(fn)
}

// Start delivers the handshake backlog and begins reading. It is a no-op
// after the first call.
func (c *Channel) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.readLoop()
}

// Emit writes one frame.
func (c *Channel) Emit(ctx context.Context, m protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close performs a client-initiated close. The close callback reports
// ReasonClientClose.
func (c *Channel) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if c.started.Load() {
		err = c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	} else {
		err = c.conn.CloseNow()
	}
	c.cancel()
	c.finish(ReasonClientClose, nil)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("Channel close returned error", "session_id", c.sessionID, "error", err)
	}
	return nil
}

func (c *Channel) readLoop() {
	c.mu.Lock()
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()
	for _, m := range backlog {
		c.dispatch(m)
	}

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.closing.Load() {
				c.finish(ReasonClientClose, nil)
				return
			}
			reason := classify(err)
			c.logger.Info("Channel read ended", "session_id", c.sessionID, "reason", reason, "error", err)
			_ = c.conn.CloseNow()
			c.finish(reason, err)
			return
		}
		m, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping malformed frame", "session_id", c.sessionID, "error", err)
			continue
		}
		c.dispatch(m)
	}
}

func (c *Channel) dispatch(m protocol.Message) {
	c.mu.Lock()
	set := c.handlers[m.Type]
	c.mu.Unlock()
	if set == nil {
		c.logger.Debug("No handler for frame", "type", m.Type)
		return
	}
	set.Emit(m)
}

func (c *Channel) finish(reason string, err error) {
	c.once.Do(func() {
		close(c.done)
		c.dispatch(protocol.Message{Type: protocol.EventDisconnect, Message: reason})
		if c.onClose != nil {
			c.onClose(reason, err)
		}
	})
}

func classify(err error) string {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return ReasonServerClose
	case -1:
		if errors.Is(err, io.EOF) {
			return ReasonTransportClose
		}
		return ReasonTransportError
	default:
		return ReasonTransportClose
	}
}
