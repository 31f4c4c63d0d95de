package terminal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/ashureev/neuralterm/internal/listener"
)

// EscapeByte (Ctrl+]) detaches a TTY session.
const EscapeByte = 0x1d

// TTY is a Widget over the process's own terminal. Raw mode is enabled while
// it runs when in is a terminal.
type TTY struct {
	in  *os.File
	out io.Writer

	mu    sync.Mutex
	state *term.State

	data   listener.Set[[]byte]
	resize listener.Set[size]

	done       chan struct{}
	doneOnce   sync.Once
	stopResize func()
	disposed   bool
}

// NewTTY creates a widget reading in and writing out.
func NewTTY(in *os.File, out io.Writer) *TTY {
	return &TTY{in: in, out: out, done: make(chan struct{})}
}

// Start enters raw mode, reports the initial size and begins reading input.
// Register listeners before calling Start.
func (t *TTY) Start() error {
	fd := int(t.in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		t.mu.Lock()
		t.state = state
		t.mu.Unlock()
		t.reportSize()
		t.stopResize = watchResize(t.done, t.reportSize)
	}
	go t.readLoop()
	return nil
}

// Done is closed when input ends or the escape byte is typed.
func (t *TTY) Done() <-chan struct{} { return t.done }

// Write renders remote output.
func (t *TTY) Write(p []byte) (int, error) { return t.out.Write(p) }

// OnData registers fn for local keystrokes.
func (t *TTY) OnData(fn func([]byte)) func() { return t.data.Add(fn) }

// OnResize registers fn for terminal size changes.
func (t *TTY) OnResize(fn func(cols, rows int)) func() {
	return t.resize.Add(func(s size) { fn(s.cols, s.rows) })
}

// Dispose restores the terminal and stops reporting events. A read blocked
// on in stays blocked until input arrives or in is closed.
func (t *TTY) Dispose() error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	t.disposed = true
	state := t.state
	t.state = nil
	t.mu.Unlock()

	t.finish()
	if t.stopResize != nil {
		t.stopResize()
	}
	t.data.Reset()
	t.resize.Reset()
	if state != nil {
		return term.Restore(int(t.in.Fd()), state)
	}
	return nil
}

func (t *TTY) readLoop() {
	buf := make([]byte, 1024)
	for {
		n, err := t.in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, EscapeByte); i >= 0 {
				if i > 0 {
					t.data.Emit(append([]byte(nil), chunk[:i]...))
				}
				t.finish()
				return
			}
			t.data.Emit(append([]byte(nil), chunk...))
		}
		if err != nil {
			t.finish()
			return
		}
	}
}

func (t *TTY) reportSize() {
	cols, rows, err := term.GetSize(int(t.in.Fd()))
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	t.resize.Emit(size{cols, rows})
}

func (t *TTY) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}
