package terminal

import (
	"sync"

	"github.com/ashureev/neuralterm/internal/listener"
)

type size struct{ cols, rows int }

// Pane is an in-process Widget backed by a Scrollback. The UI feeds it
// keystrokes and dimensions and renders its lines.
type Pane struct {
	buf *Scrollback

	mu   sync.Mutex
	cols int
	rows int

	data    listener.Set[[]byte]
	resize  listener.Set[size]
	changes listener.Set[struct{}]
}

// NewPane creates a pane keeping scrollback completed lines.
func NewPane(scrollback int) *Pane {
	return &Pane{buf: NewScrollback(scrollback)}
}

// Write appends remote output to the scrollback.
func (p *Pane) Write(b []byte) (int, error) {
	n, err := p.buf.Write(b)
	p.changes.Emit(struct{}{})
	return n, err
}

// OnData registers fn for local keystrokes.
func (p *Pane) OnData(fn func([]byte)) func() { return p.data.Add(fn) }

// OnResize registers fn for dimension changes.
func (p *Pane) OnResize(fn func(cols, rows int)) func() {
	return p.resize.Add(func(s size) { fn(s.cols, s.rows) })
}

// OnChange registers fn to run after output is written.
func (p *Pane) OnChange(fn func()) func() {
	return p.changes.Add(func(struct{}) { fn() })
}

// Input reports keystrokes typed into the pane.
func (p *Pane) Input(b []byte) {
	if len(b) == 0 {
		return
	}
	p.data.Emit(b)
}

// Resize records new dimensions and reports them when they changed.
func (p *Pane) Resize(cols, rows int) {
	p.mu.Lock()
	if cols == p.cols && rows == p.rows {
		p.mu.Unlock()
		return
	}
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	p.resize.Emit(size{cols, rows})
}

// Size returns the last reported dimensions.
func (p *Pane) Size() (cols, rows int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// Lines returns the last n display lines.
func (p *Pane) Lines(n int) []string { return p.buf.Lines(n) }

// Clear wipes the scrollback.
func (p *Pane) Clear() {
	p.buf.Reset()
	p.changes.Emit(struct{}{})
}

// Dispose drops every registration.
func (p *Pane) Dispose() error {
	p.data.Reset()
	p.resize.Reset()
	p.changes.Reset()
	return nil
}
