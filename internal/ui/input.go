package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ashureev/neuralterm/internal/app"
)

// Sender is the part of *tea.Program Attach uses.
type Sender interface {
	Send(msg tea.Msg)
}

// EventSource publishes coordinator events.
type EventSource interface {
	OnEvent(fn func(app.Event)) (unsubscribe func())
}

// ChangeSource reports terminal output.
type ChangeSource interface {
	OnChange(fn func()) (unsubscribe func())
}

const forwardBuffer = 1024

// Attach forwards coordinator events and terminal redraws to p. Events are
// queued so callbacks running inside Update never block on Send.
func Attach(p Sender, events EventSource, pane ChangeSource) (stop func()) {
	queue := make(chan tea.Msg, forwardBuffer)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case msg := <-queue:
				p.Send(msg)
			}
		}
	}()

	var dirty sync.Mutex
	pendingDirty := false
	push := func(msg tea.Msg) {
		select {
		case <-done:
			return
		default:
		}
		select {
		case queue <- msg:
		default:
			go p.Send(msg)
		}
	}

	unsubs := []func(){
		events.OnEvent(func(e app.Event) { push(eventMsg{event: e}) }),
		pane.OnChange(func() {
			// Collapse bursts of output into one redraw.
			dirty.Lock()
			if pendingDirty {
				dirty.Unlock()
				return
			}
			pendingDirty = true
			dirty.Unlock()
			push(dirtyFunc(func() {
				dirty.Lock()
				pendingDirty = false
				dirty.Unlock()
			}))
		}),
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			close(done)
			wg.Wait()
		})
	}
}

// dirtyFunc is a terminalDirtyMsg that re-arms the redraw coalescer when
// the model handles it.
type dirtyFunc func()

// keyBytes encodes a key press the way a terminal would send it.
func keyBytes(k tea.KeyMsg) []byte {
	var out []byte
	switch t := k.Type; {
	case t == tea.KeyRunes:
		out = []byte(string(k.Runes))
	case t == tea.KeySpace:
		out = []byte{' '}
	case t >= 0 && t <= 31, t == 127:
		out = []byte{byte(t)}
	default:
		seq, ok := escapeSeqs[t]
		if !ok {
			return nil
		}
		out = []byte(seq)
	}
	if k.Alt {
		out = append([]byte{0x1b}, out...)
	}
	return out
}

var escapeSeqs = map[tea.KeyType]string{
	tea.KeyUp:       "\x1b[A",
	tea.KeyDown:     "\x1b[B",
	tea.KeyRight:    "\x1b[C",
	tea.KeyLeft:     "\x1b[D",
	tea.KeyHome:     "\x1b[H",
	tea.KeyEnd:      "\x1b[F",
	tea.KeyInsert:   "\x1b[2~",
	tea.KeyDelete:   "\x1b[3~",
	tea.KeyPgUp:     "\x1b[5~",
	tea.KeyPgDown:   "\x1b[6~",
	tea.KeyShiftTab: "\x1b[Z",
}
