package terminal

import (
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// MaxLineBytes caps the unfinished line. Longer output without a newline
// is split into several lines at rune boundaries.
const MaxLineBytes = 4096

// Scrollback is a fixed-size circular buffer of terminal lines. Both the
// line count and the length of each line are bounded.
type Scrollback struct {
	lines []string
	size  int
	head  int // next write slot
	count int

	cur       []byte // line being written
	pendingCR bool
	mu        sync.RWMutex
}

// NewScrollback creates a buffer holding at most size completed lines.
func NewScrollback(size int) *Scrollback {
	if size <= 0 {
		size = 1000
	}
	return &Scrollback{
		lines: make([]string, size),
		size:  size,
	}
}

// Write implements io.Writer. "\n" completes a line, a lone "\r" makes the
// next printable byte redraw the line, and "\b" erases one rune.
func (s *Scrollback) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range p {
		switch b {
		case '\n':
			s.commit()
		case '\r':
			s.pendingCR = true
		case '\b':
			s.pendingCR = false
			if len(s.cur) > 0 {
				_, w := utf8.DecodeLastRune(s.cur)
				s.cur = s.cur[:len(s.cur)-w]
			}
		default:
			if s.pendingCR {
				s.cur = s.cur[:0]
				s.pendingCR = false
			}
			if len(s.cur) >= MaxLineBytes && (utf8.RuneStart(b) || len(s.cur) >= MaxLineBytes+utf8.UTFMax) {
				s.commit()
			}
			s.cur = append(s.cur, b)
		}
	}
	return len(p), nil
}

func (s *Scrollback) commit() {
	s.lines[s.head] = string(s.cur)
	s.head = (s.head + 1) % s.size
	if s.count < s.size {
		s.count++
	}
	s.cur = s.cur[:0]
	s.pendingCR = false
}

// Lines returns up to n of the most recent lines, oldest first, with ANSI
// escape sequences removed. The unfinished line is included when non-empty.
// n <= 0 returns everything.
func (s *Scrollback) Lines(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]string, 0, s.count+1)
	start := (s.head - s.count + s.size) % s.size
	for i := 0; i < s.count; i++ {
		all = append(all, ansi.Strip(s.lines[(start+i)%s.size]))
	}
	if len(s.cur) > 0 {
		all = append(all, ansi.Strip(string(s.cur)))
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Len returns the number of completed lines held.
func (s *Scrollback) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Reset clears the buffer.
func (s *Scrollback) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.head = 0
	s.count = 0
	s.cur = s.cur[:0]
	s.pendingCR = false
}

// Capacity returns the maximum number of completed lines.
func (s *Scrollback) Capacity() int {
	return s.size
}
