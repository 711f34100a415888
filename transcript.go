package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/dgnsrekt/wordcast/tts"
)

// transcript prints the text as it is read. On a terminal it redraws the
// current window in place with the spoken word highlighted; otherwise it
// prints one word per line.
type transcript struct {
	w     io.Writer
	units []tts.Unit
	size  int
	tty   bool
	hi    lipgloss.Style

	mu     sync.Mutex
	window int
}

func newTranscript(w io.Writer, units []tts.Unit, size int, tty bool, color string) *transcript {
	return &transcript{
		w:      w,
		units:  units,
		size:   size,
		tty:    tty,
		hi:     highlightStyle(color),
		window: -1,
	}
}

// line renders the window holding index with that unit highlighted.
func (t *transcript) line(index int) string {
	win, err := tts.WindowAt(tts.WindowOf(index, t.size), len(t.units), t.size)
	if err != nil {
		return ""
	}
	parts := make([]string, 0, win.Len())
	for _, u := range t.units[win.Start:win.End] {
		if u.Index == index {
			parts = append(parts, t.hi.Render(u.Text))
			continue
		}
		parts = append(parts, faintStyle.Render(u.Text))
	}
	return strings.Join(parts, " ")
}

func (t *transcript) highlight(index int) {
	if index < 0 || index >= len(t.units) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.tty {
		_, _ = fmt.Fprintln(t.w, t.units[index].Text)
		return
	}

	w := tts.WindowOf(index, t.size)
	if t.window >= 0 && w != t.window {
		_, _ = fmt.Fprint(t.w, "\r\n")
	}
	t.window = w
	_, _ = fmt.Fprintf(t.w, "\r\x1b[K%s", t.line(index))
}

// note prints msg on its own line below the current window.
func (t *transcript) note(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.tty {
		_, _ = fmt.Fprintln(t.w, msg)
		return
	}
	_, _ = fmt.Fprintf(t.w, "\r\n%s", faintStyle.Render(msg))
	t.window = -1
}

// done ends the last line.
func (t *transcript) done() {
	if t.tty {
		_, _ = fmt.Fprint(t.w, "\r\n")
	}
}
