package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dgnsrekt/wordcast/internal/window"
	"github.com/dgnsrekt/wordcast/tts"
)

func TestTranscriptLine(t *testing.T) {
	units := tts.Split("one two three four five six seven")
	tr := newTranscript(&bytes.Buffer{}, units, 3, true, "212")

	tests := []struct {
		index int
		want  []string
		not   []string
	}{
		{0, []string{"one", "two", "three"}, []string{"four"}},
		{4, []string{"four", "five", "six"}, []string{"three", "seven"}},
		{6, []string{"seven"}, []string{"six"}},
	}
	for _, tt := range tests {
		line := tr.line(tt.index)
		for _, w := range tt.want {
			if !strings.Contains(line, w) {
				t.Errorf("line(%d) = %q, missing %q", tt.index, line, w)
			}
		}
		for _, w := range tt.not {
			if strings.Contains(line, w) {
				t.Errorf("line(%d) = %q, should not contain %q", tt.index, line, w)
			}
		}
	}

	if got := tr.line(99); got != "" {
		t.Errorf("line(99) = %q, want empty", got)
	}
}

func TestTranscriptPlain(t *testing.T) {
	var buf bytes.Buffer
	tr := newTranscript(&buf, tts.Split("Hello there, friend."), 5, false, "212")

	tr.highlight(0)
	tr.highlight(1)
	tr.highlight(7) // ignored
	tr.note("paused")
	tr.done()

	want := "Hello\nthere,\npaused\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestTranscriptRedraw(t *testing.T) {
	var buf bytes.Buffer
	tr := newTranscript(&buf, tts.Split("a b c d"), 2, true, "212")

	tr.highlight(0)
	tr.highlight(1)
	if strings.Contains(buf.String(), "\n") {
		t.Errorf("same window should redraw in place, got %q", buf.String())
	}
	tr.highlight(2)
	if strings.Count(buf.String(), "\r\n") != 1 {
		t.Errorf("new window should start a new line, got %q", buf.String())
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		r    window.Result
		want string
	}{
		{window.Result{}, "synthesized"},
		{window.Result{Cached: true}, "cached"},
		{window.Result{Decoration: true}, "decoration"},
		{window.Result{Err: &tts.UnitError{Index: 1, Err: tts.ErrAdapterUnavailable}}, "failed: adapter_unavailable"},
	}
	for _, tt := range tests {
		if got := outcome(tt.r); got != tt.want {
			t.Errorf("outcome(%+v) = %q, want %q", tt.r, got, tt.want)
		}
	}
}

func TestResultTable(t *testing.T) {
	units := tts.Split("Hi, you.")
	results := []window.Result{
		{Unit: units[0], Pause: tts.PauseMedium, Audio: make([]byte, 2048)},
		{Unit: units[1], Pause: tts.PauseLong, Cached: true},
	}
	out := resultTable(results, 5)
	for _, want := range []string{"WORD", "Hi,", "you.", "medium", "long", "cached", "2.0 kB"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
