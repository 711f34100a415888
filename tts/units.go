package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultWindowSize is the number of units delivered per window.
const DefaultWindowSize = 5

// Unit is one whitespace-delimited token of the full text.
type Unit struct {
	Index int    // Position within the full text (0-based)
	Text  string // Original surface form, punctuation included
}

// CacheKey identifies a synthesized artifact in the unit store.
type CacheKey string

// PauseClass is the semantic pause that follows a unit during playback.
type PauseClass int

const (
	// PauseShort follows ordinary words.
	PauseShort PauseClass = iota
	// PauseMedium follows clause separators (, ; :).
	PauseMedium
	// PauseLong follows sentence endings (. ! ?).
	PauseLong
)

// String returns the string representation of the pause class.
func (p PauseClass) String() string {
	switch p {
	case PauseShort:
		return "short"
	case PauseMedium:
		return "medium"
	case PauseLong:
		return "long"
	default:
		return "unknown"
	}
}

// Split breaks text into units on whitespace. Empty tokens are dropped.
func Split(text string) []Unit {
	fields := strings.Fields(text)
	units := make([]Unit, len(fields))
	for i, f := range fields {
		units[i] = Unit{Index: i, Text: f}
	}
	return units
}

// Normalize returns the case-folded, letters-and-digits-only form of text.
// Two units with the same normalized form share one cached artifact.
func Normalize(text string) string {
	folded := cases.Fold().String(norm.NFC.String(text))

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Key derives the cache key for a unit's surface form. Units with nothing
// speakable get the empty key.
func Key(text string) CacheKey {
	n := Normalize(text)
	if n == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(n))
	return CacheKey(hex.EncodeToString(hash[:16]))
}

// closers are skipped when looking for the punctuation that ends a unit.
const closers = "\"')]}»”’"

// PauseFor classifies the trailing punctuation of the original surface form.
func PauseFor(text string) PauseClass {
	trimmed := strings.TrimRight(text, closers)
	if trimmed == "" {
		return PauseShort
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?', '…':
		return PauseLong
	case ',', ';', ':':
		return PauseMedium
	default:
		return PauseShort
	}
}

// IsDecoration reports whether a unit carries no speech: emoji-only tokens and
// anything else without a letter or digit.
func IsDecoration(text string) bool {
	return Normalize(text) == ""
}

// Speakable returns the text handed to the synthesizer for a unit. The word is
// stripped of surrounding punctuation and elongated so single-word synthesis
// comes out clearly enunciated; the suffix follows the pause class.
func Speakable(text string) string {
	clean := strings.Trim(text, ".,!?;:\"'()[]{}")
	if clean == "" {
		clean = text
	}
	switch PauseFor(text) {
	case PauseLong:
		return clean + "... ."
	case PauseMedium:
		return clean + "... ,"
	default:
		return clean + "..."
	}
}

// Window is a contiguous run of unit indices [Start, End).
type Window struct {
	Index int
	Start int
	End   int
}

// Len returns the number of units in the window.
func (w Window) Len() int { return w.End - w.Start }

// Contains reports whether the unit index falls inside the window.
func (w Window) Contains(index int) bool { return index >= w.Start && index < w.End }

// WindowCount returns how many windows of size cover n units.
func WindowCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// WindowAt returns window idx over n units, or ErrOutOfRange.
func WindowAt(idx, n, size int) (Window, error) {
	if size <= 0 || idx < 0 || idx*size >= n {
		return Window{}, ErrOutOfRange
	}
	end := idx*size + size
	if end > n {
		end = n
	}
	return Window{Index: idx, Start: idx * size, End: end}, nil
}

// WindowOf returns the index of the window containing unit index.
func WindowOf(index, size int) int {
	if size <= 0 || index < 0 {
		return 0
	}
	return index / size
}

// Partition splits n units into consecutive windows of at most size units.
func Partition(n, size int) []Window {
	count := WindowCount(n, size)
	windows := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		w, _ := WindowAt(i, n, size)
		windows = append(windows, w)
	}
	return windows
}
